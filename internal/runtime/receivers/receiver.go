// Package receivers runs the node's event-driven background units. Each
// EventReceiver consumes one topic of the configured event transport through
// a Watermill router.
package receivers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/txnode/internal/runtime/errors"
	idspkg "github.com/drblury/txnode/internal/runtime/ids"
	loggingpkg "github.com/drblury/txnode/internal/runtime/logging"
	metadatapkg "github.com/drblury/txnode/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a handler middleware for a receiver. A nil
// middleware with a nil error skips the registration.
type MiddlewareBuilder func(*EventReceiver) (message.HandlerMiddleware, error)

// MiddlewareRegistration names one router middleware. The first registration
// wraps all later ones.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryConfig customises the retry middleware behaviour.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * time.Second
	}
	return cfg
}

type Options struct {
	Name       string
	Topic      string
	Subscriber message.Subscriber
	Logger     loggingpkg.ServiceLogger
	Retry      RetryConfig

	// PoisonPublisher and PoisonTopic forward events that exhausted their
	// retries. Without them such events are logged and dropped.
	PoisonPublisher message.Publisher
	PoisonTopic     string

	// Registerer enables router metrics when set.
	Registerer       prometheus.Registerer
	MetricsNamespace string

	// Middlewares replaces DefaultMiddlewares when non-nil.
	Middlewares []MiddlewareRegistration
}

// EventReceiver is a runner unit bound to one topic.
type EventReceiver struct {
	name   string
	topic  string
	opts   Options
	logger loggingpkg.ServiceLogger
	router *message.Router
	poison *poisonTracker
}

// New builds the router and binds handler to opts.Topic.
func New(opts Options, handler message.NoPublishHandlerFunc) (*EventReceiver, error) {
	if opts.Subscriber == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if opts.Topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if opts.Name == "" {
		opts.Name = opts.Topic
	}
	if opts.Logger == nil {
		opts.Logger = loggingpkg.NewDiscardLogger()
	}
	if opts.MetricsNamespace == "" {
		opts.MetricsNamespace = "txnode"
	}

	logger := opts.Logger.With(loggingpkg.LogFields{"receiver": opts.Name, "topic": opts.Topic})
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 5 * time.Second}, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		return nil, err
	}

	r := &EventReceiver{
		name:   opts.Name,
		topic:  opts.Topic,
		opts:   opts,
		logger: logger,
		router: router,
	}
	if r.poison, err = newPoisonTracker(opts.Registerer, opts.MetricsNamespace); err != nil {
		return nil, err
	}

	registrations := opts.Middlewares
	if registrations == nil {
		registrations = DefaultMiddlewares()
	}
	for _, reg := range registrations {
		if err := r.registerMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return nil, fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}

	router.AddNoPublisherHandler(opts.Name, opts.Topic, opts.Subscriber, handler)
	return r, nil
}

func (r *EventReceiver) Name() string { return r.name }

func (r *EventReceiver) Topic() string { return r.topic }

// Running is closed once the router has subscribed and is processing events.
func (r *EventReceiver) Running() chan struct{} {
	return r.router.Running()
}

// Run consumes events until ctx is cancelled.
func (r *EventReceiver) Run(ctx context.Context) error {
	r.logger.Info("Starting event receiver", nil)
	if err := r.router.Run(ctx); err != nil {
		return fmt.Errorf("receiver %s: %w", r.name, err)
	}
	return nil
}

func (r *EventReceiver) registerMiddleware(reg MiddlewareRegistration) error {
	mw := reg.Middleware
	if reg.Builder != nil {
		built, err := reg.Builder(r)
		if err != nil {
			return err
		}
		mw = built
	}
	if mw == nil {
		if reg.Builder != nil {
			return nil
		}
		return errors.New("middleware or builder is required")
	}
	r.router.AddMiddleware(mw)
	return nil
}

// DefaultMiddlewares returns the chain installed when Options.Middlewares is
// nil.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(),
		TracerMiddleware(),
		MetricsMiddleware(),
		PoisonMiddleware(),
		RetryMiddleware(),
		RecovererMiddleware(),
	}
}

// CorrelationIDMiddleware ensures each event carries a correlation id and
// exposes it on the message context.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(h message.HandlerFunc) message.HandlerFunc {
			return func(msg *message.Message) ([]*message.Message, error) {
				id := msg.Metadata.Get(metadatapkg.KeyCorrelationID)
				if id == "" {
					id = idspkg.CreateULID()
					msg.Metadata.Set(metadatapkg.KeyCorrelationID, id)
				}
				msg.SetContext(idspkg.WithCorrelationID(msg.Context(), id))
				return h(msg)
			}
		},
	}
}

// LogMessagesMiddleware logs the payload and metadata of handled events.
func LogMessagesMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(r *EventReceiver) (message.HandlerMiddleware, error) {
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					r.logger.Debug("Processing event", loggingpkg.LogFields{
						"message_uuid": msg.UUID,
						"payload":      string(msg.Payload),
						"metadata":     msg.Metadata,
					})
					return h(msg)
				}
			}, nil
		},
	}
}

// TracerMiddleware wraps event handling with an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(r *EventReceiver) (message.HandlerMiddleware, error) {
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					ctx, span := otel.Tracer("txnode-events-tracer").Start(
						msg.Context(),
						"receive "+r.topic,
						trace.WithSpanKind(trace.SpanKindConsumer),
					)
					defer span.End()
					msg.SetContext(ctx)

					span.SetAttributes(
						attribute.String("messaging.destination", r.topic),
						attribute.String("message.uuid", msg.UUID),
						attribute.String("message.correlation_id", msg.Metadata.Get(metadatapkg.KeyCorrelationID)),
					)
					out, err := h(msg)
					if err != nil {
						span.SetStatus(codes.Error, err.Error())
					}
					return out, err
				}
			}, nil
		},
	}
}

// MetricsMiddleware adds Watermill's Prometheus router metrics when a
// registerer is configured.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(r *EventReceiver) (message.HandlerMiddleware, error) {
			if r.opts.Registerer == nil {
				return nil, nil
			}
			builder := metrics.NewPrometheusMetricsBuilder(r.opts.Registerer, r.opts.MetricsNamespace, "events")
			builder.AddPrometheusRouterMetrics(r.router)
			return nil, nil
		},
	}
}

// RetryMiddleware retries failed events with exponential backoff.
func RetryMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(r *EventReceiver) (message.HandlerMiddleware, error) {
			cfg := r.opts.Retry.withDefaults()
			return middleware.Retry{
				MaxRetries:      cfg.MaxRetries,
				InitialInterval: cfg.InitialInterval,
				MaxInterval:     cfg.MaxInterval,
				Multiplier:      2,
				ShouldRetry: func(params middleware.RetryParams) bool {
					if cfg.RetryIf != nil {
						return cfg.RetryIf(params.Err)
					}
					return true
				},
			}.Middleware, nil
		},
	}
}

// RecovererMiddleware converts handler panics into errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}
