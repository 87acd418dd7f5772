package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/drblury/txnode/internal/runtime/ids"
	loggingpkg "github.com/drblury/txnode/internal/runtime/logging"
)

// CallFunc handles one decoded call. It returns nil for notifications.
type CallFunc func(ctx context.Context, req *Request, meta Meta) *Response

// Middleware wraps a CallFunc. Middlewares must not mutate the request or
// the response they observe.
type Middleware func(next CallFunc) CallFunc

// MiddlewareBuilder constructs a middleware from the dispatcher being built.
// Returning a nil Middleware skips the registration.
type MiddlewareBuilder func(*Dispatcher) (Middleware, error)

// MiddlewareRegistration captures how a middleware is added to a Dispatcher.
type MiddlewareRegistration struct {
	Name       string
	Middleware Middleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard chain: instrumentation outermost,
// then tracing, then metrics.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		InstrumentationMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
	}
}

// InstrumentationMiddleware logs every call and its outcome under a fresh
// correlation id. A nil logger falls back to the dispatcher's logger.
func InstrumentationMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "instrumentation",
		Builder: func(d *Dispatcher) (Middleware, error) {
			l := logger
			if l == nil {
				l = d.logger
			}
			if l == nil {
				return nil, errors.New("instrumentation middleware requires a logger")
			}
			return instrumentation(l), nil
		},
	}
}

func instrumentation(logger loggingpkg.ServiceLogger) Middleware {
	return func(next CallFunc) CallFunc {
		return func(ctx context.Context, req *Request, meta Meta) *Response {
			correlationID := idspkg.NewCorrelationID()
			ctx = idspkg.WithCorrelationID(ctx, correlationID)
			log := logger.With(loggingpkg.LogFields{"correlation_id": correlationID})

			log.Info("rpc request", loggingpkg.LogFields{
				"method":      req.Method,
				"id":          string(req.ID),
				"params":      string(req.Params),
				"session":     meta.Session,
				"transport":   meta.Transport,
				"remote_addr": meta.RemoteAddr,
			})

			start := time.Now()
			completed := false
			defer func() {
				if completed {
					return
				}
				if r := recover(); r != nil {
					log.Error("rpc call panicked", fmt.Errorf("panic: %v", r), loggingpkg.LogFields{
						"method":          req.Method,
						"elapsed_seconds": time.Since(start).Seconds(),
					})
					panic(r)
				}
			}()

			resp := next(ctx, req, meta)
			completed = true

			fields := loggingpkg.LogFields{
				"method":          req.Method,
				"elapsed_seconds": time.Since(start).Seconds(),
			}
			switch {
			case resp == nil:
				fields["notification"] = true
			case resp.Error != nil:
				fields["error_code"] = resp.Error.Code
				fields["error_message"] = resp.Error.Message
				if resp.Error.Data != nil {
					fields["error_data"] = resp.Error.Data
				}
			default:
				fields["result"] = string(resp.Result)
			}
			log.Info("rpc response", fields)
			return resp
		}
	}
}

// TracerMiddleware wraps each call in an OpenTelemetry server span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Middleware: func(next CallFunc) CallFunc {
			return func(ctx context.Context, req *Request, meta Meta) *Response {
				tracer := otel.Tracer("txnode-jsonrpc-tracer")
				ctx, span := tracer.Start(
					ctx,
					"jsonrpc "+req.Method,
					trace.WithSpanKind(trace.SpanKindServer),
				)
				defer span.End()

				span.SetAttributes(
					attribute.String("rpc.system", "jsonrpc"),
					attribute.String("rpc.method", req.Method),
					attribute.String("rpc.transport", meta.Transport),
					attribute.Int64("rpc.session", int64(meta.Session)),
				)
				if correlationID := idspkg.CorrelationID(ctx); correlationID != "" {
					span.SetAttributes(attribute.String("rpc.correlation_id", correlationID))
				}

				resp := next(ctx, req, meta)
				if resp != nil && resp.Error != nil {
					span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", resp.Error.Code))
					span.SetStatus(codes.Error, resp.Error.Message)
				}
				return resp
			}
		},
	}
}

// MetricsMiddleware records call counts and latencies in Prometheus. It is
// skipped when the dispatcher has no registerer.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(d *Dispatcher) (Middleware, error) {
			if d.registerer == nil {
				return nil, nil
			}

			requests, err := registerCollector(d.registerer, newRequestsCounter(d.metricsNamespace))
			if err != nil {
				return nil, err
			}
			durations, err := registerCollector(d.registerer, newDurationHistogram(d.metricsNamespace))
			if err != nil {
				return nil, err
			}

			return func(next CallFunc) CallFunc {
				return func(ctx context.Context, req *Request, meta Meta) *Response {
					method := req.Method
					if !d.hasMethod(method) {
						method = "unknown"
					}
					start := time.Now()
					resp := next(ctx, req, meta)
					durations.WithLabelValues(method).Observe(time.Since(start).Seconds())
					requests.WithLabelValues(method, outcome(resp)).Inc()
					return resp
				}
			}, nil
		},
	}
}

func newRequestsCounter(namespace string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_requests_total",
		Help:      "JSON-RPC calls handled, by method and outcome.",
	}, []string{"method", "outcome"})
}

func newDurationHistogram(namespace string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rpc_request_duration_seconds",
		Help:      "JSON-RPC call latency, by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
}

func outcome(resp *Response) string {
	switch {
	case resp == nil:
		return "notification"
	case resp.Error != nil:
		return "error"
	default:
		return "success"
	}
}

// registerCollector registers c, reusing an identical collector that is
// already registered so several dispatchers can share one registry.
func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}
