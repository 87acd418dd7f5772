package receivers

import (
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"

	loggingpkg "github.com/drblury/txnode/internal/runtime/logging"
	metadatapkg "github.com/drblury/txnode/internal/runtime/metadata"
)

const (
	outcomeForwarded = "forwarded"
	outcomeDropped   = "dropped"
)

// PoisonStats counts the events a receiver gave up on.
type PoisonStats struct {
	Forwarded uint64    `json:"forwarded"`
	Dropped   uint64    `json:"dropped"`
	LastAt    time.Time `json:"last_at,omitempty"`
}

type poisonTracker struct {
	mu    sync.Mutex
	stats PoisonStats

	// nil without a registerer
	total    *prometheus.CounterVec
	attempts *prometheus.HistogramVec
}

func newPoisonTracker(reg prometheus.Registerer, namespace string) (*poisonTracker, error) {
	t := &poisonTracker{}
	if reg == nil {
		return t, nil
	}
	total, err := registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "poisoned_total",
		Help:      "Events that still failed after their retries, by topic and outcome.",
	}, []string{"topic", "outcome"}))
	if err != nil {
		return nil, err
	}
	attempts, err := registerCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "poisoned_handling_seconds",
		Help:      "Time spent on an event before it was given up on.",
		Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120},
	}, []string{"topic"}))
	if err != nil {
		return nil, err
	}
	t.total = total
	t.attempts = attempts
	return t, nil
}

// registerCollector registers c, reusing an identical collector registered by
// another receiver.
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

func (t *poisonTracker) record(topic, outcome string, spent time.Duration) {
	t.mu.Lock()
	switch outcome {
	case outcomeForwarded:
		t.stats.Forwarded++
	case outcomeDropped:
		t.stats.Dropped++
	}
	t.stats.LastAt = time.Now()
	t.mu.Unlock()

	if t.total != nil {
		t.total.WithLabelValues(topic, outcome).Inc()
		t.attempts.WithLabelValues(topic).Observe(spent.Seconds())
	}
}

func (t *poisonTracker) snapshot() PoisonStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// PoisonStats reports how many events this receiver forwarded to the poison
// topic or dropped.
func (r *EventReceiver) PoisonStats() PoisonStats {
	return r.poison.snapshot()
}

// PoisonMiddleware handles events whose processing still fails after the
// inner middlewares gave up. They go to the poison topic when one is
// configured and are acknowledged with an error log otherwise.
func PoisonMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison",
		Builder: func(r *EventReceiver) (message.HandlerMiddleware, error) {
			if r.opts.PoisonPublisher != nil && r.opts.PoisonTopic != "" {
				forward, err := middleware.PoisonQueue(r.opts.PoisonPublisher, r.opts.PoisonTopic)
				if err != nil {
					return nil, err
				}
				return r.forwardPoisoned(forward), nil
			}
			return r.dropPoisoned, nil
		},
	}
}

func (r *EventReceiver) forwardPoisoned(forward message.HandlerMiddleware) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			var failed bool
			out, err := forward(func(m *message.Message) ([]*message.Message, error) {
				out, err := h(m)
				failed = err != nil
				return out, err
			})(msg)
			if failed && err == nil {
				r.logger.Error("Forwarded event to poison topic", nil, loggingpkg.LogFields{
					"message_uuid":   msg.UUID,
					"correlation_id": msg.Metadata.Get(metadatapkg.KeyCorrelationID),
					"poison_topic":   r.opts.PoisonTopic,
				})
				r.poison.record(r.topic, outcomeForwarded, time.Since(start))
			}
			return out, err
		}
	}
}

func (r *EventReceiver) dropPoisoned(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		start := time.Now()
		out, err := h(msg)
		if err != nil {
			r.logger.Error("Dropping event after failed retries", err, loggingpkg.LogFields{
				"message_uuid":   msg.UUID,
				"correlation_id": msg.Metadata.Get(metadatapkg.KeyCorrelationID),
			})
			r.poison.record(r.topic, outcomeDropped, time.Since(start))
			return nil, nil
		}
		return out, nil
	}
}
