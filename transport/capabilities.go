package transport

// Capabilities describes the delivery guarantees of a transport backend.
type Capabilities struct {
	Name string `json:"name"`

	// SupportsOrdering indicates messages of one topic/partition arrive in
	// publish order.
	SupportsOrdering bool `json:"ordering"`

	// SupportsTracing indicates metadata (and with it correlation ids) is
	// carried end to end.
	SupportsTracing bool `json:"tracing"`

	SupportsBatching bool `json:"batching"`

	// SupportsAck and SupportsNack report explicit acknowledgement and
	// redelivery.
	SupportsAck  bool `json:"ack"`
	SupportsNack bool `json:"nack"`

	SupportsPartitioning bool `json:"partitioning"`

	// MaxMessageSize in bytes, 0 when unlimited or unknown.
	MaxMessageSize int64 `json:"max_message_size,omitempty"`
}

// SupportsReliableDelivery reports at-least-once delivery (ack + nack). The
// receivers' retry policy only protects events on such transports.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsBatching:     true,
		SupportsAck:          true,
		SupportsNack:         true,
		SupportsPartitioning: true,
		MaxMessageSize:       1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:            "rabbitmq",
		SupportsTracing: true,
		SupportsAck:     true,
		SupportsNack:    true,
		MaxMessageSize:  134217728,
	}

	// Core NATS without JetStream: delivery is at most once.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576,
	}

	// HTTP delivery is fire and forget: a failed handler is answered with an
	// error status but never redelivered.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}
)
