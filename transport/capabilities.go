package transport

// Capabilities describes what a transport backend supports. The broker
// endpoint reports them as managed attributes.
type Capabilities struct {
	Name string

	SupportsDelay     bool
	SupportsNativeDLQ bool
	SupportsOrdering  bool
	SupportsTracing   bool
	SupportsBatching  bool
	SupportsAck       bool
	SupportsNack      bool

	// MaxMessageSize in bytes, 0 when unlimited or unknown.
	MaxMessageSize int64
}

// RequiresDLQEmulation reports whether dead letters must be routed by the
// error handler rather than the broker.
func (c Capabilities) RequiresDLQEmulation() bool {
	return !c.SupportsNativeDLQ
}

// SupportsReliableDelivery reports at-least-once delivery (ack and nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Attributes renders the capabilities as managed attribute values.
func (c Capabilities) Attributes() map[string]any {
	return map[string]any{
		"TransportName":     c.Name,
		"SupportsDelay":     c.SupportsDelay,
		"SupportsNativeDLQ": c.SupportsNativeDLQ,
		"SupportsOrdering":  c.SupportsOrdering,
		"SupportsAck":       c.SupportsAck,
		"SupportsNack":      c.SupportsNack,
		"MaxMessageSize":    c.MaxMessageSize,
	}
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsBatching: true,
		SupportsAck:      true,
		MaxMessageSize:   1 << 20,
	}

	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		SupportsAck:       true,
		SupportsNack:      true,
	}

	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1 << 20,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
		MaxMessageSize:   1 << 20,
	}

	AWSCapabilities = Capabilities{
		Name:              "aws",
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		SupportsBatching:  true,
		SupportsAck:       true,
		SupportsNack:      true,
		MaxMessageSize:    256 << 10,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
	}

	RedisCapabilities = Capabilities{
		Name:             "redis",
		SupportsOrdering: true,
		SupportsBatching: true,
		SupportsAck:      true,
		SupportsNack:     true,
		MaxMessageSize:   512 << 20,
	}
)
