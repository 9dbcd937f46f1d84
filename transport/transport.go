// Package transport defines the broker transports used by flowscope's
// broker: endpoints and event export. Each implementation lives in its own
// subpackage and registers a Builder with the transport registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both halves, returning the first error.
func (t Transport) Close() error {
	var first error
	if t.Publisher != nil {
		first = t.Publisher.Close()
	}
	if t.Subscriber != nil {
		if err := t.Subscriber.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Builder creates a transport from options.
type Builder func(ctx context.Context, opts Options, logger watermill.LoggerAdapter) (Transport, error)

// Options carries the settings of every built-in transport. A builder reads
// only its own group.
type Options struct {
	// Broker selects the registered transport.
	Broker string

	Kafka    KafkaOptions
	RabbitMQ RabbitMQOptions
	NATS     NATSOptions
	HTTP     HTTPOptions
	IO       IOOptions
	Redis    RedisOptions
	AWS      AWSOptions
}

type KafkaOptions struct {
	Brokers       []string
	ConsumerGroup string
}

type RabbitMQOptions struct {
	URL string
}

type NATSOptions struct {
	URL string

	// Stream, MaxDeliver and AckWait apply to nats-jetstream only. Zero
	// values select the transport defaults.
	Stream     string
	MaxDeliver int
	AckWait    time.Duration
}

type HTTPOptions struct {
	// ServerAddress is where the subscriber listens for webhook deliveries.
	ServerAddress string
	// PublisherURL is the base URL messages are posted to; the topic is appended.
	PublisherURL string
}

type IOOptions struct {
	File string
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Group is the consumer group used by subscribers.
	Group string
	// Consumer names this process inside the group.
	Consumer string
	// Block bounds a single XREADGROUP call.
	Block time.Duration
	// MaxLen trims streams approximately when positive.
	MaxLen int64
}

type AWSOptions struct {
	Region          string
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint optionally points to a custom endpoint such as LocalStack.
	Endpoint string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
