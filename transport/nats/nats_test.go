package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/flowscope/transport"
)

type mockPublisher struct{}

func (m *mockPublisher) Publish(string, ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                              { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }

func TestBuild(t *testing.T) {
	origPub, origSub := PublisherFactory, SubscriberFactory
	defer func() { PublisherFactory, SubscriberFactory = origPub, origSub }()

	PublisherFactory = func(cfg nats.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		assert.Equal(t, "nats://localhost:4222", cfg.URL)
		assert.Len(t, cfg.NatsOptions, 4)
		return &mockPublisher{}, nil
	}
	SubscriberFactory = func(cfg nats.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.NotNil(t, cfg.Unmarshaler)
		return &mockSubscriber{}, nil
	}

	tr, err := Build(context.Background(), transport.Options{NATS: transport.NATSOptions{URL: "nats://localhost:4222"}}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(context.Background(), transport.Options{}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "URL is required")

	origPub := PublisherFactory
	defer func() { PublisherFactory = origPub }()
	PublisherFactory = func(nats.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return nil, errors.New("no servers available")
	}
	_, err = Build(context.Background(), transport.Options{NATS: transport.NATSOptions{URL: "nats://x"}}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "no servers available")
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()
	assert.Equal(t, Capabilities(), transport.GetCapabilities(TransportName))
}
