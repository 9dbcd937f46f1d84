package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	"github.com/drblury/flowscope/internal/runtime/events"
	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
	"github.com/drblury/flowscope/internal/runtime/metadata"
)

func brokerComponent() *component {
	return &component{
		scheme:      "broker",
		title:       "Broker",
		syntax:      "broker:topic",
		description: "Send to and consume from a topic of the configured message broker transport.",
		options: []OptionSchema{
			{Name: "topic", Kind: "path", Group: "common", Type: "string", JavaType: "java.lang.String",
				Description: "Topic, queue or subject name on the broker."},
		},
		create: func(s *Service, _ endpointURI) (Endpoint, error) {
			return &brokerEndpoint{svc: s}, nil
		},
	}
}

// brokerEndpoint bridges routes to the transport selected by the Broker
// setting. Exchanges cross it encoded as watermill messages.
type brokerEndpoint struct {
	endpointBase
	svc *Service

	mu       sync.Mutex
	consumer *brokerConsumer
}

func (e *brokerEndpoint) topic() string { return e.uri.Path }

func (e *brokerEndpoint) Send(ctx context.Context, ex *exchangepkg.Exchange) error {
	tr, err := e.svc.brokerTransport(ctx)
	if err != nil {
		return err
	}
	msg, err := metadata.ToWatermill(ex)
	if err != nil {
		return err
	}
	if v, ok := ex.Property(exchangepkg.PropertyCorrelationID); ok {
		msg.Metadata.Set(metadata.KeyCorrelationID, fmt.Sprint(v))
	}
	msg.SetContext(ctx)
	if err := tr.Publisher.Publish(e.topic(), msg); err != nil {
		return fmt.Errorf("broker publish %s: %w", e.topic(), err)
	}
	return nil
}

func (e *brokerEndpoint) newConsumer(r *route) (consumer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumer != nil && e.consumer.route != r {
		return nil, fmt.Errorf("%w: %s is consumed by route %s", errspkg.ErrMultipleConsumers, e.URI(), e.consumer.route.id)
	}
	c := &brokerConsumer{endpoint: e, route: r}
	e.consumer = c
	return c, nil
}

// brokerConsumer processes each message synchronously inside the router
// handler, so the broker sees the ack only after the route finished.
type brokerConsumer struct {
	endpoint *brokerEndpoint
	route    *route

	mu      sync.Mutex
	router  *message.Router
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

func (c *brokerConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.Load() {
		return nil
	}
	s := c.endpoint.svc
	tr, err := s.brokerTransport(ctx)
	if err != nil {
		return err
	}
	router, err := s.newRouter()
	if err != nil {
		return err
	}
	router.AddNoPublisherHandler(
		fmt.Sprintf("broker-consumer(%s)", c.route.id),
		c.endpoint.topic(),
		keepOpenSubscriber{tr.Subscriber},
		c.handleMessage,
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.router = router
	go func(done chan struct{}) {
		defer close(done)
		if err := routerRun(router, runCtx); err != nil {
			s.Logger.Error("Broker consumer router stopped", err, loggingpkg.LogFields{
				loggingpkg.FieldRouteID:  c.route.id,
				loggingpkg.FieldEndpoint: c.endpoint.URI(),
			})
		}
	}(c.done)

	select {
	case <-router.Running():
	case <-c.done:
		return fmt.Errorf("broker consumer for %s exited during startup", c.endpoint.URI())
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
	c.started.Store(true)
	return nil
}

// handleMessage always acks: failures were already dealt with by the
// route's error handler.
func (c *brokerConsumer) handleMessage(msg *message.Message) error {
	s := c.endpoint.svc
	ex, err := metadata.FromWatermill(msg)
	if err != nil {
		s.Logger.Error("Dropping undecodable broker message", err, loggingpkg.LogFields{
			loggingpkg.FieldEndpoint: c.endpoint.URI(),
			"message_uuid":           msg.UUID,
		})
		return nil
	}
	ex.FromEndpoint = c.endpoint.URI()
	if id := msg.Metadata.Get(metadata.KeyCorrelationID); id != "" {
		ex.SetProperty(exchangepkg.PropertyCorrelationID, id)
	}
	ctx := msg.Context()
	s.publish(ctx, events.ForExchange(events.ExchangeCreated, ex))
	c.route.handle(ctx, ex)
	return nil
}

func (c *brokerConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started.Swap(false) {
		return nil
	}
	c.cancel()
	err := c.router.Close()
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (c *brokerConsumer) Close() error {
	c.endpoint.mu.Lock()
	if c.endpoint.consumer == c {
		c.endpoint.consumer = nil
	}
	c.endpoint.mu.Unlock()
	return nil
}

func (c *brokerConsumer) Endpoint() Endpoint { return c.endpoint }
func (c *brokerConsumer) IsStarted() bool    { return c.started.Load() }
