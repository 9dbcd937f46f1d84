package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
)

func directComponent() *component {
	return &component{
		scheme:      "direct",
		title:       "Direct",
		syntax:      "direct:name",
		description: "Call another route synchronously from the same context.",
		options: []OptionSchema{
			{Name: "name", Kind: "path", Group: "common", Type: "string", JavaType: "java.lang.String",
				Description: "Name of the direct endpoint."},
		},
		create: func(*Service, endpointURI) (Endpoint, error) {
			return &directEndpoint{}, nil
		},
	}
}

// directEndpoint hands exchanges to its consumer on the caller's goroutine.
type directEndpoint struct {
	endpointBase

	mu       sync.RWMutex
	consumer *directConsumer
}

// Send runs the consuming route synchronously. A failure inside that route
// is reported on ex.Err, not as the returned error.
func (e *directEndpoint) Send(ctx context.Context, ex *exchangepkg.Exchange) error {
	e.mu.RLock()
	c := e.consumer
	e.mu.RUnlock()
	if c == nil || !c.IsStarted() {
		return fmt.Errorf("%w: %s", errspkg.ErrNoConsumers, e.URI())
	}
	c.route.handle(ctx, ex)
	return nil
}

func (e *directEndpoint) newConsumer(r *route) (consumer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumer != nil && e.consumer.route != r {
		return nil, fmt.Errorf("%w: %s is consumed by route %s", errspkg.ErrMultipleConsumers, e.URI(), e.consumer.route.id)
	}
	c := &directConsumer{endpoint: e, route: r}
	e.consumer = c
	return c, nil
}

type directConsumer struct {
	endpoint *directEndpoint
	route    *route
	started  atomic.Bool
}

func (c *directConsumer) Start(context.Context) error {
	c.started.Store(true)
	return nil
}

func (c *directConsumer) Stop(context.Context) error {
	c.started.Store(false)
	return nil
}

func (c *directConsumer) Close() error {
	c.started.Store(false)
	c.endpoint.mu.Lock()
	if c.endpoint.consumer == c {
		c.endpoint.consumer = nil
	}
	c.endpoint.mu.Unlock()
	return nil
}

func (c *directConsumer) Endpoint() Endpoint { return c.endpoint }
func (c *directConsumer) IsStarted() bool    { return c.started.Load() }
