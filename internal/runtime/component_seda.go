package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	"github.com/drblury/flowscope/internal/runtime/events"
	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
	"github.com/drblury/flowscope/internal/runtime/metadata"
)

const sedaTopicPrefix = "seda."

func sedaComponent() *component {
	return &component{
		scheme:      "seda",
		title:       "SEDA",
		syntax:      "seda:name",
		description: "Asynchronously call another route in the same context through an in-memory queue.",
		options: []OptionSchema{
			{Name: "name", Kind: "path", Group: "common", Type: "string", JavaType: "java.lang.String",
				Description: "Name of the queue."},
			{Name: "concurrentConsumers", Kind: "parameter", Group: "consumer", Type: "integer", JavaType: "int",
				DefaultValue: 1, Description: "Number of concurrent workers processing exchanges."},
			{Name: "timeout", Kind: "parameter", Group: "producer", Type: "duration", JavaType: "long",
				DefaultValue: "30s", Description: "How long a send waits for a worker to accept the exchange."},
		},
		create: func(s *Service, uri endpointURI) (Endpoint, error) {
			n, err := uri.intOption("concurrentConsumers", 1)
			if err != nil {
				return nil, err
			}
			if n < 1 {
				return nil, fmt.Errorf("%w: concurrentConsumers must be positive, was %d", errspkg.ErrInvalidArgument, n)
			}
			timeout := 30 * time.Second
			if v, ok := uri.option("timeout"); ok {
				d, err := time.ParseDuration(v)
				if err != nil {
					return nil, fmt.Errorf("%w: option timeout=%q: %v", errspkg.ErrInvalidArgument, v, err)
				}
				timeout = d
			}
			return &sedaEndpoint{svc: s, concurrentConsumers: n, timeout: timeout}, nil
		},
	}
}

// sedaEndpoint queues exchanges on the in-memory channel transport. The
// consumer sees a copy of the sent exchange; the copy itself never crosses
// the transport, only its id does, so bodies keep their Go types.
type sedaEndpoint struct {
	endpointBase
	svc                 *Service
	concurrentConsumers int
	timeout             time.Duration

	pending sync.Map // exchange id -> *exchangepkg.Exchange

	mu       sync.Mutex
	consumer *sedaConsumer
}

func (e *sedaEndpoint) topic() string { return sedaTopicPrefix + e.uri.Path }

func (e *sedaEndpoint) Send(ctx context.Context, ex *exchangepkg.Exchange) (err error) {
	e.mu.Lock()
	c := e.consumer
	e.mu.Unlock()
	if c == nil || !c.IsStarted() {
		return fmt.Errorf("%w: %s", errspkg.ErrNoConsumers, e.URI())
	}

	cp := ex.Copy()
	cp.FromEndpoint = e.URI()
	correlationID := ex.ID
	if v, ok := ex.Property(exchangepkg.PropertyCorrelationID); ok {
		if s, ok := v.(string); ok && s != "" {
			correlationID = s
		}
	}
	cp.SetProperty(exchangepkg.PropertyCorrelationID, correlationID)

	msg, err := metadata.ToWatermill(cp)
	if err != nil {
		return err
	}
	msg.Metadata.Set(metadata.KeyCorrelationID, correlationID)
	msg.SetContext(ctx)

	tr, err := e.svc.sedaTransport(ctx)
	if err != nil {
		return err
	}
	e.pending.Store(cp.ID, cp)
	defer func() {
		if err != nil {
			e.pending.Delete(cp.ID)
		}
	}()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("seda send %s: %w", e.URI(), err)
	}
	if err := tr.Publisher.Publish(e.topic(), msg); err != nil {
		return fmt.Errorf("seda publish %s: %w", e.URI(), err)
	}
	return nil
}

// dropPending forgets exchanges that were queued but never picked up. The
// in-memory channel discards them once no router consumes the topic.
func (e *sedaEndpoint) dropPending() int {
	n := 0
	e.pending.Range(func(k, _ any) bool {
		e.pending.Delete(k)
		n++
		return true
	})
	return n
}

// Exchanges lists the exchanges queued but not yet picked up by a worker,
// oldest first.
func (e *sedaEndpoint) Exchanges() []*exchangepkg.Exchange {
	var out []*exchangepkg.Exchange
	e.pending.Range(func(_, v any) bool {
		out = append(out, v.(*exchangepkg.Exchange))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

func (e *sedaEndpoint) newConsumer(r *route) (consumer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumer != nil && e.consumer.route != r {
		return nil, fmt.Errorf("%w: %s is consumed by route %s", errspkg.ErrMultipleConsumers, e.URI(), e.consumer.route.id)
	}
	c := &sedaConsumer{
		endpoint: e,
		route:    r,
		pool:     newWorkerPool("seda", r.id, e.concurrentConsumers),
	}
	e.consumer = c
	return c, nil
}

// sedaConsumer owns a watermill router for its single handler. Each start
// builds a fresh router because a closed router cannot be run again.
type sedaConsumer struct {
	endpoint *sedaEndpoint
	route    *route
	pool     *workerPool

	mu     sync.Mutex
	router *message.Router
	// runCtx is replaced only while no router is running.
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

func (c *sedaConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.Load() {
		return nil
	}
	s := c.endpoint.svc
	tr, err := s.sedaTransport(ctx)
	if err != nil {
		return err
	}
	router, err := s.newRouter()
	if err != nil {
		return err
	}
	router.AddNoPublisherHandler(
		fmt.Sprintf("seda-consumer(%s)", c.route.id),
		c.endpoint.topic(),
		keepOpenSubscriber{tr.Subscriber},
		c.handleMessage,
	)

	c.runCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.done = make(chan struct{})
	c.router = router
	go func(runCtx context.Context, done chan struct{}) {
		defer close(done)
		if err := routerRun(router, runCtx); err != nil {
			s.Logger.Error("SEDA consumer router stopped", err, loggingpkg.LogFields{
				loggingpkg.FieldRouteID:  c.route.id,
				loggingpkg.FieldEndpoint: c.endpoint.URI(),
			})
		}
	}(c.runCtx, c.done)

	select {
	case <-router.Running():
	case <-c.done:
		return fmt.Errorf("seda consumer for %s exited during startup", c.endpoint.URI())
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	}
	c.started.Store(true)
	return nil
}

func (c *sedaConsumer) handleMessage(msg *message.Message) error {
	s := c.endpoint.svc
	id := msg.Metadata.Get(metadata.KeyExchangeID)
	var ex *exchangepkg.Exchange
	if v, ok := c.endpoint.pending.LoadAndDelete(id); ok {
		ex = v.(*exchangepkg.Exchange)
	} else {
		decoded, err := metadata.FromWatermill(msg)
		if err != nil {
			s.Logger.Error("Dropping undecodable SEDA message", err, loggingpkg.LogFields{
				loggingpkg.FieldEndpoint: c.endpoint.URI(),
				"message_uuid":           msg.UUID,
			})
			return nil
		}
		ex = decoded
		ex.FromEndpoint = c.endpoint.URI()
	}

	ctx := trace.ContextWithSpan(c.runCtx, trace.SpanFromContext(msg.Context()))

	submitCtx, cancel := context.WithTimeout(ctx, c.endpoint.timeout)
	defer cancel()
	err := c.pool.submit(submitCtx, func() {
		s.publish(ctx, events.ForExchange(events.ExchangeCreated, ex))
		c.route.handle(ctx, ex)
	})
	if err != nil {
		s.Logger.Error("No SEDA worker accepted the exchange", err, loggingpkg.LogFields{
			loggingpkg.FieldRouteID:    c.route.id,
			loggingpkg.FieldExchangeID: ex.ID,
		})
	}
	return nil
}

// Stop closes the router and waits for in-flight exchanges until ctx is
// done. Exchanges parked by the debugger are released by the cancellation.
func (c *sedaConsumer) Stop(ctx context.Context) error {
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
	if waitErr := c.pool.wait(ctx); waitErr != nil && err == nil {
		err = waitErr
	}
	if n := c.endpoint.dropPending(); n > 0 {
		c.endpoint.svc.Logger.Info("Dropped queued SEDA exchanges", loggingpkg.LogFields{
			loggingpkg.FieldEndpoint: c.endpoint.URI(),
			"exchanges":              n,
		})
	}
	return err
}

func (c *sedaConsumer) Close() error {
	c.endpoint.mu.Lock()
	if c.endpoint.consumer == c {
		c.endpoint.consumer = nil
	}
	c.endpoint.mu.Unlock()
	return nil
}

func (c *sedaConsumer) Endpoint() Endpoint { return c.endpoint }
func (c *sedaConsumer) IsStarted() bool    { return c.started.Load() }

// keepOpenSubscriber hides Close from a router so a shared subscriber
// outlives the routers that use it.
type keepOpenSubscriber struct {
	message.Subscriber
}

func (keepOpenSubscriber) Close() error { return nil }
