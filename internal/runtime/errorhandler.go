package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	"github.com/drblury/flowscope/internal/runtime/events"
	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
)

// Error handler kinds.
const (
	KindDefaultErrorHandler = "DefaultErrorHandler"
	KindDeadLetterChannel   = "DeadLetterChannel"
	KindNoErrorHandler      = "NoErrorHandler"
)

// RedeliverForever as MaximumRedeliveries retries until the node succeeds or
// the exchange context is cancelled.
const RedeliverForever = -1

// RedeliveryPolicy controls how often and how fast a failed node is retried
// before the error handler gives up.
type RedeliveryPolicy struct {
	MaximumRedeliveries    int
	RedeliveryDelay        time.Duration
	BackOffMultiplier      float64
	MaximumRedeliveryDelay time.Duration
	UseExponentialBackOff  bool
}

// maxTries counts the first attempt. Zero is unbounded for backoff.Retry.
func (p RedeliveryPolicy) maxTries() uint {
	if p.MaximumRedeliveries == RedeliverForever {
		return 0
	}
	return uint(p.MaximumRedeliveries + 1)
}

func (p RedeliveryPolicy) backOff() backoff.BackOff {
	if !p.UseExponentialBackOff {
		return backoff.NewConstantBackOff(p.RedeliveryDelay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.RedeliveryDelay
	b.RandomizationFactor = 0
	b.Multiplier = p.BackOffMultiplier
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	if p.MaximumRedeliveryDelay > 0 {
		b.MaxInterval = p.MaximumRedeliveryDelay
	}
	return b
}

// ErrorHandlerBuilder declares the error handler of a route.
type ErrorHandlerBuilder struct {
	kind          string
	deadLetterURI string
	overrides     []func(*RedeliveryPolicy)
}

// DefaultErrorHandler retries per policy and then fails the exchange.
func DefaultErrorHandler() *ErrorHandlerBuilder {
	return &ErrorHandlerBuilder{kind: KindDefaultErrorHandler}
}

// DeadLetterChannel retries per policy and then moves the exchange to uri,
// marking the failure handled.
func DeadLetterChannel(uri string) *ErrorHandlerBuilder {
	return &ErrorHandlerBuilder{kind: KindDeadLetterChannel, deadLetterURI: uri}
}

// NoErrorHandler fails the exchange on the first error.
func NoErrorHandler() *ErrorHandlerBuilder {
	return &ErrorHandlerBuilder{kind: KindNoErrorHandler}
}

func (b *ErrorHandlerBuilder) MaximumRedeliveries(n int) *ErrorHandlerBuilder {
	return b.override(func(p *RedeliveryPolicy) { p.MaximumRedeliveries = n })
}

func (b *ErrorHandlerBuilder) RedeliveryDelay(d time.Duration) *ErrorHandlerBuilder {
	return b.override(func(p *RedeliveryPolicy) { p.RedeliveryDelay = d })
}

func (b *ErrorHandlerBuilder) BackOffMultiplier(m float64) *ErrorHandlerBuilder {
	return b.override(func(p *RedeliveryPolicy) { p.BackOffMultiplier = m })
}

func (b *ErrorHandlerBuilder) MaximumRedeliveryDelay(d time.Duration) *ErrorHandlerBuilder {
	return b.override(func(p *RedeliveryPolicy) { p.MaximumRedeliveryDelay = d })
}

func (b *ErrorHandlerBuilder) UseExponentialBackOff() *ErrorHandlerBuilder {
	return b.override(func(p *RedeliveryPolicy) { p.UseExponentialBackOff = true })
}

func (b *ErrorHandlerBuilder) override(fn func(*RedeliveryPolicy)) *ErrorHandlerBuilder {
	b.overrides = append(b.overrides, fn)
	return b
}

// basePolicy derives the context wide redelivery defaults from the config.
func (s *Service) basePolicy() RedeliveryPolicy {
	p := RedeliveryPolicy{
		MaximumRedeliveries:    s.Conf.RetryMaxRetries,
		RedeliveryDelay:        s.Conf.RetryInitialInterval,
		MaximumRedeliveryDelay: s.Conf.RetryMaxInterval,
		BackOffMultiplier:      2,
	}
	if p.MaximumRedeliveryDelay > 0 && p.MaximumRedeliveryDelay > p.RedeliveryDelay {
		p.UseExponentialBackOff = true
	}
	return p
}

func (s *Service) buildErrorHandler(b *ErrorHandlerBuilder, r *route) (*errorHandler, error) {
	h := &errorHandler{kind: b.kind, svc: s, route: r, policy: s.basePolicy()}
	for _, fn := range b.overrides {
		fn(&h.policy)
	}
	if h.policy.MaximumRedeliveries < RedeliverForever {
		return nil, fmt.Errorf("%w: MaximumRedeliveries %d, use %d to redeliver forever",
			errspkg.ErrInvalidArgument, h.policy.MaximumRedeliveries, RedeliverForever)
	}
	if b.kind == KindDeadLetterChannel {
		ep, err := s.endpoint(b.deadLetterURI, true)
		if err != nil {
			return nil, fmt.Errorf("dead letter channel: %w", err)
		}
		h.deadLetter = ep
	}
	return h, nil
}

type outcome struct {
	failed bool
	cause  error
}

// errorHandler wraps every node of one route.
type errorHandler struct {
	kind       string
	svc        *Service
	route      *route
	deadLetter Endpoint

	mu     sync.RWMutex
	policy RedeliveryPolicy

	handled      atomic.Int64
	redeliveries atomic.Int64
}

func (h *errorHandler) Policy() RedeliveryPolicy {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.policy
}

func (h *errorHandler) SetPolicy(p RedeliveryPolicy) {
	h.mu.Lock()
	h.policy = p
	h.mu.Unlock()
}

func (h *errorHandler) deadLetterURI() string {
	if h.deadLetter == nil {
		return ""
	}
	return h.deadLetter.URI()
}

// handle runs n.process under the redelivery policy. A failure that comes
// back from a nested route is not redelivered here; that route's own error
// handler already exhausted its attempts.
func (h *errorHandler) handle(ctx context.Context, n *node, ex *exchangepkg.Exchange) outcome {
	if h.kind == KindNoErrorHandler {
		if err := invoke(ctx, n, ex); err != nil {
			ex.Err = err
		}
		return outcome{failed: ex.Failed(), cause: ex.Err}
	}

	policy := h.Policy()
	s := h.svc
	attempt := 0
	op := func() (struct{}, error) {
		ex.Err = nil
		err := invoke(ctx, n, ex)
		if err == nil && ex.Failed() {
			return struct{}{}, backoff.Permanent(ex.Err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(policy.maxTries()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			attempt++
			h.redeliveries.Add(1)
			ex.SetRedeliveryCount(attempt)
			s.publish(ctx, events.ForExchange(events.ExchangeRedelivery, ex).
				WithRouteID(h.route.id).
				WithAttempt(attempt).
				WithError(err))
			s.Logger.Debug("Redelivering exchange", loggingpkg.LogFields{
				loggingpkg.FieldRouteID:    h.route.id,
				loggingpkg.FieldNodeID:     n.id,
				loggingpkg.FieldExchangeID: ex.ID,
				"attempt":                  attempt,
				"delay":                    next.String(),
			})
		}),
	)
	if err == nil {
		return outcome{}
	}
	ex.Err = err

	if h.kind == KindDeadLetterChannel {
		h.toDeadLetter(ctx, n, ex, err)
		return outcome{failed: true, cause: err}
	}
	s.Logger.Error("Exchange failed", err, loggingpkg.LogFields{
		loggingpkg.FieldRouteID:    h.route.id,
		loggingpkg.FieldNodeID:     n.id,
		loggingpkg.FieldExchangeID: ex.ID,
		"redeliveries":             attempt,
	})
	return outcome{failed: true, cause: err}
}

// toDeadLetter moves a failed exchange to the dead letter endpoint. When the
// delivery succeeds the failure counts as handled and ex.Err is cleared.
func (h *errorHandler) toDeadLetter(ctx context.Context, n *node, ex *exchangepkg.Exchange, cause error) {
	s := h.svc
	uri := h.deadLetterURI()
	s.publish(ctx, events.ForExchange(events.ExchangeFailureHandling, ex).
		WithRouteID(h.route.id).
		WithDeadLetter(uri))

	failureEndpoint := n.label
	if v, ok := ex.Property(exchangepkg.PropertyToEndpoint); ok {
		failureEndpoint = fmt.Sprint(v)
	}
	ex.SetProperty(exchangepkg.PropertyExceptionCaught, cause)
	ex.SetProperty(exchangepkg.PropertyFailureEndpoint, failureEndpoint)
	ex.SetProperty(exchangepkg.PropertyFailureRouteID, h.route.id)
	ex.Err = nil

	start := time.Now()
	if err := s.sendTo(ctx, ex, h.deadLetter); err != nil {
		ex.Err = fmt.Errorf("dead letter channel %s: %w", uri, err)
	}
	handled := !ex.Failed()
	if handled {
		ex.SetProperty(propertyErrorHandled, true)
		h.handled.Add(1)
	}
	s.publish(ctx, events.ForExchange(events.ExchangeFailureHandled, ex).
		WithRouteID(h.route.id).
		WithError(cause).
		WithHandled(handled).
		WithDeadLetter(uri).
		WithElapsed(time.Since(start)))
	s.deadLetters.RecordDeadLetter(uri, h.route.id, ex.RedeliveryCount(), time.Since(ex.Created))

	s.Logger.Info("Exchange moved to dead letter channel", loggingpkg.LogFields{
		loggingpkg.FieldRouteID:    h.route.id,
		loggingpkg.FieldNodeID:     n.id,
		loggingpkg.FieldExchangeID: ex.ID,
		loggingpkg.FieldEndpoint:   uri,
		"cause":                    cause.Error(),
		"handled":                  handled,
	})
}

// invoke runs the node processor and turns a panic into an error.
func invoke(ctx context.Context, n *node, ex *exchangepkg.Exchange) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s: %v", n.id, p)
		}
	}()
	return n.process(ctx, ex)
}
