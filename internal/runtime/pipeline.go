package runtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/flowscope/internal/runtime/events"
	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
	"github.com/drblury/flowscope/internal/runtime/stats"
)

// propertyErrorHandled marks an exchange whose failure was delivered to a
// dead letter channel. Routing stops for it in every route it passes.
const propertyErrorHandled = "flowscope.errorHandlerHandled"

func errorHandled(ex *exchangepkg.Exchange) bool {
	v, ok := ex.Property(propertyErrorHandled)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// handle runs ex through every node of the route. The first route an
// exchange reaches owns its unit of work and publishes the terminal event.
func (r *route) handle(ctx context.Context, ex *exchangepkg.Exchange) {
	s := r.svc
	owner := ex.ClaimUnitOfWork(r.id)
	if ex.RouteID == "" {
		ex.RouteID = r.id
	}
	if ex.FromEndpoint == "" {
		ex.FromEndpoint = r.from.URI()
	}

	var contextSample stats.Sample
	if owner {
		contextSample = s.stats.Begin(stats.ScopeContext, s.name)
	}
	routeSample := s.stats.Begin(stats.ScopeRoute, r.id)
	start := time.Now()

	for _, n := range r.nodes {
		if ex.Failed() || errorHandled(ex) {
			break
		}
		r.runNode(ctx, n, ex)
	}

	failed := ex.Failed()
	s.stats.Done(routeSample, ex.ID, failed)
	if owner {
		s.stats.Done(contextSample, ex.ID, failed)
		s.completeExchange(ctx, ex, time.Since(start))
	}
}

func (r *route) runNode(ctx context.Context, n *node, ex *exchangepkg.Exchange) {
	s := r.svc
	s.debugger.BeforeProcess(ctx, ex, r.id, n.id)
	s.tracer.Capture(ex, r.id, n.id)

	sample := s.stats.Begin(stats.ScopeProcessor, n.id)
	spanCtx, span := s.otelTracer.Start(ctx, n.label,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("flowscope.route_id", r.id),
			attribute.String("flowscope.node_id", n.id),
			attribute.String("flowscope.exchange_id", ex.ID),
		),
	)
	out := r.errHandler.handle(spanCtx, n, ex)
	if out.failed {
		if out.cause != nil {
			span.RecordError(out.cause)
			span.SetStatus(codes.Error, out.cause.Error())
		}
	}
	span.End()
	s.stats.Done(sample, ex.ID, out.failed)
}

// completeExchange publishes the terminal event of ex.
func (s *Service) completeExchange(ctx context.Context, ex *exchangepkg.Exchange, elapsed time.Duration) {
	if ex.Failed() {
		s.publish(ctx, events.ForExchange(events.ExchangeFailed, ex).WithElapsed(elapsed))
	} else {
		s.publish(ctx, events.ForExchange(events.ExchangeCompleted, ex).WithElapsed(elapsed))
	}
	ex.MarkDone()
}

// sendTo delivers ex to ep between Sending and Sent events.
func (s *Service) sendTo(ctx context.Context, ex *exchangepkg.Exchange, ep Endpoint) error {
	uri := ep.URI()
	if s.bus.Enabled(events.ExchangeSending) {
		s.publish(ctx, events.ForExchange(events.ExchangeSending, ex).WithEndpoint(uri))
	}
	ex.SetProperty(exchangepkg.PropertyToEndpoint, uri)
	start := time.Now()
	err := ep.Send(ctx, ex)
	if s.bus.Enabled(events.ExchangeSent) {
		s.publish(ctx, events.ForExchange(events.ExchangeSent, ex).WithEndpoint(uri).WithElapsed(time.Since(start)))
	}
	return err
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	s.bus.Publish(ctx, evt)
}
