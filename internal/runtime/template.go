package runtime

import (
	"context"
	"time"

	"github.com/drblury/flowscope/internal/runtime/events"
	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
)

const templateUnitOfWork = "producer-template"

// ProducerTemplate sends exchanges into the context from application code.
type ProducerTemplate struct {
	svc *Service
}

// SendBody sends body to uri and returns the exchange after delivery. The
// error is the exchange failure, if any.
func (t *ProducerTemplate) SendBody(ctx context.Context, uri string, body any) (*exchangepkg.Exchange, error) {
	return t.Send(ctx, uri, exchangepkg.New(body))
}

func (t *ProducerTemplate) SendBodyAndHeader(ctx context.Context, uri string, body any, key string, value any) (*exchangepkg.Exchange, error) {
	ex := exchangepkg.New(body)
	ex.In.Headers.Set(key, value)
	return t.Send(ctx, uri, ex)
}

func (t *ProducerTemplate) SendBodyAndHeaders(ctx context.Context, uri string, body any, headers *exchangepkg.Headers) (*exchangepkg.Exchange, error) {
	ex := exchangepkg.New(body)
	if headers != nil {
		headers.Range(func(k string, v any) bool {
			ex.In.Headers.Set(k, v)
			return true
		})
	}
	return t.Send(ctx, uri, ex)
}

// Send delivers ex to uri. When no route takes ownership of the exchange the
// template publishes its terminal event.
func (t *ProducerTemplate) Send(ctx context.Context, uri string, ex *exchangepkg.Exchange) (*exchangepkg.Exchange, error) {
	s := t.svc
	ep, err := s.endpoint(uri, false)
	if err != nil {
		return ex, err
	}
	s.publish(ctx, events.ForExchange(events.ExchangeCreated, ex))
	start := time.Now()
	if err := s.sendTo(ctx, ex, ep); err != nil {
		ex.Err = err
	}
	if ex.ClaimUnitOfWork(templateUnitOfWork) {
		s.completeExchange(ctx, ex, time.Since(start))
	}
	return ex, ex.Err
}
