package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
	"github.com/drblury/flowscope/internal/runtime/naming"
)

// RouteBuilder declares a route: the endpoint it consumes from and the
// processing steps applied to every exchange.
type RouteBuilder struct {
	from         string
	id           string
	description  string
	noAutoStart  bool
	steps        []*stepDefinition
	errorHandler *ErrorHandlerBuilder
}

// From starts a route definition consuming from uri.
func From(uri string) *RouteBuilder {
	return &RouteBuilder{from: uri}
}

// RouteID sets the route id. Routes without one get "route<n>".
func (b *RouteBuilder) RouteID(id string) *RouteBuilder {
	b.id = id
	return b
}

func (b *RouteBuilder) Description(text string) *RouteBuilder {
	b.description = text
	return b
}

// ID sets a custom id on the last step, or the route id before any step.
func (b *RouteBuilder) ID(id string) *RouteBuilder {
	if len(b.steps) == 0 {
		b.id = id
		return b
	}
	b.steps[len(b.steps)-1].id = id
	return b
}

// NoAutoStartup keeps the route stopped until StartRoute is called.
func (b *RouteBuilder) NoAutoStartup() *RouteBuilder {
	b.noAutoStart = true
	return b
}

// ErrorHandler overrides the context default error handler for this route.
func (b *RouteBuilder) ErrorHandler(h *ErrorHandlerBuilder) *RouteBuilder {
	b.errorHandler = h
	return b
}

// To sends the exchange to a static endpoint.
func (b *RouteBuilder) To(uri string) *RouteBuilder {
	return b.add(&stepDefinition{kind: "to", uri: uri, label: "to[" + uri + "]"})
}

// ToD sends to an endpoint resolved per exchange. ${header.name}, ${body},
// ${exchangeId} and ${routeId} are replaced before the lookup.
func (b *RouteBuilder) ToD(uri string) *RouteBuilder {
	return b.add(&stepDefinition{kind: "toD", uri: uri, label: "toD[" + uri + "]"})
}

// Transform replaces the body with the value returned by fn.
func (b *RouteBuilder) Transform(fn func(ex *exchangepkg.Exchange) any) *RouteBuilder {
	return b.add(&stepDefinition{kind: "transform", label: "transform", process: func(_ context.Context, ex *exchangepkg.Exchange) error {
		ex.In.Body = fn(ex)
		return nil
	}})
}

// TransformConstant replaces the body with value.
func (b *RouteBuilder) TransformConstant(value any) *RouteBuilder {
	return b.add(&stepDefinition{kind: "transform", label: fmt.Sprintf("transform[constant{%v}]", value), process: func(_ context.Context, ex *exchangepkg.Exchange) error {
		ex.In.Body = value
		return nil
	}})
}

// SetHeader sets header key to the value returned by fn.
func (b *RouteBuilder) SetHeader(key string, fn func(ex *exchangepkg.Exchange) any) *RouteBuilder {
	return b.add(&stepDefinition{kind: "setHeader", label: "setHeader[" + key + "]", process: func(_ context.Context, ex *exchangepkg.Exchange) error {
		ex.In.Headers.Set(key, fn(ex))
		return nil
	}})
}

// SetProperty sets exchange property key to value.
func (b *RouteBuilder) SetProperty(key string, value any) *RouteBuilder {
	return b.add(&stepDefinition{kind: "setProperty", label: "setProperty[" + key + "]", process: func(_ context.Context, ex *exchangepkg.Exchange) error {
		ex.SetProperty(key, value)
		return nil
	}})
}

// Process runs fn. A returned error fails the exchange and is handled by the
// route's error handler.
func (b *RouteBuilder) Process(fn func(ctx context.Context, ex *exchangepkg.Exchange) error) *RouteBuilder {
	return b.add(&stepDefinition{kind: "process", label: "process", process: fn})
}

// Log writes message at info level. The message is interpolated like ToD.
func (b *RouteBuilder) Log(message string) *RouteBuilder {
	return b.add(&stepDefinition{kind: "log", label: "log[" + message + "]", message: message})
}

// Marshal encodes the body with df.
func (b *RouteBuilder) Marshal(df DataFormat) *RouteBuilder {
	return b.add(&stepDefinition{kind: "marshal", label: "marshal[" + dataFormatName(df) + "]", dataFormat: df})
}

// Unmarshal decodes the body with df.
func (b *RouteBuilder) Unmarshal(df DataFormat) *RouteBuilder {
	return b.add(&stepDefinition{kind: "unmarshal", label: "unmarshal[" + dataFormatName(df) + "]", dataFormat: df})
}

// RecipientList sends the exchange to every comma separated uri found in
// header. With parallel set each recipient gets its own copy concurrently.
func (b *RouteBuilder) RecipientList(header string, parallel bool) *RouteBuilder {
	return b.add(&stepDefinition{kind: "recipientList", label: "recipientList[" + header + "]", header: header, parallel: parallel})
}

func (b *RouteBuilder) add(step *stepDefinition) *RouteBuilder {
	b.steps = append(b.steps, step)
	return b
}

type stepDefinition struct {
	kind       string
	id         string
	label      string
	uri        string
	message    string
	header     string
	parallel   bool
	dataFormat DataFormat
	process    func(ctx context.Context, ex *exchangepkg.Exchange) error
}

// node is one processing step of a running route.
type node struct {
	id       string
	customID bool
	kind     string
	label    string
	route    *route
	producer *producer
	// dataFormat is set on marshal and unmarshal nodes.
	dataFormat DataFormat
	process    func(ctx context.Context, ex *exchangepkg.Exchange) error
}

// producer is a node's handle on the static endpoint it sends to.
type producer struct {
	node     *node
	endpoint Endpoint
}

type routeState string

const (
	routeStopped routeState = "Stopped"
	routeStarted routeState = "Started"
)

// route is the runtime form of a RouteBuilder.
type route struct {
	id          string
	customID    bool
	description string
	autoStart   bool
	svc         *Service
	from        Endpoint
	consumer    consumer
	nodes       []*node
	errHandler  *errorHandler

	mu        sync.Mutex
	state     routeState
	startedAt time.Time
	// registered holds the managed names owned by this route.
	registered []naming.ObjectName
}

func (r *route) State() routeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *route) uptime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != routeStarted {
		return 0
	}
	return time.Since(r.startedAt)
}

func (r *route) producers() []*producer {
	var out []*producer
	for _, n := range r.nodes {
		if n.producer != nil {
			out = append(out, n.producer)
		}
	}
	return out
}

// buildRoute resolves endpoints and ids. Node ids are reserved on s and must
// be released if the route is not added.
func (s *Service) buildRoute(b *RouteBuilder) (_ *route, err error) {
	if b == nil || strings.TrimSpace(b.from) == "" {
		return nil, errspkg.ErrEndpointURIRequired
	}
	r := &route{
		id:          b.id,
		customID:    b.id != "",
		description: b.description,
		autoStart:   !b.noAutoStart,
		svc:         s,
		state:       routeStopped,
	}
	if r.id == "" {
		r.id = s.nextID("route")
	}
	defer func() {
		if err != nil {
			s.releaseNodeIDs(r.nodes)
		}
	}()

	from, err := s.endpoint(b.from, true)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", r.id, err)
	}
	ce, ok := from.(consumerEndpoint)
	if !ok {
		return nil, fmt.Errorf("%w: route %s cannot consume from %s", errspkg.ErrInvalidArgument, r.id, from.URI())
	}
	r.from = from

	for _, step := range b.steps {
		n, err := s.buildNode(r, step)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", r.id, err)
		}
		r.nodes = append(r.nodes, n)
	}

	eh := b.errorHandler
	if eh == nil {
		eh = s.defaultErrorHandler
	}
	if r.errHandler, err = s.buildErrorHandler(eh, r); err != nil {
		return nil, fmt.Errorf("route %s: %w", r.id, err)
	}

	if r.consumer, err = ce.newConsumer(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) buildNode(r *route, step *stepDefinition) (*node, error) {
	n := &node{id: step.id, customID: step.id != "", kind: step.kind, label: step.label, route: r}
	if n.id == "" {
		n.id = s.nextID(step.kind)
	}

	switch step.kind {
	case "to":
		ep, err := s.endpoint(step.uri, true)
		if err != nil {
			return nil, err
		}
		n.producer = &producer{node: n, endpoint: ep}
		n.process = func(ctx context.Context, ex *exchangepkg.Exchange) error {
			return s.sendTo(ctx, ex, ep)
		}
	case "toD":
		template := step.uri
		n.process = func(ctx context.Context, ex *exchangepkg.Exchange) error {
			ep, err := s.endpoint(interpolate(template, ex), false)
			if err != nil {
				return err
			}
			return s.sendTo(ctx, ex, ep)
		}
	case "log":
		msg := step.message
		n.process = func(_ context.Context, ex *exchangepkg.Exchange) error {
			s.Logger.Info(interpolate(msg, ex), loggingpkg.LogFields{
				loggingpkg.FieldRouteID:    r.id,
				loggingpkg.FieldNodeID:     n.id,
				loggingpkg.FieldExchangeID: ex.ID,
			})
			return nil
		}
	case "marshal", "unmarshal":
		if step.dataFormat == nil {
			return nil, fmt.Errorf("%w: %s requires a data format", errspkg.ErrInvalidArgument, step.kind)
		}
		n.dataFormat = s.addDataFormat(step.dataFormat)
		if step.kind == "marshal" {
			n.process = marshalStep(n.dataFormat)
		} else {
			n.process = unmarshalStep(n.dataFormat)
		}
	case "recipientList":
		n.process = s.recipientList(step.header, step.parallel)
	default:
		if step.process == nil {
			return nil, fmt.Errorf("%w: step %s has no processor", errspkg.ErrInvalidArgument, step.kind)
		}
		n.process = step.process
	}

	if err := s.reserveNodeID(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) recipientList(header string, parallel bool) func(ctx context.Context, ex *exchangepkg.Exchange) error {
	return func(ctx context.Context, ex *exchangepkg.Exchange) error {
		var uris []string
		for _, u := range strings.Split(ex.In.Headers.GetString(header), ",") {
			if u = strings.TrimSpace(u); u != "" {
				uris = append(uris, u)
			}
		}
		if !parallel {
			for _, u := range uris {
				ep, err := s.endpoint(u, false)
				if err != nil {
					return err
				}
				if err := s.sendTo(ctx, ex, ep); err != nil {
					return err
				}
				if ex.Failed() {
					return nil
				}
			}
			return nil
		}

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		for _, u := range uris {
			wg.Add(1)
			go func(uri string, cp *exchangepkg.Exchange) {
				defer wg.Done()
				ep, err := s.endpoint(uri, false)
				if err == nil {
					err = s.sendTo(ctx, cp, ep)
				}
				if err == nil && cp.Failed() {
					err = cp.Err
				}
				if err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("recipient %s: %w", uri, err))
					mu.Unlock()
				}
			}(u, ex.Copy())
		}
		wg.Wait()
		if len(errs) > 0 {
			return errs[0]
		}
		return nil
	}
}

// interpolate replaces ${body}, ${exchangeId}, ${routeId} and
// ${header.name} placeholders. Unknown placeholders are kept verbatim.
func interpolate(template string, ex *exchangepkg.Exchange) string {
	if !strings.Contains(template, "${") {
		return template
	}
	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:start])
		token := rest[start+2 : start+end]
		switch {
		case token == "body":
			b.WriteString(ex.In.BodyString())
		case token == "exchangeId":
			b.WriteString(ex.ID)
		case token == "routeId":
			b.WriteString(ex.RouteID)
		case strings.HasPrefix(token, "header."):
			b.WriteString(ex.In.Headers.GetString(strings.TrimPrefix(token, "header.")))
		default:
			b.WriteString(rest[start : start+end+1])
		}
		rest = rest[start+end+1:]
	}
}
