package runtime

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
)

// Endpoint is a named destination exchanges are sent to. Endpoints that can
// feed a route also create consumers for it.
type Endpoint interface {
	URI() string
	Scheme() string
	Send(ctx context.Context, ex *exchangepkg.Exchange) error
}

// BrowsableEndpoint exposes the exchanges it currently holds.
type BrowsableEndpoint interface {
	Endpoint
	Exchanges() []*exchangepkg.Exchange
}

// consumerEndpoint is implemented by endpoints a route can start from.
type consumerEndpoint interface {
	Endpoint
	newConsumer(r *route) (consumer, error)
}

// consumer feeds exchanges from its endpoint into one route.
type consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Close detaches the consumer from its endpoint for good.
	Close() error
	Endpoint() Endpoint
	IsStarted() bool
}

type endpointURI struct {
	Scheme string
	Path   string
	Query  url.Values
}

// parseEndpointURI accepts "scheme:path", "scheme://path" and an optional
// query string.
func parseEndpointURI(raw string) (endpointURI, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return endpointURI{}, errspkg.ErrEndpointURIRequired
	}
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok || scheme == "" {
		return endpointURI{}, fmt.Errorf("%w: endpoint uri %q has no scheme", errspkg.ErrInvalidArgument, raw)
	}
	rest = strings.TrimPrefix(rest, "//")
	path, rawQuery, _ := strings.Cut(rest, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return endpointURI{}, fmt.Errorf("%w: endpoint uri %q: %v", errspkg.ErrInvalidArgument, raw, err)
	}
	return endpointURI{Scheme: strings.ToLower(scheme), Path: path, Query: query}, nil
}

// String renders the normalized form with sorted query parameters.
func (u endpointURI) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Path)
	if len(u.Query) > 0 {
		keys := make([]string, 0, len(u.Query))
		for k := range u.Query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i == 0 {
				b.WriteByte('?')
			} else {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(u.Query.Get(k))
		}
	}
	return b.String()
}

func (u endpointURI) option(name string) (string, bool) {
	if !u.Query.Has(name) {
		return "", false
	}
	return u.Query.Get(name), true
}

func (u endpointURI) intOption(name string, def int) (int, error) {
	v, ok := u.option(name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: option %s=%q is not an integer", errspkg.ErrInvalidArgument, name, v)
	}
	return n, nil
}

func (u endpointURI) boolOption(name string, def bool) (bool, error) {
	v, ok := u.option(name)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: option %s=%q is not a boolean", errspkg.ErrInvalidArgument, name, v)
	}
	return b, nil
}

// NormalizeEndpointURI returns the canonical form of raw used for endpoint
// lookup and managed entity names.
func NormalizeEndpointURI(raw string) (string, error) {
	u, err := parseEndpointURI(raw)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// endpointBase carries the parts every endpoint shares.
type endpointBase struct {
	uri       endpointURI
	component *component
}

func (e *endpointBase) URI() string    { return e.uri.String() }
func (e *endpointBase) Scheme() string { return e.uri.Scheme }

func (e *endpointBase) base() *endpointBase { return e }

type hasEndpointBase interface {
	base() *endpointBase
}

// OptionSchema describes one endpoint option for the explain payload.
type OptionSchema struct {
	Name         string
	Kind         string // "path" or "parameter"
	Group        string
	Type         string
	JavaType     string
	Deprecated   bool
	Secret       bool
	DefaultValue any
	Description  string
}

type component struct {
	scheme      string
	title       string
	syntax      string
	description string
	options     []OptionSchema
	create      func(s *Service, uri endpointURI) (Endpoint, error)
}

func (c *component) option(name string) (OptionSchema, bool) {
	for _, o := range c.options {
		if o.Name == name {
			return o, true
		}
	}
	return OptionSchema{}, false
}

// validate rejects query parameters the component does not declare.
func (c *component) validate(uri endpointURI) error {
	for k := range uri.Query {
		if o, ok := c.option(k); !ok || o.Kind != "parameter" {
			return fmt.Errorf("%w: unknown option %q for %s endpoint", errspkg.ErrInvalidArgument, k, c.scheme)
		}
	}
	if uri.Path == "" {
		return fmt.Errorf("%w: %s endpoint requires a name", errspkg.ErrInvalidArgument, c.scheme)
	}
	return nil
}

func builtinComponents() map[string]*component {
	out := make(map[string]*component)
	for _, c := range []*component{directComponent(), sedaComponent(), mockComponent(), logComponent(), brokerComponent()} {
		out[c.scheme] = c
	}
	return out
}
