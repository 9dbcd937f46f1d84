// Package naming builds and parses the structured identifiers of managed
// entities:
//
//	{domain}:context={contextName},type={entityType},name="{entityName}"
package naming

import (
	"fmt"
	"strings"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
)

// Entity types.
const (
	TypeContext       = "context"
	TypeRoutes        = "routes"
	TypeProcessors    = "processors"
	TypeEndpoints     = "endpoints"
	TypeConsumers     = "consumers"
	TypeProducers     = "producers"
	TypeServices      = "services"
	TypeThreadPools   = "threadpools"
	TypeErrorHandlers = "errorhandlers"
	TypeTracer        = "tracer"
	TypeDataFormats   = "dataformats"
)

var knownTypes = map[string]struct{}{
	TypeContext: {}, TypeRoutes: {}, TypeProcessors: {}, TypeEndpoints: {},
	TypeConsumers: {}, TypeProducers: {}, TypeServices: {}, TypeThreadPools: {},
	TypeErrorHandlers: {}, TypeTracer: {}, TypeDataFormats: {},
}

// IsKnownType reports whether t is one of the entity types above.
func IsKnownType(t string) bool {
	_, ok := knownTypes[t]
	return ok
}

// ObjectName identifies one managed entity. Name holds the unquoted value.
type ObjectName struct {
	Domain  string
	Context string
	Type    string
	Name    string
}

func (o ObjectName) String() string {
	return fmt.Sprintf("%s:context=%s,type=%s,name=%s", o.Domain, o.Context, o.Type, Quote(o.Name))
}

func (o ObjectName) IsZero() bool {
	return o == ObjectName{}
}

// Parse is the inverse of ObjectName.String. The name value may be quoted or
// bare.
func Parse(s string) (ObjectName, error) {
	domain, props, ok := strings.Cut(s, ":")
	if !ok || domain == "" || props == "" {
		return ObjectName{}, fmt.Errorf("%w: %q", errspkg.ErrInvalidObjectName, s)
	}
	values, err := splitProperties(props)
	if err != nil {
		return ObjectName{}, fmt.Errorf("%w: %q: %v", errspkg.ErrInvalidObjectName, s, err)
	}
	on := ObjectName{Domain: domain}
	for _, kv := range values {
		switch kv.key {
		case "context":
			on.Context = kv.value
		case "type":
			on.Type = kv.value
		case "name":
			name, err := Unquote(kv.value)
			if err != nil {
				return ObjectName{}, fmt.Errorf("%w: %q: %v", errspkg.ErrInvalidObjectName, s, err)
			}
			on.Name = name
		default:
			return ObjectName{}, fmt.Errorf("%w: unknown key %q in %q", errspkg.ErrInvalidObjectName, kv.key, s)
		}
	}
	if on.Context == "" || on.Type == "" || on.Name == "" {
		return ObjectName{}, fmt.Errorf("%w: context, type and name are required in %q", errspkg.ErrInvalidObjectName, s)
	}
	return on, nil
}

// MustParse panics when s is not a valid object name.
func MustParse(s string) ObjectName {
	on, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return on
}

type property struct {
	key   string
	value string
}

// splitProperties splits on commas outside quoted values.
func splitProperties(s string) ([]property, error) {
	var (
		out     []property
		current strings.Builder
		quoted  bool
		escaped bool
	)
	flush := func() error {
		part := current.String()
		current.Reset()
		if part == "" {
			return nil
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok || key == "" {
			return fmt.Errorf("malformed property %q", part)
		}
		out = append(out, property{key: key, value: value})
		return nil
	}
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quoted:
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		current.WriteRune(r)
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}
