// Package registry tracks live runtime objects as managed entities under
// structured object names and dispatches attribute and operation calls to
// them through optional capability interfaces.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
	"github.com/drblury/flowscope/internal/runtime/naming"
)

// Registry is the context-owned view over a Server. Registration is
// idempotent per entity: registering the same entity again returns the name
// it already holds.
type Registry struct {
	mu       sync.RWMutex
	server   Server
	logger   loggingpkg.ServiceLogger
	byName   map[naming.ObjectName]any
	byEntity map[any]naming.ObjectName
}

// New builds a registry on top of server. A nil server selects an
// InMemoryServer.
func New(server Server, logger loggingpkg.ServiceLogger) *Registry {
	if server == nil {
		server = NewInMemoryServer()
	}
	return &Registry{
		server:   server,
		logger:   logger,
		byName:   make(map[naming.ObjectName]any),
		byEntity: make(map[any]naming.ObjectName),
	}
}

// Register records entity under proposed and returns the canonical name
// chosen by the server.
func (r *Registry) Register(entity any, proposed naming.ObjectName) (naming.ObjectName, error) {
	if entity == nil || !reflect.TypeOf(entity).Comparable() {
		return naming.ObjectName{}, fmt.Errorf("%w: entity for %s must be a comparable value", errspkg.ErrInvalidArgument, proposed)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.byEntity[entity]; ok {
		return name, nil
	}
	if existing, ok := r.byName[proposed]; ok && !sameEntity(existing, entity) {
		return naming.ObjectName{}, fmt.Errorf("%w: %s", errspkg.ErrNameConflict, proposed)
	}
	canonical, err := r.server.Register(proposed, entity)
	if err != nil {
		r.logDebug("registration rejected", proposed, err)
		return naming.ObjectName{}, err
	}
	if canonical != proposed {
		r.logDebug("server returned canonical name", canonical, nil)
	}
	r.byName[canonical] = entity
	r.byEntity[entity] = canonical
	return canonical, nil
}

// Unregister removes name. Unknown names are ignored.
func (r *Registry) Unregister(name naming.ObjectName) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entity, ok := r.byName[name]
	if !ok {
		return nil
	}
	delete(r.byName, name)
	delete(r.byEntity, entity)
	if err := r.server.Unregister(name); err != nil {
		r.logDebug("server unregister failed", name, err)
		return err
	}
	return nil
}

// UnregisterEntity removes whatever name entity is registered under.
func (r *Registry) UnregisterEntity(entity any) error {
	r.mu.RLock()
	name, ok := r.byEntity[entity]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.Unregister(name)
}

// UnregisterAll removes every entity this registry registered.
func (r *Registry) UnregisterAll() {
	for _, name := range r.Names() {
		if err := r.Unregister(name); err != nil && r.logger != nil {
			r.logger.Error("Failed to unregister managed entity", err, loggingpkg.LogFields{"object_name": name.String()})
		}
	}
}

func (r *Registry) IsRegistered(name naming.ObjectName) bool {
	r.mu.RLock()
	_, ok := r.byName[name]
	r.mu.RUnlock()
	return ok && r.server.IsRegistered(name)
}

// NameOf returns the canonical name entity is registered under.
func (r *Registry) NameOf(entity any) (naming.ObjectName, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byEntity[entity]
	return name, ok
}

func (r *Registry) Lookup(name naming.ObjectName) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entity, ok := r.byName[name]
	return entity, ok
}

// Find returns the sorted names matching pattern.
func (r *Registry) Find(pattern naming.Pattern) []naming.ObjectName {
	r.mu.RLock()
	out := make([]naming.ObjectName, 0)
	for name := range r.byName {
		if pattern.Matches(name) {
			out = append(out, name)
		}
	}
	r.mu.RUnlock()
	sortNames(out)
	return out
}

// FindString parses pattern and returns the matching names.
func (r *Registry) FindString(pattern string) ([]naming.ObjectName, error) {
	p, err := naming.ParsePattern(pattern)
	if err != nil {
		return nil, err
	}
	return r.Find(p), nil
}

func (r *Registry) Names() []naming.ObjectName {
	return r.Find(naming.Pattern{})
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

func (r *Registry) entity(name naming.ObjectName) (any, error) {
	entity, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrEntityNotFound, name)
	}
	return entity, nil
}

// Attributes returns the managed attributes of name.
func (r *Registry) Attributes(name naming.ObjectName) (map[string]any, error) {
	entity, err := r.entity(name)
	if err != nil {
		return nil, err
	}
	attrs := map[string]any{}
	if m, ok := entity.(HasManagedAttributes); ok {
		attrs = m.ManagedAttributes()
	}
	if d, ok := entity.(Described); ok {
		attrs["Description"] = d.ManagedDescription()
	}
	return attrs, nil
}

// Attribute returns one attribute of name.
func (r *Registry) Attribute(name naming.ObjectName, attribute string) (any, error) {
	attrs, err := r.Attributes(name)
	if err != nil {
		return nil, err
	}
	v, ok := attrs[attribute]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", errspkg.ErrUnknownAttribute, attribute, name)
	}
	return v, nil
}

func (r *Registry) SetAttribute(name naming.ObjectName, attribute string, value any) error {
	entity, err := r.entity(name)
	if err != nil {
		return err
	}
	setter, ok := entity.(AttributeSetter)
	if !ok {
		return fmt.Errorf("%w: %s on %s", errspkg.ErrReadOnlyAttribute, attribute, name)
	}
	return setter.SetManagedAttribute(attribute, value)
}

// Invoke calls a managed operation on name.
func (r *Registry) Invoke(ctx context.Context, name naming.ObjectName, operation string, args ...any) (any, error) {
	entity, err := r.entity(name)
	if err != nil {
		return nil, err
	}
	ops, ok := entity.(HasManagedOperations)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", errspkg.ErrUnknownOperation, operation, name)
	}
	return ops.InvokeManagedOperation(ctx, operation, args)
}

func (r *Registry) logDebug(msg string, name naming.ObjectName, err error) {
	if r.logger == nil {
		return
	}
	fields := loggingpkg.LogFields{"object_name": name.String()}
	if err != nil {
		fields["error"] = err.Error()
	}
	r.logger.Debug(msg, fields)
}

func sameEntity(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}
