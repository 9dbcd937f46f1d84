package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	"github.com/drblury/flowscope/internal/runtime/naming"
)

// Server is the backend that holds registered entities. It may return a
// canonical name that differs from the one proposed; callers must use the
// returned name from then on.
type Server interface {
	Register(name naming.ObjectName, entity any) (naming.ObjectName, error)
	Unregister(name naming.ObjectName) error
	IsRegistered(name naming.ObjectName) bool
	Lookup(name naming.ObjectName) (any, bool)
	Query(pattern naming.Pattern) []naming.ObjectName
}

// InMemoryServer is the default Server. Canonical names have surrounding
// quotes and blanks removed from the name value and a lower-case type.
type InMemoryServer struct {
	mu       sync.RWMutex
	entities map[naming.ObjectName]any
}

func NewInMemoryServer() *InMemoryServer {
	return &InMemoryServer{entities: make(map[naming.ObjectName]any)}
}

// Canonical returns the name the server stores for name.
func Canonical(name naming.ObjectName) (naming.ObjectName, error) {
	value := strings.TrimSpace(name.Name)
	if strings.HasPrefix(value, `"`) {
		unq, err := naming.Unquote(value)
		if err != nil {
			return naming.ObjectName{}, fmt.Errorf("%w: %v", errspkg.ErrInvalidObjectName, err)
		}
		value = unq
	}
	canonical := naming.ObjectName{
		Domain:  strings.TrimSpace(name.Domain),
		Context: strings.TrimSpace(name.Context),
		Type:    strings.ToLower(strings.TrimSpace(name.Type)),
		Name:    value,
	}
	if canonical.Domain == "" || canonical.Context == "" || canonical.Name == "" {
		return naming.ObjectName{}, fmt.Errorf("%w: %s", errspkg.ErrInvalidObjectName, name)
	}
	if !naming.IsKnownType(canonical.Type) {
		return naming.ObjectName{}, fmt.Errorf("%w: unknown type %q", errspkg.ErrInvalidObjectName, name.Type)
	}
	return canonical, nil
}

func (s *InMemoryServer) Register(name naming.ObjectName, entity any) (naming.ObjectName, error) {
	canonical, err := Canonical(name)
	if err != nil {
		return naming.ObjectName{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entities[canonical]; ok && !sameEntity(existing, entity) {
		return naming.ObjectName{}, fmt.Errorf("%w: %s", errspkg.ErrNameConflict, canonical)
	}
	s.entities[canonical] = entity
	return canonical, nil
}

func (s *InMemoryServer) Unregister(name naming.ObjectName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[name]; !ok {
		return fmt.Errorf("%w: %s", errspkg.ErrEntityNotFound, name)
	}
	delete(s.entities, name)
	return nil
}

func (s *InMemoryServer) IsRegistered(name naming.ObjectName) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entities[name]
	return ok
}

func (s *InMemoryServer) Lookup(name naming.ObjectName) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[name]
	return e, ok
}

func (s *InMemoryServer) Query(pattern naming.Pattern) []naming.ObjectName {
	s.mu.RLock()
	out := make([]naming.ObjectName, 0, len(s.entities))
	for name := range s.entities {
		if pattern.Matches(name) {
			out = append(out, name)
		}
	}
	s.mu.RUnlock()
	sortNames(out)
	return out
}

func sortNames(names []naming.ObjectName) {
	sort.Slice(names, func(i, j int) bool {
		return names[i].String() < names[j].String()
	})
}
