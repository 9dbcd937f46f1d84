package stats

import (
	"fmt"
	"strings"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
)

// Level selects which scopes collect statistics.
type Level int32

const (
	LevelOff Level = iota
	LevelRoutesOnly
	LevelDefault
	LevelExtended
)

func (l Level) String() string {
	switch l {
	case LevelOff:
		return "Off"
	case LevelRoutesOnly:
		return "RoutesOnly"
	case LevelDefault:
		return "Default"
	case LevelExtended:
		return "Extended"
	default:
		return fmt.Sprintf("Level(%d)", int32(l))
	}
}

// ParseLevel accepts the level names case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return LevelOff, nil
	case "routesonly":
		return LevelRoutesOnly, nil
	case "", "default":
		return LevelDefault, nil
	case "extended":
		return LevelExtended, nil
	default:
		return LevelOff, fmt.Errorf("%w: statistics level %q", errspkg.ErrInvalidArgument, s)
	}
}

// Scope is the kind of entity a counter belongs to.
type Scope uint8

const (
	ScopeContext Scope = iota + 1
	ScopeRoute
	ScopeProcessor
)

func (s Scope) String() string {
	switch s {
	case ScopeContext:
		return "context"
	case ScopeRoute:
		return "route"
	case ScopeProcessor:
		return "processor"
	default:
		return "unknown"
	}
}

func (l Level) collects(s Scope) bool {
	switch l {
	case LevelOff:
		return false
	case LevelRoutesOnly:
		return s == ScopeContext || s == ScopeRoute
	default:
		return true
	}
}

// Key identifies one counter.
type Key struct {
	Scope Scope
	ID    string
}

func (k Key) String() string {
	return k.Scope.String() + ":" + k.ID
}
