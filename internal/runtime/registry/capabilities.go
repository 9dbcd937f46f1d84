package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
)

// HasManagedAttributes exposes readable attributes.
type HasManagedAttributes interface {
	ManagedAttributes() map[string]any
}

// AttributeSetter accepts writes to writable attributes.
type AttributeSetter interface {
	SetManagedAttribute(name string, value any) error
}

// HasManagedOperations exposes named operations.
type HasManagedOperations interface {
	InvokeManagedOperation(ctx context.Context, operation string, args []any) (any, error)
}

// Described carries a human-readable description.
type Described interface {
	ManagedDescription() string
}

// Argument helpers used by entity dispatch. Arguments arrive either typed
// (in-process callers) or as JSON-decoded values from the admin surface.

func StringArg(op string, args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: %s expects argument %d", errspkg.ErrInvalidArgument, op, i+1)
	}
	switch v := args[i].(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}

// OptionalStringArg returns "" when the argument is absent.
func OptionalStringArg(args []any, i int) string {
	if i >= len(args) || args[i] == nil {
		return ""
	}
	if s, ok := args[i].(string); ok {
		return s
	}
	return fmt.Sprint(args[i])
}

func IntArg(op string, args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%w: %s expects argument %d", errspkg.ErrInvalidArgument, op, i+1)
	}
	n, err := ToInt(args[i])
	if err != nil {
		return 0, fmt.Errorf("%w: %s argument %d: %v", errspkg.ErrInvalidArgument, op, i+1, err)
	}
	return n, nil
}

func BoolArg(op string, args []any, i int) (bool, error) {
	if i >= len(args) {
		return false, fmt.Errorf("%w: %s expects argument %d", errspkg.ErrInvalidArgument, op, i+1)
	}
	b, err := ToBool(args[i])
	if err != nil {
		return false, fmt.Errorf("%w: %s argument %d: %v", errspkg.ErrInvalidArgument, op, i+1, err)
	}
	return b, nil
}

// ToInt converts the numeric shapes produced by JSON decoding and callers.
func ToInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case float32:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func ToBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	default:
		return false, fmt.Errorf("not a boolean: %T", v)
	}
}

// ToDuration accepts a duration, a Go duration string or milliseconds.
func ToDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed, nil
		}
		ms, err := strconv.ParseInt(d, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not a duration: %q", d)
		}
		return time.Duration(ms) * time.Millisecond, nil
	default:
		ms, err := ToInt(v)
		if err != nil {
			return 0, err
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
}

// UnknownOperation is the error entities return for unsupported operations.
func UnknownOperation(op string) error {
	return fmt.Errorf("%w: %s", errspkg.ErrUnknownOperation, op)
}

// UnknownAttribute is the error entities return for unsupported attributes.
func UnknownAttribute(name string) error {
	return fmt.Errorf("%w: %s", errspkg.ErrUnknownAttribute, name)
}
