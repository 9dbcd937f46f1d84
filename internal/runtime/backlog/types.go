package backlog

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
)

// Type names reported in dumps. Management clients key on these, so they keep
// the names used on the wire rather than Go's.
const (
	TypeString  = "java.lang.String"
	TypeInteger = "java.lang.Integer"
	TypeLong    = "java.lang.Long"
	TypeDouble  = "java.lang.Double"
	TypeFloat   = "java.lang.Float"
	TypeBoolean = "java.lang.Boolean"
	TypeBytes   = "byte[]"
	TypeDate    = "java.util.Date"
)

// TypeName returns the dump type name of v, or "" for nil.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return ""
	case string:
		return TypeString
	case int, int32:
		return TypeInteger
	case int64:
		return TypeLong
	case float64:
		return TypeDouble
	case float32:
		return TypeFloat
	case bool:
		return TypeBoolean
	case []byte:
		return TypeBytes
	case time.Time:
		return TypeDate
	default:
		return reflect.TypeOf(v).String()
	}
}

var typeAliases = map[string]string{
	TypeString:  TypeString,
	"string":    TypeString,
	"String":    TypeString,
	TypeInteger: TypeInteger,
	"int":       TypeInteger,
	"int32":     TypeInteger,
	"Integer":   TypeInteger,
	TypeLong:    TypeLong,
	"int64":     TypeLong,
	"long":      TypeLong,
	"Long":      TypeLong,
	TypeDouble:  TypeDouble,
	"float64":   TypeDouble,
	"double":    TypeDouble,
	"Double":    TypeDouble,
	TypeFloat:   TypeFloat,
	"float32":   TypeFloat,
	"float":     TypeFloat,
	"Float":     TypeFloat,
	TypeBoolean: TypeBoolean,
	"bool":      TypeBoolean,
	"boolean":   TypeBoolean,
	"Boolean":   TypeBoolean,
	TypeBytes:   TypeBytes,
	"[]byte":    TypeBytes,
	TypeDate:    TypeDate,
	"time.Time": TypeDate,
	"Date":      TypeDate,
}

// ConvertTo converts v to the type named by hint. Both dump type names and
// Go type names are accepted.
func ConvertTo(v any, hint string) (any, error) {
	target, ok := typeAliases[strings.TrimSpace(hint)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrUnknownType, hint)
	}
	if v == nil {
		return nil, nil
	}
	if TypeName(v) == target {
		return v, nil
	}
	text := render(v)
	var (
		out any
		err error
	)
	switch target {
	case TypeString:
		out = text
	case TypeInteger:
		var n int64
		n, err = strconv.ParseInt(strings.TrimSpace(text), 10, 32)
		out = int(n)
	case TypeLong:
		out, err = strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	case TypeDouble:
		out, err = strconv.ParseFloat(strings.TrimSpace(text), 64)
	case TypeFloat:
		var f float64
		f, err = strconv.ParseFloat(strings.TrimSpace(text), 32)
		out = float32(f)
	case TypeBoolean:
		out, err = strconv.ParseBool(strings.TrimSpace(text))
	case TypeBytes:
		out = []byte(text)
	case TypeDate:
		out, err = time.Parse(time.RFC3339, strings.TrimSpace(text))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: cannot convert %q to %s: %v", errspkg.ErrInvalidArgument, text, target, err)
	}
	return out, nil
}
