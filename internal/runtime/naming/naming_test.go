package naming

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
)

func TestObjectNameStringAndParse(t *testing.T) {
	on := ObjectName{Domain: "flowscope", Context: "ctx-1", Type: TypeEndpoints, Name: "direct://start"}
	s := on.String()
	assert.Equal(t, `flowscope:context=ctx-1,type=endpoints,name="direct://start"`, s)

	parsed, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, on, parsed)
}

func TestParseAcceptsBareNameAndCommasInQuotes(t *testing.T) {
	on, err := Parse(`flowscope:context=ctx,type=tracer,name=BacklogDebugger`)
	require.NoError(t, err)
	assert.Equal(t, "BacklogDebugger", on.Name)

	on, err = Parse(`flowscope:context=ctx,type=endpoints,name="mock://a?x=1,y=2"`)
	require.NoError(t, err)
	assert.Equal(t, "mock://a?x=1,y=2", on.Name)
}

func TestParseRejectsMalformedNames(t *testing.T) {
	for _, s := range []string{
		"",
		"no-properties",
		"flowscope:context=ctx,type=routes",
		`flowscope:context=ctx,type=routes,name="open`,
		"flowscope:context=ctx,type=routes,name=x,extra=1",
	} {
		_, err := Parse(s)
		require.Error(t, err, s)
		assert.True(t, errors.Is(err, errspkg.ErrInvalidObjectName), s)
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	for _, raw := range []string{"plain", `with "quotes"`, `back\slash`, "star*and?", "multi\nline"} {
		unq, err := Unquote(Quote(raw))
		require.NoError(t, err)
		assert.Equal(t, raw, unq)
	}
	_, err := Unquote(`"bad\x"`)
	assert.Error(t, err)
}

func TestPatternMatching(t *testing.T) {
	names := []ObjectName{
		{Domain: "flowscope", Context: "ctx", Type: TypeEndpoints, Name: "direct://start"},
		{Domain: "flowscope", Context: "ctx", Type: TypeEndpoints, Name: "mock://result"},
		{Domain: "flowscope", Context: "ctx", Type: TypeProcessors, Name: "bar"},
		{Domain: "flowscope", Context: "other", Type: TypeProcessors, Name: "baz"},
	}

	tests := []struct {
		pattern string
		want    int
	}{
		{"flowscope:type=endpoints,*", 2},
		{"flowscope:*", 4},
		{"*:context=ctx,*", 3},
		{`flowscope:type=processors,name="ba?",*`, 2},
		{`flowscope:context=ctx,type=endpoints,name="direct*"`, 1},
		{"other:*", 0},
	}
	for _, tc := range tests {
		p, err := ParsePattern(tc.pattern)
		require.NoError(t, err, tc.pattern)
		got := 0
		for _, n := range names {
			if p.Matches(n) {
				got++
			}
		}
		assert.Equal(t, tc.want, got, tc.pattern)
	}
}

func TestWildcard(t *testing.T) {
	assert.True(t, Wildcard("*", ""))
	assert.True(t, Wildcard("a*c", "abbbc"))
	assert.True(t, Wildcard("a*/x", "a://b/x"))
	assert.False(t, Wildcard("a?c", "ac"))
	assert.False(t, Wildcard("abc", "abcd"))
}

func TestStrategyNames(t *testing.T) {
	s := NewStrategy("flowscope", "ctx")
	assert.Equal(t, `flowscope:context=ctx,type=context,name="ctx"`, s.Context().String())
	assert.Equal(t, TypeRoutes, s.Route("route1").Type)
	assert.Equal(t, "foo", s.Processor("foo").Name)
	assert.Equal(t, "BacklogDebugger", s.Tracer("BacklogDebugger").Name)
	assert.Equal(t, "direct-consumer(route1)", s.Consumer("direct", "route1").Name)
	assert.Equal(t, "log-producer(foo)", s.Producer("log", "foo").Name)
}
