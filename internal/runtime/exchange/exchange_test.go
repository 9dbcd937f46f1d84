package exchange

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersKeepInsertionOrder(t *testing.T) {
	h := NewHeaders()
	h.Set("zeta", 1)
	h.Set("alpha", "a")
	h.Set("mid", true)
	h.Set("zeta", 2)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, h.Keys())
	v, ok := h.Get("zeta")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	assert.True(t, h.Remove("alpha"))
	assert.False(t, h.Remove("alpha"))
	h.Set("alpha", "again")
	assert.Equal(t, []string{"zeta", "mid", "alpha"}, h.Keys())
}

func TestHeadersOfSkipsNonStringKeys(t *testing.T) {
	h := HeadersOf("beer", "Carlsberg", 42, "ignored", "count", 123)
	assert.Equal(t, []string{"beer", "count"}, h.Keys())
	assert.Equal(t, "123", h.GetString("count"))
	assert.Equal(t, "", h.GetString("missing"))
}

func TestHeadersRangeStopsEarly(t *testing.T) {
	h := HeadersOf("a", 1, "b", 2, "c", 3)
	var visited []string
	h.Range(func(k string, _ any) bool {
		visited = append(visited, k)
		return k != "b"
	})
	assert.Equal(t, []string{"a", "b"}, visited)
}

func TestExchangeCopyIsDeep(t *testing.T) {
	ex := New([]byte("payload"))
	ex.In.Headers.Set("k", "v")
	ex.SetProperty("p", 1)

	c := ex.Copy()
	require.NotEqual(t, ex.ID, c.ID)
	assert.True(t, strings.HasPrefix(c.ID, "ID-"))

	c.In.Body.([]byte)[0] = 'P'
	c.In.Headers.Set("k", "changed")
	assert.Equal(t, "payload", ex.In.BodyString())
	assert.Equal(t, "v", ex.In.Headers.GetString("k"))

	p, ok := c.Property("p")
	require.True(t, ok)
	assert.Equal(t, 1, p)
}

func TestClaimUnitOfWorkOnlyOnce(t *testing.T) {
	ex := New("x")
	assert.True(t, ex.ClaimUnitOfWork("first"))
	assert.False(t, ex.ClaimUnitOfWork("second"))
	assert.False(t, ex.Done())
	ex.MarkDone()
	assert.True(t, ex.Done())
}
