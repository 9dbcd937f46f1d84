package exchange

// Headers is an insertion-ordered header map. Overwriting a key keeps its
// original position; removing and re-adding moves it to the end.
type Headers struct {
	keys   []string
	values map[string]any
}

func NewHeaders() *Headers {
	return &Headers{values: make(map[string]any)}
}

// HeadersOf builds headers from alternating key/value pairs.
func HeadersOf(pairs ...any) *Headers {
	h := NewHeaders()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		h.Set(key, pairs[i+1])
	}
	return h
}

func (h *Headers) Get(key string) (any, bool) {
	if h == nil {
		return nil, false
	}
	v, ok := h.values[key]
	return v, ok
}

// GetString returns the header rendered as a string, or "" when absent.
func (h *Headers) GetString(key string) string {
	v, ok := h.Get(key)
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

func (h *Headers) Set(key string, value any) {
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

func (h *Headers) Remove(key string) bool {
	if _, ok := h.values[key]; !ok {
		return false
	}
	delete(h.values, key)
	for i, k := range h.keys {
		if k == key {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
	return true
}

func (h *Headers) Clear() {
	h.keys = nil
	h.values = make(map[string]any)
}

func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.keys)
}

func (h *Headers) Keys() []string {
	if h == nil {
		return nil
	}
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// Range visits headers in insertion order until fn returns false.
func (h *Headers) Range(fn func(key string, value any) bool) {
	if h == nil {
		return
	}
	for _, k := range h.keys {
		if !fn(k, h.values[k]) {
			return
		}
	}
}

// Map returns an unordered copy, used for expression environments.
func (h *Headers) Map() map[string]any {
	out := make(map[string]any, h.Len())
	h.Range(func(k string, v any) bool {
		out[k] = v
		return true
	})
	return out
}

func (h *Headers) Clone() *Headers {
	c := NewHeaders()
	h.Range(func(k string, v any) bool {
		c.Set(k, cloneValue(v))
		return true
	})
	return c
}
