package backlog

// ring is a fixed-capacity FIFO that evicts its oldest entry when full.
type ring struct {
	buf   []*TracedMessage
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]*TracedMessage, capacity)}
}

func (r *ring) push(m *TracedMessage) {
	if len(r.buf) == 0 {
		return
	}
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = m
		r.n++
		return
	}
	r.buf[r.start] = m
	r.start = (r.start + 1) % len(r.buf)
}

// items returns the entries oldest first.
func (r *ring) items() []*TracedMessage {
	out := make([]*TracedMessage, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int { return r.n }

func (r *ring) clear() {
	clear(r.buf)
	r.start, r.n = 0, 0
}

// resize keeps the newest entries that fit in capacity.
func (r *ring) resize(capacity int) {
	items := r.items()
	if len(items) > capacity {
		items = items[len(items)-capacity:]
	}
	r.buf = make([]*TracedMessage, capacity)
	r.start = 0
	r.n = copy(r.buf, items)
}
