// Package exchange defines the unit of work that moves through routes: an
// Exchange carrying a Message with a body and ordered headers.
package exchange

import (
	"fmt"
	"maps"
	"sync"
	"time"

	idspkg "github.com/drblury/flowscope/internal/runtime/ids"
)

// Pattern describes whether the caller expects a reply.
type Pattern string

const (
	InOnly Pattern = "InOnly"
	InOut  Pattern = "InOut"
)

// Well-known exchange property keys.
const (
	PropertyExceptionCaught = "flowscope.exceptionCaught"
	PropertyFailureEndpoint = "flowscope.failureEndpoint"
	PropertyFailureRouteID  = "flowscope.failureRouteId"
	PropertyToEndpoint      = "flowscope.toEndpoint"
	PropertyCorrelationID   = "flowscope.correlationId"
)

type Message struct {
	Body    any
	Headers *Headers
}

func NewMessage(body any) *Message {
	return &Message{Body: body, Headers: NewHeaders()}
}

func (m *Message) Copy() *Message {
	if m == nil {
		return NewMessage(nil)
	}
	return &Message{Body: cloneValue(m.Body), Headers: m.Headers.Clone()}
}

// Exchange is owned by the goroutine that delivers it. The debugger is the
// only other writer and only while that goroutine is parked at a breakpoint.
type Exchange struct {
	ID           string
	Pattern      Pattern
	In           *Message
	Err          error
	RouteID      string
	FromEndpoint string
	Created      time.Time

	mu          sync.Mutex
	properties  map[string]any
	redelivered int
	uowOwner    string
	done        bool
}

func New(body any) *Exchange {
	return &Exchange{
		ID:         idspkg.NewExchangeID(),
		Pattern:    InOnly,
		In:         NewMessage(body),
		Created:    time.Now(),
		properties: make(map[string]any),
	}
}

func (e *Exchange) Property(key string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.properties[key]
	return v, ok
}

func (e *Exchange) SetProperty(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.properties == nil {
		e.properties = make(map[string]any)
	}
	e.properties[key] = value
}

func (e *Exchange) RemoveProperty(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.properties, key)
}

func (e *Exchange) Properties() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.properties)
}

func (e *Exchange) Failed() bool {
	return e.Err != nil
}

func (e *Exchange) RedeliveryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.redelivered
}

func (e *Exchange) SetRedeliveryCount(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.redelivered = n
}

// ClaimUnitOfWork marks routeID as the owner of the exchange completion. It
// returns false when another route already owns it.
func (e *Exchange) ClaimUnitOfWork(routeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.uowOwner != "" {
		return false
	}
	e.uowOwner = routeID
	return true
}

// MarkDone records that the terminal event for the exchange was published.
func (e *Exchange) MarkDone() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = true
}

func (e *Exchange) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Copy returns a new exchange with a fresh id and a deep copy of the message.
func (e *Exchange) Copy() *Exchange {
	c := New(nil)
	c.Pattern = e.Pattern
	c.In = e.In.Copy()
	c.FromEndpoint = e.FromEndpoint
	c.properties = e.Properties()
	if c.properties == nil {
		c.properties = make(map[string]any)
	}
	return c
}

func (e *Exchange) String() string {
	return fmt.Sprintf("Exchange[%s]", e.ID)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// BodyString renders the body as text, or "" for a nil body.
func (m *Message) BodyString() string {
	if m == nil || m.Body == nil {
		return ""
	}
	return stringify(m.Body)
}
