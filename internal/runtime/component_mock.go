package runtime

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
)

func mockComponent() *component {
	return &component{
		scheme:      "mock",
		title:       "Mock",
		syntax:      "mock:name",
		description: "Collect exchanges and assert expectations on them in tests.",
		options: []OptionSchema{
			{Name: "name", Kind: "path", Group: "producer", Type: "string", JavaType: "java.lang.String",
				Description: "Name of the mock endpoint."},
		},
		create: func(*Service, endpointURI) (Endpoint, error) {
			return newMockEndpoint(), nil
		},
	}
}

// MockEndpoint records every exchange sent to it. Expectations set with
// ExpectedMessageCount and ExpectedBodiesReceived are checked by
// AssertIsSatisfied.
type MockEndpoint struct {
	endpointBase

	mu             sync.Mutex
	received       []*exchangepkg.Exchange
	expectedCount  int
	expectedBodies []any
	changed        chan struct{}
}

func newMockEndpoint() *MockEndpoint {
	return &MockEndpoint{expectedCount: -1, changed: make(chan struct{})}
}

// Send stores a snapshot of ex that keeps its id.
func (m *MockEndpoint) Send(_ context.Context, ex *exchangepkg.Exchange) error {
	snapshot := ex.Copy()
	snapshot.ID = ex.ID
	snapshot.RouteID = ex.RouteID
	snapshot.Created = ex.Created

	m.mu.Lock()
	m.received = append(m.received, snapshot)
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
	return nil
}

// ExpectedMessageCount expects exactly n exchanges.
func (m *MockEndpoint) ExpectedMessageCount(n int) {
	m.mu.Lock()
	m.expectedCount = n
	m.mu.Unlock()
}

// ExpectedBodiesReceived expects the given bodies in order.
func (m *MockEndpoint) ExpectedBodiesReceived(bodies ...any) {
	m.mu.Lock()
	m.expectedBodies = append([]any(nil), bodies...)
	m.expectedCount = len(bodies)
	m.mu.Unlock()
}

// AssertIsSatisfied waits until the expected number of exchanges arrived or
// ctx is done, then checks every expectation.
func (m *MockEndpoint) AssertIsSatisfied(ctx context.Context) error {
	for {
		m.mu.Lock()
		count, want := len(m.received), m.expectedCount
		changed := m.changed
		if want < 0 || count >= want {
			err := m.verifyLocked()
			m.mu.Unlock()
			return err
		}
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("%s: expected %d messages but received %d: %w", m.URI(), want, count, ctx.Err())
		}
	}
}

func (m *MockEndpoint) verifyLocked() error {
	if m.expectedCount >= 0 && len(m.received) != m.expectedCount {
		return fmt.Errorf("%s: expected %d messages but received %d", m.URI(), m.expectedCount, len(m.received))
	}
	for i, want := range m.expectedBodies {
		got := m.received[i].In.Body
		if !reflect.DeepEqual(got, want) {
			return fmt.Errorf("%s: message %d: expected body %v but was %v", m.URI(), i, want, got)
		}
	}
	return nil
}

func (m *MockEndpoint) ReceivedCounter() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

func (m *MockEndpoint) ReceivedExchanges() []*exchangepkg.Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*exchangepkg.Exchange, len(m.received))
	copy(out, m.received)
	return out
}

// ReceivedBodies returns the bodies of the received exchanges in order.
func (m *MockEndpoint) ReceivedBodies() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, len(m.received))
	for i, ex := range m.received {
		out[i] = ex.In.Body
	}
	return out
}

func (m *MockEndpoint) Exchanges() []*exchangepkg.Exchange { return m.ReceivedExchanges() }

// Reset drops received exchanges and expectations.
func (m *MockEndpoint) Reset() {
	m.mu.Lock()
	m.received = nil
	m.expectedCount = -1
	m.expectedBodies = nil
	m.mu.Unlock()
}
