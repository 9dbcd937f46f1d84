package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace    = "flowscope"
	deadLetterSubsystem = "dead_letter"
	labelEndpoint       = "endpoint"
	labelRoute          = "route"
)

// DeadLetterMetrics counts exchanges moved to dead letter channels.
type DeadLetterMetrics struct {
	mu sync.RWMutex

	endpoints map[string]*DeadLetterEndpointMetrics

	exchangesTotal   *prometheus.CounterVec
	redeliveriesHist *prometheus.HistogramVec
	ageSecondsHist   *prometheus.HistogramVec
	lastTimestamp    *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

// DeadLetterEndpointMetrics holds the counts for one dead letter endpoint.
type DeadLetterEndpointMetrics struct {
	Exchanges         uint64            `json:"exchanges"`
	ByRoute           map[string]uint64 `json:"by_route"`
	AvgRedeliveries   float64           `json:"avg_redeliveries"`
	FirstDeadLetterAt time.Time         `json:"first_dead_letter_at"`
	LastDeadLetterAt  time.Time         `json:"last_dead_letter_at"`
	MaxExchangeAge    time.Duration     `json:"max_exchange_age"`
}

func (m *DeadLetterEndpointMetrics) clone() *DeadLetterEndpointMetrics {
	cp := *m
	cp.ByRoute = make(map[string]uint64, len(m.ByRoute))
	for k, v := range m.ByRoute {
		cp.ByRoute[k] = v
	}
	return &cp
}

// DeadLetterSnapshot is a point-in-time view of DeadLetterMetrics.
type DeadLetterSnapshot struct {
	TotalExchanges uint64                                `json:"total_exchanges"`
	Endpoints      map[string]*DeadLetterEndpointMetrics `json:"endpoints"`
	CollectedAt    time.Time                             `json:"collected_at"`
}

func newDeadLetterCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: deadLetterSubsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newDeadLetterHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: deadLetterSubsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

func NewDeadLetterMetrics(registerer prometheus.Registerer) *DeadLetterMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &DeadLetterMetrics{
		endpoints:        make(map[string]*DeadLetterEndpointMetrics),
		registerer:       registerer,
		exchangesTotal:   newDeadLetterCounterVec("exchanges_total", "Exchanges moved to a dead letter channel", []string{labelEndpoint, labelRoute}),
		redeliveriesHist: newDeadLetterHistogramVec("redeliveries", "Redelivery attempts before an exchange was dead lettered", []float64{0, 1, 2, 3, 5, 10, 20}, []string{labelEndpoint}),
		ageSecondsHist:   newDeadLetterHistogramVec("exchange_age_seconds", "Exchange age when it was dead lettered", []float64{0.01, 0.1, 1, 5, 10, 30, 60, 300, 600}, []string{labelEndpoint}),
		lastTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: deadLetterSubsystem,
			Name:      "last_timestamp_seconds",
			Help:      "Unix time of the last dead lettered exchange",
		}, []string{labelEndpoint}),
	}
}

func (m *DeadLetterMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.exchangesTotal, m.redeliveriesHist, m.ageSecondsHist, m.lastTimestamp}
}

// Register adds the collectors to the registerer. Calling it again is a no-op.
func (m *DeadLetterMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}
	for _, c := range m.collectors() {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

// Unregister removes the collectors so a restarted context can register
// them again.
func (m *DeadLetterMetrics) Unregister() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.registered {
		return
	}
	for _, c := range m.collectors() {
		m.registerer.Unregister(c)
	}
	m.registered = false
}

// RecordDeadLetter counts one exchange delivered to endpoint by routeID.
func (m *DeadLetterMetrics) RecordDeadLetter(endpoint, routeID string, redeliveries int, age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	em, ok := m.endpoints[endpoint]
	if !ok {
		em = &DeadLetterEndpointMetrics{ByRoute: make(map[string]uint64), FirstDeadLetterAt: now}
		m.endpoints[endpoint] = em
	}
	em.Exchanges++
	em.ByRoute[routeID]++
	em.LastDeadLetterAt = now
	em.AvgRedeliveries += (float64(redeliveries) - em.AvgRedeliveries) / float64(em.Exchanges)
	if age > em.MaxExchangeAge {
		em.MaxExchangeAge = age
	}

	m.exchangesTotal.WithLabelValues(endpoint, routeID).Inc()
	m.redeliveriesHist.WithLabelValues(endpoint).Observe(float64(redeliveries))
	m.ageSecondsHist.WithLabelValues(endpoint).Observe(age.Seconds())
	m.lastTimestamp.WithLabelValues(endpoint).Set(float64(now.Unix()))
}

func (m *DeadLetterMetrics) Snapshot() DeadLetterSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := DeadLetterSnapshot{
		Endpoints:   make(map[string]*DeadLetterEndpointMetrics, len(m.endpoints)),
		CollectedAt: time.Now(),
	}
	for uri, em := range m.endpoints {
		snap.Endpoints[uri] = em.clone()
		snap.TotalExchanges += em.Exchanges
	}
	return snap
}

// Endpoint returns a copy of the counts for uri, or nil.
func (m *DeadLetterMetrics) Endpoint(uri string) *DeadLetterEndpointMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if em, ok := m.endpoints[uri]; ok {
		return em.clone()
	}
	return nil
}

func (m *DeadLetterMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = make(map[string]*DeadLetterEndpointMetrics)
	m.exchangesTotal.Reset()
	m.redeliveriesHist.Reset()
	m.ageSecondsHist.Reset()
	m.lastTimestamp.Reset()
}
