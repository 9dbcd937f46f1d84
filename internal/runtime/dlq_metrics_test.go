package runtime

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDeadLetterMetrics(reg)
	require.NoError(t, m.Register())

	m.RecordDeadLetter("mock://dead", "orders", 3, 5*time.Second)
	m.RecordDeadLetter("mock://dead", "orders", 5, 10*time.Second)
	m.RecordDeadLetter("mock://dead", "billing", 1, time.Second)

	em := m.Endpoint("mock://dead")
	require.NotNil(t, em)
	assert.Equal(t, uint64(3), em.Exchanges)
	assert.Equal(t, map[string]uint64{"orders": 2, "billing": 1}, em.ByRoute)
	assert.InDelta(t, 3.0, em.AvgRedeliveries, 0.0001)
	assert.Equal(t, 10*time.Second, em.MaxExchangeAge)
	assert.False(t, em.FirstDeadLetterAt.IsZero())
	assert.Nil(t, m.Endpoint("mock://other"))
}

func TestDeadLetterMetricsSnapshotIsACopy(t *testing.T) {
	m := NewDeadLetterMetrics(prometheus.NewRegistry())
	m.RecordDeadLetter("mock://a", "r1", 0, 0)
	m.RecordDeadLetter("mock://b", "r2", 0, 0)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.TotalExchanges)
	require.Len(t, snap.Endpoints, 2)

	snap.Endpoints["mock://a"].ByRoute["r1"] = 99
	assert.Equal(t, uint64(1), m.Endpoint("mock://a").ByRoute["r1"])
}

func TestDeadLetterMetricsExported(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDeadLetterMetrics(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	m.RecordDeadLetter("mock://dead", "orders", 2, time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != "flowscope_dead_letter_exchanges_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, total)
}

func TestDeadLetterMetricsUnregisterAllowsRegisterAgain(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDeadLetterMetrics(reg)
	require.NoError(t, m.Register())
	m.Unregister()
	require.NoError(t, m.Register())
}

func TestDeadLetterMetricsReset(t *testing.T) {
	m := NewDeadLetterMetrics(prometheus.NewRegistry())
	m.RecordDeadLetter("mock://dead", "orders", 1, time.Second)
	m.Reset()
	assert.Nil(t, m.Endpoint("mock://dead"))
	assert.Zero(t, m.Snapshot().TotalExchanges)
}
