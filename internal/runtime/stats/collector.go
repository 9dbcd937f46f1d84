package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	labelNames = []string{"context", "scope", "id"}

	completedDesc = prometheus.NewDesc("flowscope_exchanges_completed_total",
		"Exchanges completed by the entity.", labelNames, nil)
	failedDesc = prometheus.NewDesc("flowscope_exchanges_failed_total",
		"Exchanges failed in the entity.", labelNames, nil)
	inflightDesc = prometheus.NewDesc("flowscope_exchanges_inflight",
		"Exchanges currently inside the entity.", labelNames, nil)
	handledDesc = prometheus.NewDesc("flowscope_failures_handled_total",
		"Failures handled by an error handler.", labelNames, nil)
	redeliveriesDesc = prometheus.NewDesc("flowscope_redeliveries_total",
		"Redelivery attempts.", labelNames, nil)
	totalTimeDesc = prometheus.NewDesc("flowscope_processing_seconds_total",
		"Accumulated processing time.", labelNames, nil)
	lastTimeDesc = prometheus.NewDesc("flowscope_processing_seconds_last",
		"Processing time of the last exchange.", labelNames, nil)
	minTimeDesc = prometheus.NewDesc("flowscope_processing_seconds_min",
		"Shortest processing time.", labelNames, nil)
	maxTimeDesc = prometheus.NewDesc("flowscope_processing_seconds_max",
		"Longest processing time.", labelNames, nil)
	meanTimeDesc = prometheus.NewDesc("flowscope_processing_seconds_mean",
		"Mean processing time.", labelNames, nil)
)

// Collector exports every counter of an aggregator as const metrics.
type Collector struct {
	agg         *Aggregator
	contextName string
}

func NewCollector(agg *Aggregator, contextName string) *Collector {
	return &Collector{agg: agg, contextName: contextName}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		completedDesc, failedDesc, inflightDesc, handledDesc, redeliveriesDesc,
		totalTimeDesc, lastTimeDesc, minTimeDesc, maxTimeDesc, meanTimeDesc,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, e := range c.agg.Snapshots() {
		labels := []string{c.contextName, e.Key.Scope.String(), e.Key.ID}
		r := e.Record
		ch <- prometheus.MustNewConstMetric(completedDesc, prometheus.CounterValue, float64(r.ExchangesCompleted), labels...)
		ch <- prometheus.MustNewConstMetric(failedDesc, prometheus.CounterValue, float64(r.ExchangesFailed), labels...)
		ch <- prometheus.MustNewConstMetric(inflightDesc, prometheus.GaugeValue, float64(r.ExchangesInflight), labels...)
		ch <- prometheus.MustNewConstMetric(handledDesc, prometheus.CounterValue, float64(r.FailuresHandled), labels...)
		ch <- prometheus.MustNewConstMetric(redeliveriesDesc, prometheus.CounterValue, float64(r.Redeliveries), labels...)
		ch <- prometheus.MustNewConstMetric(totalTimeDesc, prometheus.CounterValue, r.TotalProcessingTime.Seconds(), labels...)
		ch <- prometheus.MustNewConstMetric(lastTimeDesc, prometheus.GaugeValue, r.LastProcessingTime.Seconds(), labels...)
		ch <- prometheus.MustNewConstMetric(minTimeDesc, prometheus.GaugeValue, r.MinProcessingTime.Seconds(), labels...)
		ch <- prometheus.MustNewConstMetric(maxTimeDesc, prometheus.GaugeValue, r.MaxProcessingTime.Seconds(), labels...)
		ch <- prometheus.MustNewConstMetric(meanTimeDesc, prometheus.GaugeValue, r.MeanProcessingTime.Seconds(), labels...)
	}
}
