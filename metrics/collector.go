// Package metrics exports the database operations of profiling sessions as
// Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sarchlab/sqlprof/profiling"
)

const namespace = "sqlprof"

// Collector aggregates the operations of every session it observes. It is
// both a profiling.Observer and a prometheus.Collector.
type Collector struct {
	statements  *prometheus.HistogramVec
	consumption prometheus.Histogram
	operations  *prometheus.CounterVec
}

var (
	_ profiling.Observer   = (*Collector)(nil)
	_ prometheus.Collector = (*Collector)(nil)
)

// NewCollector creates a Collector. Register it with a prometheus.Registerer
// to export its metrics.
func NewCollector() *Collector {
	return &Collector{
		statements: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "statement_duration_seconds",
				Help:      "time until database statements completed",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"kind"},
		),
		consumption: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "consumption_duration_seconds",
				Help:      "time spent reading streamed results",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "number of profiled database operations",
			},
			[]string{"kind"},
		),
	}
}

// Observe records a finished operation.
func (c *Collector) Observe(_ *profiling.Profiler, s profiling.SQLTiming) {
	kind := s.ExecuteType.String()

	c.operations.WithLabelValues(kind).Inc()

	if !s.Streamed {
		c.statements.WithLabelValues(kind).Observe(seconds(s.DurationMilliseconds))
		return
	}

	c.statements.WithLabelValues(kind).
		Observe(seconds(s.FirstFetchDurationMilliseconds))
	c.consumption.Observe(
		seconds(s.DurationMilliseconds - s.FirstFetchDurationMilliseconds))
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.statements.Describe(ch)
	c.consumption.Describe(ch)
	c.operations.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.statements.Collect(ch)
	c.consumption.Collect(ch)
	c.operations.Collect(ch)
}

func seconds(ms float64) float64 {
	return (time.Duration(ms * float64(time.Millisecond))).Seconds()
}
