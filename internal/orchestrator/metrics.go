package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the dreaming cycle for whatever scrapes this
// process's /metrics endpoint. Built once per process via NewMetrics,
// since re-registering the same metric name with the default registry
// panics.
type Metrics struct {
	CyclesTotal          *prometheus.CounterVec
	CycleDurationSeconds prometheus.Histogram
	TokensTotal          *prometheus.CounterVec
	CostUSDTotal         prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide Metrics instance, registering its
// collectors with the default registry on first call.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "good_night_cycles_total",
				Help: "Total number of dreaming cycles run, labeled by outcome",
			}, []string{"outcome"}),
			CycleDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "good_night_cycle_duration_seconds",
				Help:    "Wall-clock duration of a dreaming cycle",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			}),
			TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "good_night_tokens_total",
				Help: "Total tokens consumed across all dreaming cycles, labeled by direction",
			}, []string{"direction"}),
			CostUSDTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "good_night_cost_usd_total",
				Help: "Total estimated USD cost of all dreaming cycles",
			}),
		}
	})
	return metricsInstance
}

// RecordCycle records one completed cycle's outcome, duration, and the
// token/cost totals accumulated in stats.
func (m *Metrics) RecordCycle(outcome string, durationSeconds float64, stats Statistics) {
	if m == nil {
		return
	}
	if m.CyclesTotal != nil {
		m.CyclesTotal.WithLabelValues(outcome).Inc()
	}
	if m.CycleDurationSeconds != nil {
		m.CycleDurationSeconds.Observe(durationSeconds)
	}
	if m.TokensTotal != nil {
		m.TokensTotal.WithLabelValues("input").Add(float64(stats.InputTokens))
		m.TokensTotal.WithLabelValues("output").Add(float64(stats.OutputTokens))
	}
	if m.CostUSDTotal != nil {
		m.CostUSDTotal.Add(stats.CostUSD())
	}
}
