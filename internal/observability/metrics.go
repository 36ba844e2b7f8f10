// Package observability exposes engine verdicts as Prometheus metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/triage-ai/palisade-rasp/internal/engine"
)

// Metrics implements engine.Observer.
type Metrics struct {
	evaluationsTotal   *prometheus.CounterVec
	attacksTotal       *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	shadowedTotal      *prometheus.CounterVec
	reg                prometheus.Registerer
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "rasp_evaluations_total", Help: "Total evaluated operations"},
			[]string{"kind", "action"},
		),
		attacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "rasp_attacks_total", Help: "Total non-clean verdicts"},
			[]string{"kind", "algorithm", "action"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rasp_evaluation_duration_seconds",
				Help:    "Detector chain duration in seconds",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
			},
			[]string{"kind"},
		),
		shadowedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "rasp_shadowed_total", Help: "Verdicts downgraded to ignore by shadow mode"},
			[]string{"algorithm"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m.reg = reg
	reg.MustRegister(
		m.evaluationsTotal,
		m.attacksTotal,
		m.evaluationDuration,
		m.shadowedTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveVerdict implements engine.Observer.
func (m *Metrics) ObserveVerdict(kind engine.Kind, v engine.Verdict, elapsed time.Duration) {
	if m == nil {
		return
	}
	k := string(kind)
	m.evaluationsTotal.WithLabelValues(k, v.Action.String()).Inc()
	m.evaluationDuration.WithLabelValues(k).Observe(elapsed.Seconds())
	if !v.IsClean() {
		m.attacksTotal.WithLabelValues(k, v.Algorithm, v.Action.String()).Inc()
	}
}

// ObserveShadowed counts a verdict that shadow mode turned into ignore.
func (m *Metrics) ObserveShadowed(algorithm string) {
	if m == nil {
		return
	}
	m.shadowedTotal.WithLabelValues(algorithm).Inc()
}

// WatchQueryCache exports the size of the SQL query cache.
func (m *Metrics) WatchQueryCache(c *engine.QueryCache) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "rasp_query_cache_entries", Help: "Benign SQL queries currently cached"},
		func() float64 { return float64(c.Len()) },
	))
}

var _ engine.Observer = (*Metrics)(nil)
