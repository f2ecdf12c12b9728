// Package metrics exposes pipeline counters and timings for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration  *prometheus.HistogramVec
	stageOutcomes  *prometheus.CounterVec
	pagesTotal     prometheus.Counter
	runsTotal      *prometheus.CounterVec
	runsInProgress prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docintel",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage, submission to results.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docintel",
			Name:      "stage_outcomes_total",
			Help:      "Pipeline stage outcomes by stage and status.",
		}, []string{"stage", "status"}),
		pagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docintel",
			Name:      "rasterized_pages_total",
			Help:      "Page images produced from uploaded documents.",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docintel",
			Name:      "runs_total",
			Help:      "Pipeline runs by final result (complete or partial).",
		}, []string{"result"}),
		runsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "docintel",
			Name:      "runs_in_progress",
			Help:      "Pipeline runs currently executing.",
		}),
	}
	m.registry.MustRegister(m.stageDuration, m.stageOutcomes, m.pagesTotal, m.runsTotal, m.runsInProgress)
	return m
}

// ObserveStage records one stage outcome.
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageOutcomes.WithLabelValues(stage, status).Inc()
	if d > 0 {
		m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// AddPages counts rasterized pages.
func (m *Metrics) AddPages(n int) {
	if m == nil {
		return
	}
	m.pagesTotal.Add(float64(n))
}

// RunStarted marks a run as in progress; the returned func ends it.
func (m *Metrics) RunStarted() func(complete bool) {
	if m == nil {
		return func(bool) {}
	}
	m.runsInProgress.Inc()
	return func(complete bool) {
		m.runsInProgress.Dec()
		result := "partial"
		if complete {
			result = "complete"
		}
		m.runsTotal.WithLabelValues(result).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
