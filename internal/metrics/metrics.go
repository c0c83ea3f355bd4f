package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry         *prometheus.Registry
	datasetLoads     *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	questions        *prometheus.CounterVec
	activeSessions   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		datasetLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datachat_dataset_loads_total",
				Help: "Dataset reads from disk by outcome",
			},
			[]string{"outcome"},
		),
		analysisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datachat_analysis_duration_seconds",
				Help:    "Latency of model calls",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
			},
			[]string{"provider", "outcome"},
		),
		questions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datachat_questions_total",
				Help: "Chat questions by outcome",
			},
			[]string{"outcome"},
		),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "datachat_active_sessions",
			Help: "Sessions currently held by the session store",
		}),
	}
	m.registry.MustRegister(
		m.datasetLoads,
		m.analysisDuration,
		m.questions,
		m.activeSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveDatasetLoad(outcome string, _ time.Duration) {
	if m == nil {
		return
	}
	m.datasetLoads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAnalysis(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.analysisDuration.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
}

// CountQuestion records one chat submission; outcome is one of
// "answered", "no_key", "error".
func (m *Metrics) CountQuestion(outcome string) {
	if m == nil {
		return
	}
	m.questions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
