// Package metrics holds the Prometheus collectors for answers and rebuilds.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeEmpty   = "empty"
	OutcomeBusy    = "busy"
)

type Metrics struct {
	registry *prometheus.Registry

	answers        *prometheus.CounterVec
	answerDuration prometheus.Histogram
	rebuilds       *prometheus.CounterVec
	indexedChunks  prometheus.Gauge
}

// New registers the collectors on a private registry together with the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docrag_answers_total",
			Help: "Answer requests by outcome.",
		}, []string{"outcome"}),
		answerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docrag_answer_duration_seconds",
			Help:    "End-to-end answer latency including rewrite, retrieval and generation.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docrag_rebuilds_total",
			Help: "Index rebuilds by outcome.",
		}, []string{"outcome"}),
		indexedChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docrag_indexed_chunks",
			Help: "Chunks in the collection after the last successful rebuild.",
		}),
	}

	reg.MustRegister(
		m.answers,
		m.answerDuration,
		m.rebuilds,
		m.indexedChunks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveAnswer(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(outcome).Inc()
	m.answerDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveRebuild(outcome string, chunks int) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.indexedChunks.Set(float64(chunks))
	}
}

// SetIndexedChunks seeds the gauge from the collection at startup.
func (m *Metrics) SetIndexedChunks(n int) {
	if m == nil {
		return
	}
	m.indexedChunks.Set(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
