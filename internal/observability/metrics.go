package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest file outcomes.
const (
	OutcomeUpserted = "upserted"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Metrics holds the service's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	IngestFiles   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Queries       *prometheus.CounterVec
	ActiveIngests prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		IngestFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repoqa_ingest_files_total",
			Help: "Files seen during ingestion, by outcome.",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repoqa_stage_duration_seconds",
			Help:    "Pipeline stage duration.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"stage"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repoqa_queries_total",
			Help: "Query requests, by outcome.",
		}, []string{"outcome"}),
		ActiveIngests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repoqa_active_ingests",
			Help: "Ingestion requests in progress.",
		}),
	}
	r.MustRegister(
		m.IngestFiles,
		m.StageDuration,
		m.Queries,
		m.ActiveIngests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveStage records the duration of a stage that started at start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordFile counts one file outcome during ingestion.
func (m *Metrics) RecordFile(outcome string) {
	if m == nil {
		return
	}
	m.IngestFiles.WithLabelValues(outcome).Inc()
}

// RecordQuery counts one query request.
func (m *Metrics) RecordQuery(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.Queries.WithLabelValues(outcome).Inc()
}

// IngestStarted marks an ingestion as in progress. Call the returned func when done.
func (m *Metrics) IngestStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveIngests.Inc()
	return m.ActiveIngests.Dec
}
