package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiolibrelab/meetrec/internal/recorder"
)

const namespace = "meetrec"

// Metrics contains the Prometheus metrics of a recording process
type Metrics struct {
	registry *prometheus.Registry

	// Pipeline lifecycle
	PipelineEvents   *prometheus.CounterVec
	PipelineFailures *prometheus.CounterVec
	DroppedBlocks    *prometheus.CounterVec
	FinalizedSize    *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a registry holding the process collectors and every
// recorder metric
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PipelineEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_events_total",
			Help:      "Total number of pipeline lifecycle events",
		}, []string{"pipeline", "event"}),
		PipelineFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_failures_total",
			Help:      "Total number of pipeline failures by kind",
		}, []string{"pipeline", "kind"}),
		DroppedBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalized_dropped_blocks_total",
			Help:      "Blocks dropped by pipelines that have finished",
		}, []string{"pipeline"}),
		FinalizedSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalized_file_size_bytes",
			Help:      "Size of finalized WAV files",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 12), // 1MB to ~2GB
		}, []string{"pipeline"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Registry exposes the registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchSession registers a collector reading live values from src
func (m *Metrics) WatchSession(src SnapshotSource) error {
	return m.registry.Register(NewSessionCollector(src))
}

// RecordEvent updates the lifecycle counters. It has the signature of
// recorder.Options.OnEvent and never calls back into the session.
func (m *Metrics) RecordEvent(e recorder.Event) {
	pipeline := string(e.Pipeline)
	m.PipelineEvents.WithLabelValues(pipeline, string(e.Type)).Inc()

	switch e.Type {
	case recorder.EventFailed:
		m.PipelineFailures.WithLabelValues(pipeline, e.Kind.String()).Inc()
	case recorder.EventOverrun:
		m.DroppedBlocks.WithLabelValues(pipeline).Add(float64(e.Dropped))
	case recorder.EventFinalized:
		m.FinalizedSize.WithLabelValues(pipeline).Observe(float64(e.Size))
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
