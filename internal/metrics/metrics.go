package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for job orchestration and persistence.
// Each instance owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// Job metrics
	JobsSubmitted *prometheus.CounterVec
	JobOutcomes   *prometheus.CounterVec
	JobPolls      prometheus.Counter
	JobDuration   *prometheus.HistogramVec

	// Streaming metrics
	FragmentsApplied   prometheus.Counter
	FragmentsDiscarded prometheus.Counter

	// Persistence metrics
	DebounceWrites    prometheus.Counter
	DebounceFailures  prometheus.Counter
	DebounceCancelled prometheus.Counter

	// Session metrics
	StaleResults *prometheus.CounterVec

	// HTTP metrics, used by the dev server
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a metrics collector registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		JobsSubmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weave_jobs_submitted_total",
				Help: "Jobs accepted by the backend, by kind",
			},
			[]string{"kind"},
		),
		JobOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weave_job_outcomes_total",
				Help: "Terminal job outcomes observed by the client",
			},
			[]string{"kind", "outcome"},
		),
		JobPolls: f.NewCounter(prometheus.CounterOpts{
			Name: "weave_job_polls_total",
			Help: "Status polls issued",
		}),
		JobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "weave_job_duration_seconds",
				Help:    "Time from submission to terminal outcome",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 90},
			},
			[]string{"kind"},
		),

		FragmentsApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "weave_stream_fragments_applied_total",
			Help: "Streamed fragments appended to a message",
		}),
		FragmentsDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "weave_stream_fragments_discarded_total",
			Help: "Fragments dropped after cancellation",
		}),

		DebounceWrites: f.NewCounter(prometheus.CounterOpts{
			Name: "weave_persist_writes_total",
			Help: "Debounced persistence writes issued",
		}),
		DebounceFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "weave_persist_failures_total",
			Help: "Debounced persistence writes that failed",
		}),
		DebounceCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "weave_persist_cancelled_total",
			Help: "Pending writes released before firing",
		}),

		StaleResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weave_stale_results_total",
				Help: "Fetch results dropped because the current session changed",
			},
			[]string{"op"},
		),

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weave_http_requests_total",
				Help: "Dev server HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "weave_http_request_duration_seconds",
				Help:    "Dev server HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
