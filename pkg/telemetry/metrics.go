package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for publish runs.
type Metrics struct {
	enabled bool

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	publishAttempts *prometheus.CounterVec
	retries         prometheus.Counter
	packagesByState *prometheus.CounterVec
	publishDuration prometheus.Histogram

	readinessPolls  prometheus.Counter
	readinessResult *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. When enabled is false every
// recording method is a no-op.
func NewMetrics(enabled bool) *Metrics {
	if !enabled {
		return &Metrics{}
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		enabled:  true,
		registry: registry,

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shipper",
			Name:      "runs_started_total",
			Help:      "Total number of publish runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipper",
			Name:      "runs_completed_total",
			Help:      "Total number of publish runs completed",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shipper",
			Name:      "run_duration_seconds",
			Help:      "Duration of publish runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"result"}),

		publishAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipper",
			Name:      "publish_attempts_total",
			Help:      "Total number of upload attempts",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shipper",
			Name:      "retries_total",
			Help:      "Total number of retried upload attempts",
		}),
		packagesByState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipper",
			Name:      "packages_total",
			Help:      "Packages that reached a terminal state",
		}, []string{"state"}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shipper",
			Name:      "package_publish_duration_seconds",
			Help:      "Per-package publish duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),

		readinessPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shipper",
			Name:      "readiness_polls_total",
			Help:      "Total number of registry readiness probes",
		}),
		readinessResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipper",
			Name:      "readiness_results_total",
			Help:      "Readiness outcomes per package",
		}, []string{"result"}),

		errorsByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipper",
			Name:      "errors_total",
			Help:      "Errors by classification",
		}, []string{"class"}),
	}

	registry.MustRegister(
		m.runsStarted, m.runsCompleted, m.runDuration,
		m.publishAttempts, m.retries, m.packagesByState, m.publishDuration,
		m.readinessPolls, m.readinessResult, m.errorsByClass,
	)

	return m
}

// RunStarted records a run start.
func (m *Metrics) RunStarted() {
	if m.enabled {
		m.runsStarted.Inc()
	}
}

// RunCompleted records a run completion with its result and duration.
func (m *Metrics) RunCompleted(result string, seconds float64) {
	if m.enabled {
		m.runsCompleted.WithLabelValues(result).Inc()
		m.runDuration.WithLabelValues(result).Observe(seconds)
	}
}

// AttemptRecorded records one upload attempt outcome ("ok" or "error").
func (m *Metrics) AttemptRecorded(outcome string) {
	if m.enabled {
		m.publishAttempts.WithLabelValues(outcome).Inc()
	}
}

// RetryRecorded records a retried attempt.
func (m *Metrics) RetryRecorded() {
	if m.enabled {
		m.retries.Inc()
	}
}

// PackageFinished records a package reaching a terminal state.
func (m *Metrics) PackageFinished(state string, seconds float64) {
	if m.enabled {
		m.packagesByState.WithLabelValues(state).Inc()
		m.publishDuration.Observe(seconds)
	}
}

// ReadinessPoll records one visibility probe.
func (m *Metrics) ReadinessPoll() {
	if m.enabled {
		m.readinessPolls.Inc()
	}
}

// ReadinessResult records the readiness outcome ("visible" or "timeout").
func (m *Metrics) ReadinessResult(result string) {
	if m.enabled {
		m.readinessResult.WithLabelValues(result).Inc()
	}
}

// ErrorRecorded records an error by classification.
func (m *Metrics) ErrorRecorded(class string) {
	if m.enabled {
		m.errorsByClass.WithLabelValues(class).Inc()
	}
}

// Handler returns an HTTP handler exposing the metrics, or nil when
// metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
