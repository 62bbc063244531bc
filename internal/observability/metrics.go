package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce       sync.Once
	requestsTotal      *prometheus.CounterVec
	latencySeconds     *prometheus.HistogramVec
	errorsTotal        *prometheus.CounterVec
	finalizationsTotal *prometheus.CounterVec
	sweepRunsTotal     prometheus.Counter
	sweepSkippedTotal  prometheus.Counter
	gradingsTotal      *prometheus.CounterVec
	artifactsTotal     *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used across the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quillmark_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quillmark_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quillmark_errors_total",
			Help: "Total number of error responses returned.",
		}, []string{"method", "route", "status"})

		finalizationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quillmark_attempt_finalizations_total",
			Help: "Attempts finalized, labelled by finalize reason.",
		}, []string{"reason"})

		sweepRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quillmark_expiry_sweep_runs_total",
			Help: "Number of expiry sweep executions.",
		})

		sweepSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quillmark_expiry_sweep_skipped_total",
			Help: "Attempts skipped during a sweep because of per-attempt failures.",
		})

		gradingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quillmark_gradings_total",
			Help: "Grading outcomes, labelled by resulting attempt status.",
		}, []string{"status"})

		artifactsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quillmark_artifacts_total",
			Help: "Feedback artifact generation outcomes.",
		}, []string{"outcome"})

		prometheus.MustRegister(
			requestsTotal, latencySeconds, errorsTotal,
			finalizationsTotal, sweepRunsTotal, sweepSkippedTotal,
			gradingsTotal, artifactsTotal,
		)
	})
}

// Requests exposes the counter for API requests.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}

// Latency exposes the latency histogram for API requests.
func Latency() *prometheus.HistogramVec {
	RegisterMetrics()
	return latencySeconds
}

// Errors exposes the counter for error responses.
func Errors() *prometheus.CounterVec {
	RegisterMetrics()
	return errorsTotal
}

// Finalizations exposes the counter for attempt finalizations.
func Finalizations() *prometheus.CounterVec {
	RegisterMetrics()
	return finalizationsTotal
}

// SweepRuns exposes the counter for expiry sweep executions.
func SweepRuns() prometheus.Counter {
	RegisterMetrics()
	return sweepRunsTotal
}

// SweepSkipped exposes the counter for attempts skipped during sweeps.
func SweepSkipped() prometheus.Counter {
	RegisterMetrics()
	return sweepSkippedTotal
}

// Gradings exposes the counter for grading outcomes.
func Gradings() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingsTotal
}

// Artifacts exposes the counter for artifact generation outcomes.
func Artifacts() *prometheus.CounterVec {
	RegisterMetrics()
	return artifactsTotal
}
