// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the worker pool (spec.md §5 "Concurrency").
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focus_tasks_claimed_total",
			Help: "Total number of tasks claimed from the broker",
		},
		[]string{"endpoint_type"},
	)

	tasksAnsweredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focus_tasks_answered_total",
			Help: "Total number of tasks answered back to the broker",
		},
		[]string{"endpoint_type", "status"}, // status: succeeded, perm_failed
	)

	taskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "focus_task_duration_seconds",
			Help:    "End-to-end duration of compiling and executing a task",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"endpoint_type"},
	)

	backendSubmitDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "focus_backend_submit_duration_seconds",
			Help:    "Duration of a single backend Submit call",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"endpoint_type"},
	)

	workerPoolInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "focus_worker_pool_in_flight",
			Help: "Number of tasks currently occupying a worker permit",
		},
	)

	workerPoolQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "focus_worker_pool_queue_depth",
			Help: "Number of polled tasks buffered waiting for a worker permit",
		},
	)
)

// RecordTaskClaimed increments the claimed-task counter.
func RecordTaskClaimed(endpointType string) {
	tasksClaimedTotal.WithLabelValues(endpointType).Inc()
}

// RecordTaskAnswered increments the answered-task counter and observes its
// end-to-end duration in seconds.
func RecordTaskAnswered(endpointType, status string, durationSeconds float64) {
	tasksAnsweredTotal.WithLabelValues(endpointType, status).Inc()
	taskDurationSeconds.WithLabelValues(endpointType).Observe(durationSeconds)
}

// RecordBackendSubmit observes a single backend Submit call's duration.
func RecordBackendSubmit(endpointType string, durationSeconds float64) {
	backendSubmitDurationSeconds.WithLabelValues(endpointType).Observe(durationSeconds)
}

// SetInFlight reports how many worker permits are currently held.
func SetInFlight(n int) {
	workerPoolInFlight.Set(float64(n))
}

// SetQueueDepth reports how many polled, not yet claimed tasks are buffered
// in the channel.
func SetQueueDepth(n int) {
	workerPoolQueueDepth.Set(float64(n))
}
