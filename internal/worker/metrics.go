package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure reasons reported on tasksFailed.
const (
	failureReasonDeserialization = "deserialization"
	failureReasonStoryNotFound   = "story_not_found"
	failureReasonGeneration      = "generation_error"
	failureReasonTimeout         = "soft_time_limit"
	failureReasonPersistence     = "persistence_error"
)

var (
	tasksReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "story_server_worker_tasks_received_total",
			Help: "Total number of generation tasks received from the queue.",
		},
	)
	tasksSucceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "story_server_worker_tasks_succeeded_total",
			Help: "Total number of generation tasks completed successfully.",
		},
	)
	tasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_server_worker_tasks_failed_total",
			Help: "Total number of generation tasks failed, partitioned by reason.",
		},
		[]string{"reason"},
	)
	taskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "story_server_worker_task_duration_seconds",
			Help:    "Histogram of full task processing durations, retries included.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	generationAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "story_server_worker_generation_attempts",
			Help:    "Histogram of generation attempts used per task.",
			Buckets: []float64{1, 2, 3},
		},
	)
)

func recordTaskReceived() {
	tasksReceived.Inc()
}

func recordTaskSucceeded(attempts int, d time.Duration) {
	tasksSucceeded.Inc()
	generationAttempts.Observe(float64(attempts))
	taskDuration.Observe(d.Seconds())
}

func recordTaskFailed(reason string, d time.Duration) {
	tasksFailed.With(prometheus.Labels{"reason": reason}).Inc()
	taskDuration.Observe(d.Seconds())
}
