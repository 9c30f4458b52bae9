package ai

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values reported on aiRequestsTotal.
const (
	statusSuccess       = "success"
	statusError         = "error"
	statusTimeout       = "error_timeout"
	statusBackendError  = "error_status"
	statusEmptyResponse = "error_empty_response"
)

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_server_ai_requests_total",
			Help: "Total number of text generation requests by outcome.",
		},
		[]string{"provider", "model", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_server_ai_request_duration_seconds",
			Help:    "Histogram of text generation request durations.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_server_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		},
		[]string{"provider", "model"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_server_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20),
		},
		[]string{"provider", "model"},
	)
	aiTotalTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_server_ai_total_tokens",
			Help:    "Histogram of total token counts (prompt + completion).",
			Buckets: prometheus.LinearBuckets(350, 350, 20),
		},
		[]string{"provider", "model"},
	)
)

func recordRequest(provider, model, status string) {
	aiRequestsTotal.With(prometheus.Labels{"provider": provider, "model": model, "status": status}).Inc()
}

func observeDuration(provider, model string, d time.Duration) {
	aiRequestDuration.With(prometheus.Labels{"provider": provider, "model": model}).Observe(d.Seconds())
}

func observeUsage(provider, model string, usage UsageInfo) {
	if usage.TotalTokens == 0 {
		return
	}
	labels := prometheus.Labels{"provider": provider, "model": model}
	aiPromptTokens.With(labels).Observe(float64(usage.PromptTokens))
	aiCompletionTokens.With(labels).Observe(float64(usage.CompletionTokens))
	aiTotalTokens.With(labels).Observe(float64(usage.TotalTokens))
}

func statusFromError(err error) string {
	var statusErr *StatusError
	var netErr net.Error
	switch {
	case errors.Is(err, errEmptyResponse):
		return statusEmptyResponse
	case errors.As(err, &statusErr):
		return statusBackendError
	case errors.Is(err, context.DeadlineExceeded):
		return statusTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return statusTimeout
	default:
		return statusError
	}
}
