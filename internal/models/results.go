package models

import "github.com/google/uuid"

// Result statuses reported by the generation task.
const (
	GenerationStatusSuccess = "success"
	GenerationStatusError   = "error"
)

// DefaultRetryAfterSeconds is the retry hint returned to clients when the
// task broker is unreachable at dispatch time.
const DefaultRetryAfterSeconds = 30

// BrokerUnavailableError is the machine-readable dispatch failure code.
const BrokerUnavailableError = "broker_unavailable"

// GenerationTaskResult is the outcome of one generate-chapter job, returned
// by the worker handler for logging and surfaced in tests.
type GenerationTaskResult struct {
	Status        string     `json:"status"`
	StoryID       uuid.UUID  `json:"story_id"`
	ChapterID     *uuid.UUID `json:"chapter_id,omitempty"`
	ChapterNumber int        `json:"chapter_number"`
	Error         string     `json:"error,omitempty"`
}

// TaskDispatchResult reports an attempt to enqueue a generation job. A failed
// dispatch is a structured outcome, not an error, so the caller can render a
// retry-later message instead of an error page.
type TaskDispatchResult struct {
	Success    bool      `json:"success"`
	TaskID     uuid.UUID `json:"task_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	RetryAfter int       `json:"retry_after,omitempty"`
}

// DispatchOK builds a successful dispatch result.
func DispatchOK(taskID uuid.UUID) TaskDispatchResult {
	return TaskDispatchResult{Success: true, TaskID: taskID}
}

// DispatchUnavailable builds the broker-unreachable dispatch result.
func DispatchUnavailable() TaskDispatchResult {
	return TaskDispatchResult{
		Success:    false,
		Error:      BrokerUnavailableError,
		RetryAfter: DefaultRetryAfterSeconds,
	}
}
