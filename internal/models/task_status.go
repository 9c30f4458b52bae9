package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskState enumerates the states of one background generation attempt.
// Matches the 'state' column values in the task_statuses table.
type TaskState string

const (
	TaskStatePending    TaskState = "pending"    // Dispatched, not yet picked up by a worker
	TaskStateProcessing TaskState = "processing" // A worker is generating the chapter
	TaskStateCompleted  TaskState = "completed"  // Chapter persisted successfully
	TaskStateFailed     TaskState = "failed"     // Retries exhausted or execution ceiling hit
)

// IsTerminal reports whether the state may never change again.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// IsActive reports whether the state still blocks new dispatches for the story.
func (s TaskState) IsActive() bool {
	return s == TaskStatePending || s == TaskStateProcessing
}

// TaskStatus tracks one background generation job. Its ID equals the job id
// carried in the queue payload, so a record survives worker restarts and can
// be correlated with redelivered messages.
type TaskStatus struct {
	ID            uuid.UUID `json:"id" db:"id"`
	StoryID       uuid.UUID `json:"story_id" db:"story_id"`
	ChapterNumber int       `json:"chapter_number" db:"chapter_number"`
	State         TaskState `json:"state" db:"state"`
	ErrorMessage  string    `json:"error_message" db:"error_message"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// NewTaskStatus builds a pending TaskStatus for a freshly dispatched job.
func NewTaskStatus(taskID, storyID uuid.UUID, chapterNumber int) *TaskStatus {
	return &TaskStatus{
		ID:            taskID,
		StoryID:       storyID,
		ChapterNumber: chapterNumber,
		State:         TaskStatePending,
	}
}
