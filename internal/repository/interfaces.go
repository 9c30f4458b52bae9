// Package repository persists stories, chapters and generation task
// state in PostgreSQL, and holds short-lived generation leases in
// Redis.
package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"story-server/internal/models"
)

// DBTX abstracts the pgx query surface so repositories run unchanged
// against a pool, a single connection or a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StoryRepository manages story records.
type StoryRepository interface {
	// Create inserts a new story.
	Create(ctx context.Context, story *models.Story) error
	// GetByID retrieves a story owned by the given user.
	GetByID(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Story, error)
	// GetByIDInternal retrieves a story without ownership scoping.
	// Used by background workers that act on queue payloads.
	GetByIDInternal(ctx context.Context, id uuid.UUID) (*models.Story, error)
	// ListByUser returns all stories of a user, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Story, error)
	// UpdateStatus transitions a story to the given status.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.StoryStatus) error
	// Delete removes a story owned by the given user along with its
	// chapters and task records.
	Delete(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
}

// ChapterRepository manages chapter records.
type ChapterRepository interface {
	// GetOrCreate returns the chapter with the given number, inserting
	// an empty placeholder when none exists yet. The second return
	// value reports whether a new row was created.
	GetOrCreate(ctx context.Context, storyID uuid.UUID, number int) (*models.Chapter, bool, error)
	// GetByID retrieves a chapter belonging to the given story.
	GetByID(ctx context.Context, id uuid.UUID, storyID uuid.UUID) (*models.Chapter, error)
	// GetByNumber retrieves a chapter by its position in the story.
	GetByNumber(ctx context.Context, storyID uuid.UUID, number int) (*models.Chapter, error)
	// ListByStory returns all chapters of a story ordered by number.
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Chapter, error)
	// ListGeneratedBefore returns generated chapters with numbers below
	// the given one, ordered by number. Used to build prompt history.
	ListGeneratedBefore(ctx context.Context, storyID uuid.UUID, number int) ([]models.Chapter, error)
	// SetGenerated fills a placeholder chapter with generated content
	// and choices and marks it generated.
	SetGenerated(ctx context.Context, id uuid.UUID, content string, choices []string) error
	// SetSelectedChoice records the continuation the user picked.
	SetSelectedChoice(ctx context.Context, id uuid.UUID, choice string) error
	// CountGenerated returns how many chapters of a story are generated.
	CountGenerated(ctx context.Context, storyID uuid.UUID) (int, error)
	// DeleteByStory removes all chapters of a story.
	DeleteByStory(ctx context.Context, storyID uuid.UUID) error
}

// TaskStatusRepository manages generation task records.
type TaskStatusRepository interface {
	// GetOrCreate returns the record with the given task ID, inserting
	// it in pending state when none exists. The second return value
	// reports whether a new row was created.
	GetOrCreate(ctx context.Context, status *models.TaskStatus) (*models.TaskStatus, bool, error)
	// GetByID retrieves a task record.
	GetByID(ctx context.Context, id uuid.UUID) (*models.TaskStatus, error)
	// GetLatestByStory returns the most recently created task record
	// for a story.
	GetLatestByStory(ctx context.Context, storyID uuid.UUID) (*models.TaskStatus, error)
	// HasActive reports whether the story has a task in pending or
	// processing state.
	HasActive(ctx context.Context, storyID uuid.UUID) (bool, error)
	// MarkProcessing transitions a task to processing. Returns
	// models.ErrTaskFinished when the task already reached a terminal
	// state.
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	// MarkCompleted transitions a task to completed.
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	// MarkFailed transitions a task to failed and records the error.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	// DeleteByStory removes all task records of a story.
	DeleteByStory(ctx context.Context, storyID uuid.UUID) error
}

// GenerationLocker grants short-lived per-story leases so that at most
// one generation job is dispatched per story at a time.
type GenerationLocker interface {
	// Acquire takes the lease for a story. It returns false when
	// another dispatch currently holds it.
	Acquire(ctx context.Context, storyID uuid.UUID, taskID uuid.UUID) (bool, error)
	// Release frees the lease.
	Release(ctx context.Context, storyID uuid.UUID) error
}
