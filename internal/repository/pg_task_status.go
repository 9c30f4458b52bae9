package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"story-server/internal/models"
)

const (
	insertTaskStatusQuery = `
        INSERT INTO task_statuses
            (id, story_id, chapter_number, state, error_message, created_at, updated_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO NOTHING
    `
	getTaskStatusByIDQuery = `
        SELECT id, story_id, chapter_number, state, error_message, created_at, updated_at
        FROM task_statuses
        WHERE id = $1
    `
	getLatestTaskStatusByStoryQuery = `
        SELECT id, story_id, chapter_number, state, error_message, created_at, updated_at
        FROM task_statuses
        WHERE story_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT 1
    `
	hasActiveTaskQuery = `
        SELECT EXISTS(
            SELECT 1 FROM task_statuses
            WHERE story_id = $1 AND state IN ('pending', 'processing')
        )
    `
	markTaskProcessingQuery = `
        UPDATE task_statuses SET state = 'processing', updated_at = $1
        WHERE id = $2 AND state NOT IN ('completed', 'failed')
    `
	markTaskCompletedQuery = `
        UPDATE task_statuses SET state = 'completed', error_message = '', updated_at = $1
        WHERE id = $2 AND state NOT IN ('completed', 'failed')
    `
	markTaskFailedQuery = `
        UPDATE task_statuses SET state = 'failed', error_message = $1, updated_at = $2
        WHERE id = $3 AND state NOT IN ('completed', 'failed')
    `
	taskStatusExistsQuery = `
        SELECT EXISTS(SELECT 1 FROM task_statuses WHERE id = $1)
    `
	deleteTaskStatusesByStoryQuery = `
        DELETE FROM task_statuses WHERE story_id = $1
    `
)

// Compile-time check
var _ TaskStatusRepository = (*pgTaskStatusRepository)(nil)

type pgTaskStatusRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgTaskStatusRepository builds a PostgreSQL-backed
// TaskStatusRepository.
func NewPgTaskStatusRepository(db DBTX, logger *zap.Logger) TaskStatusRepository {
	return &pgTaskStatusRepository{
		db:     db,
		logger: logger.Named("PgTaskStatusRepo"),
	}
}

// GetOrCreate makes task creation idempotent: both the dispatcher and
// a worker receiving the first delivery may attempt the insert, and
// redeliveries always find the existing row.
func (r *pgTaskStatusRepository) GetOrCreate(ctx context.Context, status *models.TaskStatus) (*models.TaskStatus, bool, error) {
	log := r.logger.With(zap.String("taskID", status.ID.String()), zap.String("storyID", status.StoryID.String()))

	now := time.Now().UTC()
	state := status.State
	if state == "" {
		state = models.TaskStatePending
	}
	commandTag, err := r.db.Exec(ctx, insertTaskStatusQuery,
		status.ID,
		status.StoryID,
		status.ChapterNumber,
		state,
		status.ErrorMessage,
		now,
		now,
	)
	if err != nil {
		log.Error("Failed to insert task status", zap.Error(err))
		return nil, false, fmt.Errorf("failed to insert task status: %w", err)
	}
	created := commandTag.RowsAffected() > 0

	current, err := r.GetByID(ctx, status.ID)
	if err != nil {
		return nil, false, err
	}
	if created {
		log.Info("Task status created", zap.String("state", string(current.State)))
	}
	return current, created, nil
}

func (r *pgTaskStatusRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TaskStatus, error) {
	log := r.logger.With(zap.String("taskID", id.String()))

	var status models.TaskStatus
	err := pgxscan.Get(ctx, r.db, &status, getTaskStatusByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Warn("Task status not found")
			return nil, models.ErrTaskStatusNotFound
		}
		log.Error("Failed to get task status", zap.Error(err))
		return nil, fmt.Errorf("failed to get task status %s: %w", id, err)
	}
	return &status, nil
}

func (r *pgTaskStatusRepository) GetLatestByStory(ctx context.Context, storyID uuid.UUID) (*models.TaskStatus, error) {
	log := r.logger.With(zap.String("storyID", storyID.String()))

	var status models.TaskStatus
	err := pgxscan.Get(ctx, r.db, &status, getLatestTaskStatusByStoryQuery, storyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTaskStatusNotFound
		}
		log.Error("Failed to get latest task status", zap.Error(err))
		return nil, fmt.Errorf("failed to get latest task status of story %s: %w", storyID, err)
	}
	return &status, nil
}

func (r *pgTaskStatusRepository) HasActive(ctx context.Context, storyID uuid.UUID) (bool, error) {
	log := r.logger.With(zap.String("storyID", storyID.String()))

	var active bool
	if err := r.db.QueryRow(ctx, hasActiveTaskQuery, storyID).Scan(&active); err != nil {
		log.Error("Failed to check active tasks", zap.Error(err))
		return false, fmt.Errorf("failed to check active tasks of story %s: %w", storyID, err)
	}
	return active, nil
}

func (r *pgTaskStatusRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, markTaskProcessingQuery, time.Now().UTC(), id)
}

func (r *pgTaskStatusRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, markTaskCompletedQuery, time.Now().UTC(), id)
}

func (r *pgTaskStatusRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	return r.transition(ctx, id, markTaskFailedQuery, errorMessage, time.Now().UTC(), id)
}

// transition runs a guarded state update. Terminal states are never
// overwritten; attempting to do so yields models.ErrTaskFinished.
func (r *pgTaskStatusRepository) transition(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	log := r.logger.With(zap.String("taskID", id.String()))

	commandTag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		log.Error("Failed to transition task status", zap.Error(err))
		return fmt.Errorf("failed to transition task status %s: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, taskStatusExistsQuery, id).Scan(&exists); err != nil {
			log.Error("Failed to check task status existence", zap.Error(err))
			return fmt.Errorf("failed to check task status %s: %w", id, err)
		}
		if exists {
			log.Warn("Task status already terminal")
			return models.ErrTaskFinished
		}
		log.Warn("Task status not found for transition")
		return models.ErrTaskStatusNotFound
	}
	return nil
}

func (r *pgTaskStatusRepository) DeleteByStory(ctx context.Context, storyID uuid.UUID) error {
	log := r.logger.With(zap.String("storyID", storyID.String()))

	if _, err := r.db.Exec(ctx, deleteTaskStatusesByStoryQuery, storyID); err != nil {
		log.Error("Failed to delete task statuses", zap.Error(err))
		return fmt.Errorf("failed to delete task statuses of story %s: %w", storyID, err)
	}
	log.Info("Task statuses deleted")
	return nil
}
