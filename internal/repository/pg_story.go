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
	createStoryQuery = `
        INSERT INTO stories
            (id, user_id, title, premise, language, max_chapters, status, created_at, updated_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	getStoryByIDQuery = `
        SELECT id, user_id, title, premise, language, max_chapters, status, created_at, updated_at
        FROM stories
        WHERE id = $1 AND user_id = $2
    `
	getStoryByIDInternalQuery = `
        SELECT id, user_id, title, premise, language, max_chapters, status, created_at, updated_at
        FROM stories
        WHERE id = $1
    `
	listStoriesByUserQuery = `
        SELECT id, user_id, title, premise, language, max_chapters, status, created_at, updated_at
        FROM stories
        WHERE user_id = $1
        ORDER BY created_at DESC, id DESC
    `
	updateStoryStatusQuery = `
        UPDATE stories SET status = $1, updated_at = $2 WHERE id = $3
    `
	deleteStoryQuery = `
        DELETE FROM stories WHERE id = $1 AND user_id = $2
    `
)

// Compile-time check
var _ StoryRepository = (*pgStoryRepository)(nil)

type pgStoryRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgStoryRepository builds a PostgreSQL-backed StoryRepository.
func NewPgStoryRepository(db DBTX, logger *zap.Logger) StoryRepository {
	return &pgStoryRepository{
		db:     db,
		logger: logger.Named("PgStoryRepo"),
	}
}

func (r *pgStoryRepository) Create(ctx context.Context, story *models.Story) error {
	log := r.logger.With(zap.String("storyID", story.ID.String()), zap.String("userID", story.UserID.String()))

	_, err := r.db.Exec(ctx, createStoryQuery,
		story.ID,
		story.UserID,
		story.Title,
		story.Premise,
		story.Language,
		story.MaxChapters,
		story.Status,
		story.CreatedAt,
		story.UpdatedAt,
	)
	if err != nil {
		log.Error("Failed to create story", zap.Error(err))
		return fmt.Errorf("failed to create story: %w", err)
	}
	log.Info("Story created")
	return nil
}

func (r *pgStoryRepository) GetByID(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Story, error) {
	log := r.logger.With(zap.String("storyID", id.String()), zap.String("userID", userID.String()))

	var story models.Story
	err := pgxscan.Get(ctx, r.db, &story, getStoryByIDQuery, id, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Warn("Story not found for user")
			return nil, models.ErrStoryNotFound
		}
		log.Error("Failed to get story", zap.Error(err))
		return nil, fmt.Errorf("failed to get story %s: %w", id, err)
	}
	return &story, nil
}

func (r *pgStoryRepository) GetByIDInternal(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	log := r.logger.With(zap.String("storyID", id.String()))

	var story models.Story
	err := pgxscan.Get(ctx, r.db, &story, getStoryByIDInternalQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Warn("Story not found")
			return nil, models.ErrStoryNotFound
		}
		log.Error("Failed to get story", zap.Error(err))
		return nil, fmt.Errorf("failed to get story %s: %w", id, err)
	}
	return &story, nil
}

func (r *pgStoryRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Story, error) {
	log := r.logger.With(zap.String("userID", userID.String()))

	var stories []models.Story
	err := pgxscan.Select(ctx, r.db, &stories, listStoriesByUserQuery, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []models.Story{}, nil
		}
		log.Error("Failed to list stories", zap.Error(err))
		return nil, fmt.Errorf("failed to list stories for user %s: %w", userID, err)
	}
	if stories == nil {
		stories = []models.Story{}
	}
	return stories, nil
}

func (r *pgStoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.StoryStatus) error {
	log := r.logger.With(zap.String("storyID", id.String()), zap.String("status", string(status)))

	commandTag, err := r.db.Exec(ctx, updateStoryStatusQuery, status, time.Now().UTC(), id)
	if err != nil {
		log.Error("Failed to update story status", zap.Error(err))
		return fmt.Errorf("failed to update story %s status: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		log.Warn("Attempted to update status of non-existent story")
		return models.ErrStoryNotFound
	}
	log.Info("Story status updated")
	return nil
}

func (r *pgStoryRepository) Delete(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	log := r.logger.With(zap.String("storyID", id.String()), zap.String("userID", userID.String()))

	commandTag, err := r.db.Exec(ctx, deleteStoryQuery, id, userID)
	if err != nil {
		log.Error("Failed to delete story", zap.Error(err))
		return fmt.Errorf("failed to delete story %s: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		log.Warn("Attempted to delete non-existent or unauthorized story")
		return models.ErrStoryNotFound
	}
	log.Info("Story deleted")
	return nil
}
