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
	insertChapterPlaceholderQuery = `
        INSERT INTO chapters
            (id, story_id, chapter_number, content, choices, is_generated, created_at)
        VALUES
            ($1, $2, $3, '', '[]', FALSE, $4)
        ON CONFLICT (story_id, chapter_number) DO NOTHING
    `
	getChapterByNumberQuery = `
        SELECT id, story_id, chapter_number, content, choices, selected_choice, is_generated, created_at
        FROM chapters
        WHERE story_id = $1 AND chapter_number = $2
    `
	getChapterByIDQuery = `
        SELECT id, story_id, chapter_number, content, choices, selected_choice, is_generated, created_at
        FROM chapters
        WHERE id = $1 AND story_id = $2
    `
	listChaptersByStoryQuery = `
        SELECT id, story_id, chapter_number, content, choices, selected_choice, is_generated, created_at
        FROM chapters
        WHERE story_id = $1
        ORDER BY chapter_number ASC
    `
	listGeneratedChaptersBeforeQuery = `
        SELECT id, story_id, chapter_number, content, choices, selected_choice, is_generated, created_at
        FROM chapters
        WHERE story_id = $1 AND chapter_number < $2 AND is_generated = TRUE
        ORDER BY chapter_number ASC
    `
	setChapterGeneratedQuery = `
        UPDATE chapters SET content = $1, choices = $2, is_generated = TRUE WHERE id = $3
    `
	setChapterSelectedChoiceQuery = `
        UPDATE chapters SET selected_choice = $1 WHERE id = $2 AND selected_choice IS NULL
    `
	chapterExistsQuery = `
        SELECT EXISTS(SELECT 1 FROM chapters WHERE id = $1)
    `
	countGeneratedChaptersQuery = `
        SELECT COUNT(*) FROM chapters WHERE story_id = $1 AND is_generated = TRUE
    `
	deleteChaptersByStoryQuery = `
        DELETE FROM chapters WHERE story_id = $1
    `
)

// Compile-time check
var _ ChapterRepository = (*pgChapterRepository)(nil)

type pgChapterRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgChapterRepository builds a PostgreSQL-backed ChapterRepository.
func NewPgChapterRepository(db DBTX, logger *zap.Logger) ChapterRepository {
	return &pgChapterRepository{
		db:     db,
		logger: logger.Named("PgChapterRepo"),
	}
}

// GetOrCreate inserts an empty placeholder row unless one already
// exists for the (story, number) pair, then returns the current row.
// Safe against concurrent workers handling a redelivered task.
func (r *pgChapterRepository) GetOrCreate(ctx context.Context, storyID uuid.UUID, number int) (*models.Chapter, bool, error) {
	log := r.logger.With(zap.String("storyID", storyID.String()), zap.Int("chapterNumber", number))

	commandTag, err := r.db.Exec(ctx, insertChapterPlaceholderQuery,
		uuid.New(), storyID, number, time.Now().UTC())
	if err != nil {
		log.Error("Failed to insert chapter placeholder", zap.Error(err))
		return nil, false, fmt.Errorf("failed to insert chapter placeholder: %w", err)
	}
	created := commandTag.RowsAffected() > 0

	chapter, err := r.GetByNumber(ctx, storyID, number)
	if err != nil {
		return nil, false, err
	}
	if created {
		log.Info("Chapter placeholder created", zap.String("chapterID", chapter.ID.String()))
	}
	return chapter, created, nil
}

func (r *pgChapterRepository) GetByID(ctx context.Context, id uuid.UUID, storyID uuid.UUID) (*models.Chapter, error) {
	log := r.logger.With(zap.String("chapterID", id.String()), zap.String("storyID", storyID.String()))

	var chapter models.Chapter
	err := pgxscan.Get(ctx, r.db, &chapter, getChapterByIDQuery, id, storyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Warn("Chapter not found")
			return nil, models.ErrChapterNotFound
		}
		log.Error("Failed to get chapter", zap.Error(err))
		return nil, fmt.Errorf("failed to get chapter %s: %w", id, err)
	}
	return &chapter, nil
}

func (r *pgChapterRepository) GetByNumber(ctx context.Context, storyID uuid.UUID, number int) (*models.Chapter, error) {
	log := r.logger.With(zap.String("storyID", storyID.String()), zap.Int("chapterNumber", number))

	var chapter models.Chapter
	err := pgxscan.Get(ctx, r.db, &chapter, getChapterByNumberQuery, storyID, number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Warn("Chapter not found by number")
			return nil, models.ErrChapterNotFound
		}
		log.Error("Failed to get chapter by number", zap.Error(err))
		return nil, fmt.Errorf("failed to get chapter %d of story %s: %w", number, storyID, err)
	}
	return &chapter, nil
}

func (r *pgChapterRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Chapter, error) {
	log := r.logger.With(zap.String("storyID", storyID.String()))

	var chapters []models.Chapter
	err := pgxscan.Select(ctx, r.db, &chapters, listChaptersByStoryQuery, storyID)
	if err != nil {
		log.Error("Failed to list chapters", zap.Error(err))
		return nil, fmt.Errorf("failed to list chapters of story %s: %w", storyID, err)
	}
	if chapters == nil {
		chapters = []models.Chapter{}
	}
	return chapters, nil
}

func (r *pgChapterRepository) ListGeneratedBefore(ctx context.Context, storyID uuid.UUID, number int) ([]models.Chapter, error) {
	log := r.logger.With(zap.String("storyID", storyID.String()), zap.Int("before", number))

	var chapters []models.Chapter
	err := pgxscan.Select(ctx, r.db, &chapters, listGeneratedChaptersBeforeQuery, storyID, number)
	if err != nil {
		log.Error("Failed to list generated chapters", zap.Error(err))
		return nil, fmt.Errorf("failed to list generated chapters of story %s: %w", storyID, err)
	}
	return chapters, nil
}

func (r *pgChapterRepository) SetGenerated(ctx context.Context, id uuid.UUID, content string, choices []string) error {
	log := r.logger.With(zap.String("chapterID", id.String()), zap.Int("choices", len(choices)))

	if choices == nil {
		choices = []string{}
	}
	commandTag, err := r.db.Exec(ctx, setChapterGeneratedQuery, content, choices, id)
	if err != nil {
		log.Error("Failed to store generated chapter", zap.Error(err))
		return fmt.Errorf("failed to store generated chapter %s: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		log.Warn("Attempted to fill non-existent chapter")
		return models.ErrChapterNotFound
	}
	log.Info("Chapter content stored")
	return nil
}

// SetSelectedChoice records the picked continuation. The update is
// guarded so a choice can be recorded at most once per chapter.
func (r *pgChapterRepository) SetSelectedChoice(ctx context.Context, id uuid.UUID, choice string) error {
	log := r.logger.With(zap.String("chapterID", id.String()))

	commandTag, err := r.db.Exec(ctx, setChapterSelectedChoiceQuery, choice, id)
	if err != nil {
		log.Error("Failed to set selected choice", zap.Error(err))
		return fmt.Errorf("failed to set selected choice on chapter %s: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, chapterExistsQuery, id).Scan(&exists); err != nil {
			log.Error("Failed to check chapter existence", zap.Error(err))
			return fmt.Errorf("failed to check chapter %s: %w", id, err)
		}
		if exists {
			log.Warn("Choice already selected for chapter")
			return models.ErrChoiceNotSelectable
		}
		log.Warn("Attempted to select choice on non-existent chapter")
		return models.ErrChapterNotFound
	}
	log.Info("Choice selected")
	return nil
}

func (r *pgChapterRepository) CountGenerated(ctx context.Context, storyID uuid.UUID) (int, error) {
	log := r.logger.With(zap.String("storyID", storyID.String()))

	var count int
	if err := r.db.QueryRow(ctx, countGeneratedChaptersQuery, storyID).Scan(&count); err != nil {
		log.Error("Failed to count generated chapters", zap.Error(err))
		return 0, fmt.Errorf("failed to count generated chapters of story %s: %w", storyID, err)
	}
	return count, nil
}

func (r *pgChapterRepository) DeleteByStory(ctx context.Context, storyID uuid.UUID) error {
	log := r.logger.With(zap.String("storyID", storyID.String()))

	if _, err := r.db.Exec(ctx, deleteChaptersByStoryQuery, storyID); err != nil {
		log.Error("Failed to delete chapters", zap.Error(err))
		return fmt.Errorf("failed to delete chapters of story %s: %w", storyID, err)
	}
	log.Info("Chapters deleted")
	return nil
}
