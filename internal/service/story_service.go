// Package service implements the trigger-side story operations: CRUD
// over stories and chapters, choice selection, and the dispatch of
// generation jobs with the one-job-per-story gate.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"story-server/internal/messaging"
	"story-server/internal/models"
	"story-server/internal/repository"
)

const maxTitleLength = 200

// CreateStoryParams carries the validated-on-entry fields for a new
// story. Zero values fall back to defaults where the model allows it.
type CreateStoryParams struct {
	Title       string
	Premise     string
	Language    string
	MaxChapters int
}

// StoryListItem pairs a story with its generated chapter count for
// list views.
type StoryListItem struct {
	Story        models.Story `json:"story"`
	ChapterCount int          `json:"chapter_count"`
}

// StoryDetail is a story with its chapters, ordered by number.
type StoryDetail struct {
	Story    models.Story     `json:"story"`
	Chapters []models.Chapter `json:"chapters"`
}

// StoryService is the API surface of the trigger side. Generation
// itself runs on the worker; the service only gates and dispatches.
type StoryService interface {
	// CreateStory validates and persists a new story and dispatches
	// generation of chapter 1. A failed dispatch does not fail the
	// creation: the story is kept and the dispatch result reports the
	// broker problem so the user can retry.
	CreateStory(ctx context.Context, userID uuid.UUID, params CreateStoryParams) (*models.Story, models.TaskDispatchResult, error)
	// ListStories returns the user's stories, newest first.
	ListStories(ctx context.Context, userID uuid.UUID) ([]StoryListItem, error)
	// GetStory returns one story with all its chapters.
	GetStory(ctx context.Context, userID uuid.UUID, storyID uuid.UUID) (*StoryDetail, error)
	// DeleteStory removes a story with its chapters and task records.
	DeleteStory(ctx context.Context, userID uuid.UUID, storyID uuid.UUID) error
	// RestartStory wipes all chapters and task records, resets the
	// story to in-progress and dispatches chapter 1 again.
	RestartStory(ctx context.Context, userID uuid.UUID, storyID uuid.UUID) (*models.Story, models.TaskDispatchResult, error)
	// SelectChoice records the user's continuation for a chapter and
	// dispatches generation of the next one. A non-empty userInput
	// overrides selectedChoice with free-form text.
	SelectChoice(ctx context.Context, userID uuid.UUID, storyID, chapterID uuid.UUID, selectedChoice, userInput string) (models.TaskDispatchResult, error)
	// GenerationStatus returns the latest task record for polling.
	GenerationStatus(ctx context.Context, userID uuid.UUID, storyID uuid.UUID) (*models.TaskStatus, error)
}

// Compile-time check
var _ StoryService = (*storyService)(nil)

type storyService struct {
	stories   repository.StoryRepository
	chapters  repository.ChapterRepository
	tasks     repository.TaskStatusRepository
	publisher messaging.TaskPublisher
	locker    repository.GenerationLocker
	logger    *zap.Logger
}

// NewStoryService builds a StoryService.
func NewStoryService(
	stories repository.StoryRepository,
	chapters repository.ChapterRepository,
	tasks repository.TaskStatusRepository,
	publisher messaging.TaskPublisher,
	locker repository.GenerationLocker,
	logger *zap.Logger,
) StoryService {
	return &storyService{
		stories:   stories,
		chapters:  chapters,
		tasks:     tasks,
		publisher: publisher,
		locker:    locker,
		logger:    logger.Named("StoryService"),
	}
}

func (s *storyService) CreateStory(ctx context.Context, userID uuid.UUID, params CreateStoryParams) (*models.Story, models.TaskDispatchResult, error) {
	story, err := buildStory(userID, params)
	if err != nil {
		return nil, models.TaskDispatchResult{}, err
	}

	if err := s.stories.Create(ctx, story); err != nil {
		return nil, models.TaskDispatchResult{}, fmt.Errorf("failed to create story: %w", err)
	}
	s.logger.Info("Story created",
		zap.String("storyID", story.ID.String()),
		zap.String("userID", userID.String()),
		zap.String("language", story.Language),
		zap.Int("maxChapters", story.MaxChapters))

	dispatch, err := s.dispatchGeneration(ctx, story, 1, "")
	if err != nil {
		// The story exists either way; gate violations right after
		// creation can only come from concurrent create calls and are
		// reported as an unavailable dispatch.
		if errors.Is(err, models.ErrGenerationInProgress) {
			return story, models.DispatchUnavailable(), nil
		}
		return story, models.TaskDispatchResult{}, err
	}
	return story, dispatch, nil
}

func (s *storyService) ListStories(ctx context.Context, userID uuid.UUID) ([]StoryListItem, error) {
	stories, err := s.stories.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}

	items := make([]StoryListItem, 0, len(stories))
	for _, story := range stories {
		count, err := s.chapters.CountGenerated(ctx, story.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count chapters of story %s: %w", story.ID, err)
		}
		items = append(items, StoryListItem{Story: story, ChapterCount: count})
	}
	return items, nil
}

func (s *storyService) GetStory(ctx context.Context, userID uuid.UUID, storyID uuid.UUID) (*StoryDetail, error) {
	story, err := s.stories.GetByID(ctx, storyID, userID)
	if err != nil {
		return nil, err
	}
	chapters, err := s.chapters.ListByStory(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	return &StoryDetail{Story: *story, Chapters: chapters}, nil
}

func (s *storyService) DeleteStory(ctx context.Context, userID uuid.UUID, storyID uuid.UUID) error {
	return s.stories.Delete(ctx, storyID, userID)
}

func (s *storyService) RestartStory(ctx context.Context, userID uuid.UUID, storyID uuid.UUID) (*models.Story, models.TaskDispatchResult, error) {
	story, err := s.stories.GetByID(ctx, storyID, userID)
	if err != nil {
		return nil, models.TaskDispatchResult{}, err
	}

	active, err := s.tasks.HasActive(ctx, storyID)
	if err != nil {
		return nil, models.TaskDispatchResult{}, fmt.Errorf("failed to check active generation: %w", err)
	}
	if active {
		return nil, models.TaskDispatchResult{}, models.ErrGenerationInProgress
	}

	if err := s.chapters.DeleteByStory(ctx, storyID); err != nil {
		return nil, models.TaskDispatchResult{}, fmt.Errorf("failed to delete chapters: %w", err)
	}
	if err := s.tasks.DeleteByStory(ctx, storyID); err != nil {
		return nil, models.TaskDispatchResult{}, fmt.Errorf("failed to delete task statuses: %w", err)
	}
	if story.Status != models.StoryStatusInProgress {
		if err := s.stories.UpdateStatus(ctx, storyID, models.StoryStatusInProgress); err != nil {
			return nil, models.TaskDispatchResult{}, fmt.Errorf("failed to reset story status: %w", err)
		}
		story.Status = models.StoryStatusInProgress
	}
	s.logger.Info("Story restarted", zap.String("storyID", storyID.String()))

	dispatch, err := s.dispatchGeneration(ctx, story, 1, "")
	if err != nil {
		if errors.Is(err, models.ErrGenerationInProgress) {
			return story, models.DispatchUnavailable(), nil
		}
		return story, models.TaskDispatchResult{}, err
	}
	return story, dispatch, nil
}

func (s *storyService) SelectChoice(ctx context.Context, userID uuid.UUID, storyID, chapterID uuid.UUID, selectedChoice, userInput string) (models.TaskDispatchResult, error) {
	story, err := s.stories.GetByID(ctx, storyID, userID)
	if err != nil {
		return models.TaskDispatchResult{}, err
	}

	generatedCount, err := s.chapters.CountGenerated(ctx, storyID)
	if err != nil {
		return models.TaskDispatchResult{}, fmt.Errorf("failed to count chapters: %w", err)
	}
	if !story.CanContinue(generatedCount) {
		return models.TaskDispatchResult{}, models.ErrStoryNotContinuable
	}

	chapter, err := s.chapters.GetByID(ctx, chapterID, storyID)
	if err != nil {
		return models.TaskDispatchResult{}, err
	}
	if !chapter.CanSelectChoice(story.MaxChapters) {
		return models.TaskDispatchResult{}, models.ErrChoiceNotSelectable
	}

	choice, err := resolveChoice(chapter, selectedChoice, userInput)
	if err != nil {
		return models.TaskDispatchResult{}, err
	}

	if err := s.chapters.SetSelectedChoice(ctx, chapterID, choice); err != nil {
		return models.TaskDispatchResult{}, fmt.Errorf("failed to record selected choice: %w", err)
	}
	s.logger.Info("Choice selected",
		zap.String("storyID", storyID.String()),
		zap.Int("chapter", chapter.Number))

	return s.dispatchGeneration(ctx, story, chapter.Number+1, choice)
}

func (s *storyService) GenerationStatus(ctx context.Context, userID uuid.UUID, storyID uuid.UUID) (*models.TaskStatus, error) {
	if _, err := s.stories.GetByID(ctx, storyID, userID); err != nil {
		return nil, err
	}
	return s.tasks.GetLatestByStory(ctx, storyID)
}

// dispatchGeneration enqueues one generation job behind the
// per-story gate. The Redis lease closes the race between concurrent
// dispatch requests; the task status check is the authoritative gate.
// A broker failure is a structured unavailable result with no task
// status row written, never an error.
func (s *storyService) dispatchGeneration(ctx context.Context, story *models.Story, chapterNumber int, selectedChoice string) (models.TaskDispatchResult, error) {
	taskID := uuid.New()
	log := s.logger.With(
		zap.String("storyID", story.ID.String()),
		zap.String("taskID", taskID.String()),
		zap.Int("chapter", chapterNumber))

	acquired, err := s.locker.Acquire(ctx, story.ID, taskID)
	if err != nil {
		// A lease that cannot be read counts as held; refusing a
		// dispatch is cheaper than double-generating a chapter.
		log.Warn("Generation lease unavailable, refusing dispatch", zap.Error(err))
		return models.TaskDispatchResult{}, models.ErrGenerationInProgress
	}
	if !acquired {
		return models.TaskDispatchResult{}, models.ErrGenerationInProgress
	}
	defer func() {
		if err := s.locker.Release(ctx, story.ID); err != nil {
			log.Warn("Failed to release generation lease", zap.Error(err))
		}
	}()

	active, err := s.tasks.HasActive(ctx, story.ID)
	if err != nil {
		return models.TaskDispatchResult{}, fmt.Errorf("failed to check active generation: %w", err)
	}
	if active {
		return models.TaskDispatchResult{}, models.ErrGenerationInProgress
	}

	payload := messaging.ChapterTaskPayload{
		TaskID:         taskID,
		StoryID:        story.ID,
		ChapterNumber:  chapterNumber,
		SelectedChoice: selectedChoice,
	}
	if err := s.publisher.PublishChapterTask(ctx, payload); err != nil {
		// No task status row for a job that was never enqueued.
		log.Error("Failed to publish generation task, broker unavailable", zap.Error(err))
		return models.DispatchUnavailable(), nil
	}

	if _, _, err := s.tasks.GetOrCreate(ctx, models.NewTaskStatus(taskID, story.ID, chapterNumber)); err != nil {
		// The job is already on the queue; the worker's own
		// create-or-fetch will produce the row. Only the pending
		// marker is lost.
		log.Warn("Failed to record pending task status after publish", zap.Error(err))
	}

	log.Info("Generation task dispatched")
	return models.DispatchOK(taskID), nil
}

// buildStory validates CreateStoryParams into a Story.
func buildStory(userID uuid.UUID, params CreateStoryParams) (*models.Story, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" || len([]rune(title)) > maxTitleLength {
		return nil, fmt.Errorf("%w: title must be 1-%d characters", models.ErrInvalidInput, maxTitleLength)
	}
	premise := strings.TrimSpace(params.Premise)
	if premise == "" {
		return nil, fmt.Errorf("%w: premise must not be empty", models.ErrInvalidInput)
	}

	language := params.Language
	if language == "" {
		language = models.LanguageRussian
	}
	if language != models.LanguageRussian && language != models.LanguageEnglish {
		return nil, fmt.Errorf("%w: unsupported language %q", models.ErrInvalidInput, params.Language)
	}

	maxChapters := params.MaxChapters
	if maxChapters == 0 {
		maxChapters = models.DefaultMaxChapters
	}
	if maxChapters < models.MinChapters || maxChapters > models.MaxChaptersLimit {
		return nil, fmt.Errorf("%w: max_chapters must be %d-%d", models.ErrInvalidInput, models.MinChapters, models.MaxChaptersLimit)
	}

	return models.NewStory(userID, title, premise, language, maxChapters), nil
}

// resolveChoice picks the continuation text: free-form user input wins
// over a listed choice, and a listed choice must actually be offered
// by the chapter.
func resolveChoice(chapter *models.Chapter, selectedChoice, userInput string) (string, error) {
	userInput = strings.TrimSpace(userInput)
	if userInput != "" {
		if len([]rune(userInput)) > models.MaxCustomChoiceLength {
			return "", fmt.Errorf("%w: user input must be at most %d characters", models.ErrInvalidInput, models.MaxCustomChoiceLength)
		}
		return userInput, nil
	}

	selectedChoice = strings.TrimSpace(selectedChoice)
	if selectedChoice == "" {
		return "", fmt.Errorf("%w: either selected_choice or user_input is required", models.ErrInvalidInput)
	}
	for _, offered := range chapter.Choices {
		if offered == selectedChoice {
			return selectedChoice, nil
		}
	}
	return "", fmt.Errorf("%w: selected choice is not offered by the chapter", models.ErrInvalidInput)
}
