package worker_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"story-server/internal/ai"
	aiMocks "story-server/internal/ai/mocks"
	"story-server/internal/messaging"
	"story-server/internal/models"
	repoMocks "story-server/internal/repository/mocks"
	"story-server/internal/worker"
)

type handlerMocks struct {
	stories   *repoMocks.StoryRepository
	chapters  *repoMocks.ChapterRepository
	tasks     *repoMocks.TaskStatusRepository
	generator *aiMocks.TextGenerator
}

func newHandler(t *testing.T, cfg worker.Config) (*worker.TaskHandler, handlerMocks) {
	t.Helper()
	m := handlerMocks{
		stories:   new(repoMocks.StoryRepository),
		chapters:  new(repoMocks.ChapterRepository),
		tasks:     new(repoMocks.TaskStatusRepository),
		generator: new(aiMocks.TextGenerator),
	}
	h := worker.NewTaskHandler(m.stories, m.chapters, m.tasks, m.generator, cfg, zap.NewNop())
	return h, m
}

func fastRetry() worker.Config {
	return worker.Config{
		Retry: worker.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
		SoftTimeLimit: 5 * time.Second,
	}
}

func testStory(maxChapters int) *models.Story {
	return &models.Story{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Title:       "The Hollow Lighthouse",
		Premise:     "A keeper finds a door below the waterline.",
		Language:    models.LanguageEnglish,
		MaxChapters: maxChapters,
		Status:      models.StoryStatusInProgress,
	}
}

func payloadFor(story *models.Story, chapterNumber int) messaging.ChapterTaskPayload {
	return messaging.ChapterTaskPayload{
		TaskID:        uuid.New(),
		StoryID:       story.ID,
		ChapterNumber: chapterNumber,
	}
}

func matchTaskStatus(taskID uuid.UUID) interface{} {
	return mock.MatchedBy(func(ts *models.TaskStatus) bool {
		return ts.ID == taskID
	})
}

const threeChoiceResponse = `[CHAPTER]
The lamp went dark at midnight and the sea held its breath.
[/CHAPTER]
[CHOICES]
1. Descend the submerged stair.
2. Signal the mainland.
3. Seal the door and wait for dawn.
[/CHOICES]`

func TestHandleGeneratesChapter(t *testing.T) {
	ctx := context.Background()
	h, m := newHandler(t, fastRetry())

	story := testStory(3)
	payload := payloadFor(story, 1)
	chapter := &models.Chapter{ID: uuid.New(), StoryID: story.ID, Number: 1}

	m.stories.On("GetByIDInternal", mock.Anything, story.ID).Return(story, nil).Once()
	m.tasks.On("GetOrCreate", mock.Anything, matchTaskStatus(payload.TaskID)).
		Return(models.NewTaskStatus(payload.TaskID, story.ID, 1), true, nil).Once()
	m.tasks.On("MarkProcessing", mock.Anything, payload.TaskID).Return(nil).Once()
	m.chapters.On("ListGeneratedBefore", mock.Anything, story.ID, 1).Return([]models.Chapter{}, nil).Once()
	m.chapters.On("GetOrCreate", mock.Anything, story.ID, 1).Return(chapter, true, nil).Once()
	m.generator.On("Generate", mock.Anything, mock.MatchedBy(func(req ai.GenerationRequest) bool {
		return req.Prompt != ""
	})).Return(&ai.GenerationResult{Text: threeChoiceResponse, Model: "llama3.2:3b"}, nil).Once()
	m.chapters.On("SetGenerated", mock.Anything, chapter.ID,
		"The lamp went dark at midnight and the sea held its breath.",
		[]string{
			"Descend the submerged stair.",
			"Signal the mainland.",
			"Seal the door and wait for dawn.",
		}).Return(nil).Once()
	m.tasks.On("MarkCompleted", mock.Anything, payload.TaskID).Return(nil).Once()

	result, err := h.Handle(ctx, payload)

	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusSuccess, result.Status)
	require.NotNil(t, result.ChapterID)
	assert.Equal(t, chapter.ID, *result.ChapterID)
	assert.Equal(t, 1, result.ChapterNumber)

	m.stories.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	m.tasks.AssertExpectations(t)
	m.chapters.AssertExpectations(t)
	m.generator.AssertExpectations(t)
}

func TestHandleFinalChapterForcesEmptyChoices(t *testing.T) {
	ctx := context.Background()
	h, m := newHandler(t, fastRetry())

	story := testStory(3)
	payload := payloadFor(story, 3)
	chapter := &models.Chapter{ID: uuid.New(), StoryID: story.ID, Number: 3}

	// The model disobeyed and appended a numbered coda anyway.
	response := `[CHAPTER]
The door closed behind the keeper for the last time.

1. There was no first option anymore.
2. There was no second option either.
[/CHAPTER]`

	m.stories.On("GetByIDInternal", mock.Anything, story.ID).Return(story, nil).Once()
	m.tasks.On("GetOrCreate", mock.Anything, matchTaskStatus(payload.TaskID)).
		Return(models.NewTaskStatus(payload.TaskID, story.ID, 3), true, nil).Once()
	m.tasks.On("MarkProcessing", mock.Anything, payload.TaskID).Return(nil).Once()
	m.chapters.On("ListGeneratedBefore", mock.Anything, story.ID, 3).Return([]models.Chapter{
		{Number: 1, Content: "First chapter.", IsGenerated: true},
		{Number: 2, Content: "Second chapter.", IsGenerated: true},
	}, nil).Once()
	m.chapters.On("GetOrCreate", mock.Anything, story.ID, 3).Return(chapter, true, nil).Once()
	m.generator.On("Generate", mock.Anything, mock.Anything).
		Return(&ai.GenerationResult{Text: response, Model: "llama3.2:3b"}, nil).Once()
	m.chapters.On("SetGenerated", mock.Anything, chapter.ID, mock.Anything, []string{}).Return(nil).Once()
	m.tasks.On("MarkCompleted", mock.Anything, payload.TaskID).Return(nil).Once()
	m.stories.On("UpdateStatus", mock.Anything, story.ID, models.StoryStatusCompleted).Return(nil).Once()

	result, err := h.Handle(ctx, payload)

	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusSuccess, result.Status)
	m.stories.AssertExpectations(t)
	m.chapters.AssertExpectations(t)
	m.tasks.AssertExpectations(t)
}

func TestHandleStoryNotFound(t *testing.T) {
	ctx := context.Background()
	h, m := newHandler(t, fastRetry())

	payload := messaging.ChapterTaskPayload{
		TaskID:        uuid.New(),
		StoryID:       uuid.New(),
		ChapterNumber: 1,
	}

	m.stories.On("GetByIDInternal", mock.Anything, payload.StoryID).
		Return(nil, models.ErrStoryNotFound).Once()

	result, err := h.Handle(ctx, payload)

	require.NoError(t, err, "missing story is a recorded outcome, not an infrastructure failure")
	assert.Equal(t, models.GenerationStatusError, result.Status)
	assert.Equal(t, "story not found", result.Error)

	// No stray task status for an orphaned job id.
	m.tasks.AssertNotCalled(t, "GetOrCreate", mock.Anything, mock.Anything)
	m.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestHandleRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	h, m := newHandler(t, fastRetry())

	story := testStory(5)
	payload := payloadFor(story, 2)
	chapter := &models.Chapter{ID: uuid.New(), StoryID: story.ID, Number: 2}

	m.stories.On("GetByIDInternal", mock.Anything, story.ID).Return(story, nil).Once()
	m.tasks.On("GetOrCreate", mock.Anything, matchTaskStatus(payload.TaskID)).
		Return(models.NewTaskStatus(payload.TaskID, story.ID, 2), true, nil).Once()
	m.tasks.On("MarkProcessing", mock.Anything, payload.TaskID).Return(nil).Once()
	m.chapters.On("ListGeneratedBefore", mock.Anything, story.ID, 2).Return([]models.Chapter{
		{Number: 1, Content: "First chapter.", IsGenerated: true},
	}, nil).Once()
	m.chapters.On("GetOrCreate", mock.Anything, story.ID, 2).Return(chapter, false, nil).Once()

	transient := generationFailure("connection refused")
	m.generator.On("Generate", mock.Anything, mock.Anything).Return(nil, transient).Twice()
	m.generator.On("Generate", mock.Anything, mock.Anything).
		Return(&ai.GenerationResult{Text: threeChoiceResponse, Model: "llama3.2:3b"}, nil).Once()

	m.chapters.On("SetGenerated", mock.Anything, chapter.ID, mock.Anything, mock.Anything).Return(nil).Once()
	m.tasks.On("MarkCompleted", mock.Anything, payload.TaskID).Return(nil).Once()

	result, err := h.Handle(ctx, payload)

	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusSuccess, result.Status)
	m.tasks.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
	m.generator.AssertExpectations(t)
	m.tasks.AssertExpectations(t)
}

func TestHandleExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	h, m := newHandler(t, fastRetry())

	story := testStory(5)
	payload := payloadFor(story, 2)
	chapter := &models.Chapter{ID: uuid.New(), StoryID: story.ID, Number: 2}

	m.stories.On("GetByIDInternal", mock.Anything, story.ID).Return(story, nil).Once()
	m.tasks.On("GetOrCreate", mock.Anything, matchTaskStatus(payload.TaskID)).
		Return(models.NewTaskStatus(payload.TaskID, story.ID, 2), true, nil).Once()
	m.tasks.On("MarkProcessing", mock.Anything, payload.TaskID).Return(nil).Once()
	m.chapters.On("ListGeneratedBefore", mock.Anything, story.ID, 2).Return([]models.Chapter{}, nil).Once()
	m.chapters.On("GetOrCreate", mock.Anything, story.ID, 2).Return(chapter, true, nil).Once()

	lastErr := generationFailure("backend returned status 503")
	m.generator.On("Generate", mock.Anything, mock.Anything).Return(nil, lastErr).Times(3)
	m.tasks.On("MarkFailed", mock.Anything, payload.TaskID, lastErr.Error()).Return(nil).Once()

	result, err := h.Handle(ctx, payload)

	require.NoError(t, err, "recorded failure is a terminal outcome, message must be acked")
	assert.Equal(t, models.GenerationStatusError, result.Status)
	assert.Equal(t, lastErr.Error(), result.Error)
	m.tasks.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything)
	m.chapters.AssertNotCalled(t, "SetGenerated", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.generator.AssertExpectations(t)
	m.tasks.AssertExpectations(t)
}

func TestHandleSoftTimeLimit(t *testing.T) {
	ctx := context.Background()
	cfg := fastRetry()
	cfg.SoftTimeLimit = 50 * time.Millisecond
	h, m := newHandler(t, cfg)

	story := testStory(5)
	payload := payloadFor(story, 1)
	chapter := &models.Chapter{ID: uuid.New(), StoryID: story.ID, Number: 1}

	m.stories.On("GetByIDInternal", mock.Anything, story.ID).Return(story, nil).Once()
	m.tasks.On("GetOrCreate", mock.Anything, matchTaskStatus(payload.TaskID)).
		Return(models.NewTaskStatus(payload.TaskID, story.ID, 1), true, nil).Once()
	m.tasks.On("MarkProcessing", mock.Anything, payload.TaskID).Return(nil).Once()
	m.chapters.On("ListGeneratedBefore", mock.Anything, story.ID, 1).Return([]models.Chapter{}, nil).Once()
	m.chapters.On("GetOrCreate", mock.Anything, story.ID, 1).Return(chapter, true, nil).Once()

	m.generator.On("Generate", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(80 * time.Millisecond) }).
		Return(nil, context.DeadlineExceeded).Once()
	m.tasks.On("MarkFailed", mock.Anything, payload.TaskID, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "execution time limit")
	})).Return(nil).Once()

	result, err := h.Handle(ctx, payload)

	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusError, result.Status)
	assert.Contains(t, result.Error, "execution time limit")
	m.generator.AssertNumberOfCalls(t, "Generate", 1)
	m.tasks.AssertExpectations(t)
}

func TestHandleReplaysCompletedTask(t *testing.T) {
	ctx := context.Background()
	h, m := newHandler(t, fastRetry())

	story := testStory(5)
	payload := payloadFor(story, 1)
	generated := &models.Chapter{
		ID:          uuid.New(),
		StoryID:     story.ID,
		Number:      1,
		Content:     "Already written.",
		Choices:     []string{"Go on"},
		IsGenerated: true,
	}
	terminal := &models.TaskStatus{
		ID:            payload.TaskID,
		StoryID:       story.ID,
		ChapterNumber: 1,
		State:         models.TaskStateCompleted,
	}

	m.stories.On("GetByIDInternal", mock.Anything, story.ID).Return(story, nil).Once()
	m.tasks.On("GetOrCreate", mock.Anything, matchTaskStatus(payload.TaskID)).Return(terminal, false, nil).Once()
	m.chapters.On("GetByNumber", mock.Anything, story.ID, 1).Return(generated, nil).Once()
	// Guarded transition: terminal states never change.
	m.tasks.On("MarkCompleted", mock.Anything, payload.TaskID).Return(models.ErrTaskFinished).Once()

	result, err := h.Handle(ctx, payload)

	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusSuccess, result.Status)
	require.NotNil(t, result.ChapterID)
	assert.Equal(t, generated.ID, *result.ChapterID)

	m.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	m.chapters.AssertNotCalled(t, "GetOrCreate", mock.Anything, mock.Anything, mock.Anything)
	m.tasks.AssertNotCalled(t, "MarkProcessing", mock.Anything, mock.Anything)
}

func TestHandleSkipsRegenerationOfGeneratedChapter(t *testing.T) {
	ctx := context.Background()
	h, m := newHandler(t, fastRetry())

	story := testStory(5)
	payload := payloadFor(story, 2)
	generated := &models.Chapter{
		ID:          uuid.New(),
		StoryID:     story.ID,
		Number:      2,
		Content:     "Persisted before the ack was lost.",
		IsGenerated: true,
	}

	m.stories.On("GetByIDInternal", mock.Anything, story.ID).Return(story, nil).Once()
	m.tasks.On("GetOrCreate", mock.Anything, matchTaskStatus(payload.TaskID)).
		Return(&models.TaskStatus{
			ID:            payload.TaskID,
			StoryID:       story.ID,
			ChapterNumber: 2,
			State:         models.TaskStateProcessing,
		}, false, nil).Once()
	m.tasks.On("MarkProcessing", mock.Anything, payload.TaskID).Return(nil).Once()
	m.chapters.On("ListGeneratedBefore", mock.Anything, story.ID, 2).Return([]models.Chapter{}, nil).Once()
	m.chapters.On("GetOrCreate", mock.Anything, story.ID, 2).Return(generated, false, nil).Once()
	m.tasks.On("MarkCompleted", mock.Anything, payload.TaskID).Return(nil).Once()

	result, err := h.Handle(ctx, payload)

	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusSuccess, result.Status)
	m.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	m.chapters.AssertNotCalled(t, "SetGenerated", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandlePropagatesRepositoryErrors(t *testing.T) {
	ctx := context.Background()
	h, m := newHandler(t, fastRetry())

	story := testStory(5)
	payload := payloadFor(story, 1)
	dbErr := errors.New("connection pool exhausted")

	m.stories.On("GetByIDInternal", mock.Anything, story.ID).Return(story, nil).Once()
	m.tasks.On("GetOrCreate", mock.Anything, matchTaskStatus(payload.TaskID)).
		Return(nil, false, dbErr).Once()

	result, err := h.Handle(ctx, payload)

	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.Equal(t, models.GenerationStatusError, result.Status)
	m.tasks.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

// generationFailure builds a client-shaped generation failure.
func generationFailure(detail string) error {
	return fmt.Errorf("%w: %s", ai.ErrGenerationFailed, detail)
}
