// Package mocks holds testify mocks for the repository interfaces.
package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"story-server/internal/models"
)

// StoryRepository is a testify mock of repository.StoryRepository.
type StoryRepository struct {
	mock.Mock
}

func (m *StoryRepository) Create(ctx context.Context, story *models.Story) error {
	args := m.Called(ctx, story)
	return args.Error(0)
}

func (m *StoryRepository) GetByID(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Story, error) {
	args := m.Called(ctx, id, userID)
	if story, ok := args.Get(0).(*models.Story); ok {
		return story, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoryRepository) GetByIDInternal(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	args := m.Called(ctx, id)
	if story, ok := args.Get(0).(*models.Story); ok {
		return story, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoryRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Story, error) {
	args := m.Called(ctx, userID)
	if stories, ok := args.Get(0).([]models.Story); ok {
		return stories, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.StoryStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *StoryRepository) Delete(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	args := m.Called(ctx, id, userID)
	return args.Error(0)
}

// ChapterRepository is a testify mock of repository.ChapterRepository.
type ChapterRepository struct {
	mock.Mock
}

func (m *ChapterRepository) GetOrCreate(ctx context.Context, storyID uuid.UUID, number int) (*models.Chapter, bool, error) {
	args := m.Called(ctx, storyID, number)
	if chapter, ok := args.Get(0).(*models.Chapter); ok {
		return chapter, args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *ChapterRepository) GetByID(ctx context.Context, id uuid.UUID, storyID uuid.UUID) (*models.Chapter, error) {
	args := m.Called(ctx, id, storyID)
	if chapter, ok := args.Get(0).(*models.Chapter); ok {
		return chapter, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ChapterRepository) GetByNumber(ctx context.Context, storyID uuid.UUID, number int) (*models.Chapter, error) {
	args := m.Called(ctx, storyID, number)
	if chapter, ok := args.Get(0).(*models.Chapter); ok {
		return chapter, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ChapterRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Chapter, error) {
	args := m.Called(ctx, storyID)
	if chapters, ok := args.Get(0).([]models.Chapter); ok {
		return chapters, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ChapterRepository) ListGeneratedBefore(ctx context.Context, storyID uuid.UUID, number int) ([]models.Chapter, error) {
	args := m.Called(ctx, storyID, number)
	if chapters, ok := args.Get(0).([]models.Chapter); ok {
		return chapters, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ChapterRepository) SetGenerated(ctx context.Context, id uuid.UUID, content string, choices []string) error {
	args := m.Called(ctx, id, content, choices)
	return args.Error(0)
}

func (m *ChapterRepository) SetSelectedChoice(ctx context.Context, id uuid.UUID, choice string) error {
	args := m.Called(ctx, id, choice)
	return args.Error(0)
}

func (m *ChapterRepository) CountGenerated(ctx context.Context, storyID uuid.UUID) (int, error) {
	args := m.Called(ctx, storyID)
	return args.Int(0), args.Error(1)
}

func (m *ChapterRepository) DeleteByStory(ctx context.Context, storyID uuid.UUID) error {
	args := m.Called(ctx, storyID)
	return args.Error(0)
}

// TaskStatusRepository is a testify mock of repository.TaskStatusRepository.
type TaskStatusRepository struct {
	mock.Mock
}

func (m *TaskStatusRepository) GetOrCreate(ctx context.Context, status *models.TaskStatus) (*models.TaskStatus, bool, error) {
	args := m.Called(ctx, status)
	if ts, ok := args.Get(0).(*models.TaskStatus); ok {
		return ts, args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *TaskStatusRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TaskStatus, error) {
	args := m.Called(ctx, id)
	if ts, ok := args.Get(0).(*models.TaskStatus); ok {
		return ts, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TaskStatusRepository) GetLatestByStory(ctx context.Context, storyID uuid.UUID) (*models.TaskStatus, error) {
	args := m.Called(ctx, storyID)
	if ts, ok := args.Get(0).(*models.TaskStatus); ok {
		return ts, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TaskStatusRepository) HasActive(ctx context.Context, storyID uuid.UUID) (bool, error) {
	args := m.Called(ctx, storyID)
	return args.Bool(0), args.Error(1)
}

func (m *TaskStatusRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *TaskStatusRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *TaskStatusRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	args := m.Called(ctx, id, errorMessage)
	return args.Error(0)
}

func (m *TaskStatusRepository) DeleteByStory(ctx context.Context, storyID uuid.UUID) error {
	args := m.Called(ctx, storyID)
	return args.Error(0)
}

// GenerationLocker is a testify mock of repository.GenerationLocker.
type GenerationLocker struct {
	mock.Mock
}

func (m *GenerationLocker) Acquire(ctx context.Context, storyID uuid.UUID, taskID uuid.UUID) (bool, error) {
	args := m.Called(ctx, storyID, taskID)
	return args.Bool(0), args.Error(1)
}

func (m *GenerationLocker) Release(ctx context.Context, storyID uuid.UUID) error {
	args := m.Called(ctx, storyID)
	return args.Error(0)
}
