package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"story-server/internal/models"
	"story-server/internal/service"
)

// StoryService is a testify mock of service.StoryService.
type StoryService struct {
	mock.Mock
}

func (m *StoryService) CreateStory(ctx context.Context, userID uuid.UUID, params service.CreateStoryParams) (*models.Story, models.TaskDispatchResult, error) {
	args := m.Called(ctx, userID, params)
	story, _ := args.Get(0).(*models.Story)
	dispatch, _ := args.Get(1).(models.TaskDispatchResult)
	return story, dispatch, args.Error(2)
}

func (m *StoryService) ListStories(ctx context.Context, userID uuid.UUID) ([]service.StoryListItem, error) {
	args := m.Called(ctx, userID)
	items, _ := args.Get(0).([]service.StoryListItem)
	return items, args.Error(1)
}

func (m *StoryService) GetStory(ctx context.Context, userID uuid.UUID, storyID uuid.UUID) (*service.StoryDetail, error) {
	args := m.Called(ctx, userID, storyID)
	detail, _ := args.Get(0).(*service.StoryDetail)
	return detail, args.Error(1)
}

func (m *StoryService) DeleteStory(ctx context.Context, userID uuid.UUID, storyID uuid.UUID) error {
	args := m.Called(ctx, userID, storyID)
	return args.Error(0)
}

func (m *StoryService) RestartStory(ctx context.Context, userID uuid.UUID, storyID uuid.UUID) (*models.Story, models.TaskDispatchResult, error) {
	args := m.Called(ctx, userID, storyID)
	story, _ := args.Get(0).(*models.Story)
	dispatch, _ := args.Get(1).(models.TaskDispatchResult)
	return story, dispatch, args.Error(2)
}

func (m *StoryService) SelectChoice(ctx context.Context, userID uuid.UUID, storyID, chapterID uuid.UUID, selectedChoice, userInput string) (models.TaskDispatchResult, error) {
	args := m.Called(ctx, userID, storyID, chapterID, selectedChoice, userInput)
	dispatch, _ := args.Get(0).(models.TaskDispatchResult)
	return dispatch, args.Error(1)
}

func (m *StoryService) GenerationStatus(ctx context.Context, userID uuid.UUID, storyID uuid.UUID) (*models.TaskStatus, error) {
	args := m.Called(ctx, userID, storyID)
	status, _ := args.Get(0).(*models.TaskStatus)
	return status, args.Error(1)
}
