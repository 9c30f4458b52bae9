package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"story-server/internal/messaging"
)

// TaskPublisher is a testify mock of messaging.TaskPublisher.
type TaskPublisher struct {
	mock.Mock
}

func (m *TaskPublisher) PublishChapterTask(ctx context.Context, payload messaging.ChapterTaskPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *TaskPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}
