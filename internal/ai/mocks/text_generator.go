// Package mocks holds a testify mock of the ai.TextGenerator interface.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"story-server/internal/ai"
)

// TextGenerator is a testify mock of ai.TextGenerator.
type TextGenerator struct {
	mock.Mock
}

func (m *TextGenerator) Generate(ctx context.Context, req ai.GenerationRequest) (*ai.GenerationResult, error) {
	args := m.Called(ctx, req)
	if result, ok := args.Get(0).(*ai.GenerationResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TextGenerator) GenerateAsync(ctx context.Context, req ai.GenerationRequest) <-chan ai.AsyncResult {
	args := m.Called(ctx, req)
	if ch, ok := args.Get(0).(<-chan ai.AsyncResult); ok {
		return ch
	}
	out := make(chan ai.AsyncResult, 1)
	result, _ := args.Get(0).(*ai.GenerationResult)
	out <- ai.AsyncResult{Result: result, Err: args.Error(1)}
	close(out)
	return out
}

func (m *TextGenerator) IsAvailable(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}
