// Package worker runs the chapter generation pipeline: it consumes
// task messages, drives the generate-parse-persist cycle and advances
// the task and story state machines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"story-server/internal/ai"
	"story-server/internal/messaging"
	"story-server/internal/models"
	"story-server/internal/parser"
	"story-server/internal/prompt"
	"story-server/internal/repository"
)

// statusWriteTimeout bounds the failure-recording write that runs
// after the task context has already expired.
const statusWriteTimeout = 10 * time.Second

// RetryPolicy bounds task-level generation retries. These wrap the
// client's own transport retries: the client retries individual HTTP
// calls, the task retries whole generation attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 5 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Minute
	}
	return p
}

// delayBefore returns the backoff applied after the given failed
// attempt with ±10% jitter, growing exponentially up to MaxDelay.
func (p RetryPolicy) delayBefore(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if capped := float64(p.MaxDelay); delay > capped {
		delay = capped
	}
	jitter := delay * 0.1
	delay += jitter * (rand.Float64()*2 - 1)
	return time.Duration(delay)
}

// Config tunes the task handler.
type Config struct {
	Retry RetryPolicy
	// SoftTimeLimit is the execution ceiling for one task, spanning
	// all generation attempts. On expiry the task is marked failed
	// and not retried further.
	SoftTimeLimit time.Duration
}

func (c Config) withDefaults() Config {
	c.Retry = c.Retry.withDefaults()
	if c.SoftTimeLimit <= 0 {
		c.SoftTimeLimit = 5 * time.Minute
	}
	return c
}

// TaskHandler processes one chapter generation task end to end.
type TaskHandler struct {
	stories   repository.StoryRepository
	chapters  repository.ChapterRepository
	tasks     repository.TaskStatusRepository
	generator ai.TextGenerator
	cfg       Config
	logger    *zap.Logger
}

// NewTaskHandler builds a TaskHandler.
func NewTaskHandler(
	stories repository.StoryRepository,
	chapters repository.ChapterRepository,
	tasks repository.TaskStatusRepository,
	generator ai.TextGenerator,
	cfg Config,
	logger *zap.Logger,
) *TaskHandler {
	return &TaskHandler{
		stories:   stories,
		chapters:  chapters,
		tasks:     tasks,
		generator: generator,
		cfg:       cfg.withDefaults(),
		logger:    logger.Named("TaskHandler"),
	}
}

// Handle runs one generation task. The returned result is terminal
// either way: a success result or an error result means the outcome
// was recorded and the message may be acknowledged. A non-nil error
// means an unexpected infrastructure failure; the caller should
// dead-letter the delivery so the processing state is preserved for
// inspection.
func (h *TaskHandler) Handle(ctx context.Context, payload messaging.ChapterTaskPayload) (models.GenerationTaskResult, error) {
	start := time.Now()
	log := h.logger.With(
		zap.String("taskID", payload.TaskID.String()),
		zap.String("storyID", payload.StoryID.String()),
		zap.Int("chapter", payload.ChapterNumber),
	)
	log.Info("Processing generation task")

	ctx, cancel := context.WithTimeout(ctx, h.cfg.SoftTimeLimit)
	defer cancel()

	story, err := h.stories.GetByIDInternal(ctx, payload.StoryID)
	if err != nil {
		if errors.Is(err, models.ErrStoryNotFound) {
			// An orphaned job id must not leave a stray record, so the
			// task status is never created for a missing story.
			log.Warn("Story not found, dropping task")
			recordTaskFailed(failureReasonStoryNotFound, time.Since(start))
			return h.errorResult(payload, "story not found"), nil
		}
		return h.errorResult(payload, err.Error()), fmt.Errorf("failed to load story: %w", err)
	}

	task, created, err := h.tasks.GetOrCreate(ctx, models.NewTaskStatus(payload.TaskID, payload.StoryID, payload.ChapterNumber))
	if err != nil {
		return h.errorResult(payload, err.Error()), fmt.Errorf("failed to get or create task status: %w", err)
	}
	if !created && task.State.IsTerminal() {
		// Redelivery of a finished job: report the recorded outcome.
		return h.replayTerminal(ctx, log, story, task, payload, start)
	}

	if err := h.tasks.MarkProcessing(ctx, payload.TaskID); err != nil {
		return h.errorResult(payload, err.Error()), fmt.Errorf("failed to mark task processing: %w", err)
	}

	priorChapters, err := h.chapters.ListGeneratedBefore(ctx, payload.StoryID, payload.ChapterNumber)
	if err != nil {
		return h.errorResult(payload, err.Error()), fmt.Errorf("failed to load prior chapters: %w", err)
	}

	chapter, chapterCreated, err := h.chapters.GetOrCreate(ctx, payload.StoryID, payload.ChapterNumber)
	if err != nil {
		return h.errorResult(payload, err.Error()), fmt.Errorf("failed to get or create chapter: %w", err)
	}
	if !chapterCreated && chapter.IsGenerated {
		// The worker crashed between persisting the chapter and
		// acknowledging the message. Finish the bookkeeping and
		// report success without regenerating.
		log.Info("Chapter already generated, completing redelivered task")
		return h.finishGenerated(ctx, story, chapter, payload, 0, start)
	}

	promptText := prompt.BuildChapterPrompt(story, priorChapters, payload.SelectedChoice, payload.ChapterNumber)

	var generated *ai.GenerationResult
	attempts := 0
	for attempt := 1; attempt <= h.cfg.Retry.MaxAttempts; attempt++ {
		attempts = attempt
		generated, err = h.generator.Generate(ctx, ai.GenerationRequest{Prompt: promptText})
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return h.failTask(log, payload, failureReasonTimeout,
				fmt.Sprintf("generation aborted: execution time limit of %v exceeded", h.cfg.SoftTimeLimit), start)
		}
		log.Warn("Generation attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", h.cfg.Retry.MaxAttempts),
			zap.Error(err))
		if attempt == h.cfg.Retry.MaxAttempts {
			return h.failTask(log, payload, failureReasonGeneration, err.Error(), start)
		}
		// The task stays in processing state while a retry is pending.
		select {
		case <-time.After(h.cfg.Retry.delayBefore(attempt)):
		case <-ctx.Done():
			return h.failTask(log, payload, failureReasonTimeout,
				fmt.Sprintf("generation aborted: execution time limit of %v exceeded", h.cfg.SoftTimeLimit), start)
		}
	}

	parsed := parser.Parse(generated.Text)
	choices := parsed.Choices
	if story.IsFinalChapter(payload.ChapterNumber) {
		// The final chapter never offers continuations, whatever the
		// model produced.
		choices = []string{}
	}

	if err := h.chapters.SetGenerated(ctx, chapter.ID, parsed.Content, choices); err != nil {
		return h.errorResult(payload, err.Error()), fmt.Errorf("failed to persist chapter: %w", err)
	}

	log.Info("Chapter generated",
		zap.Int("attempts", attempts),
		zap.Int("content_length", len(parsed.Content)),
		zap.Int("choices", len(choices)),
		zap.String("model", generated.Model))

	return h.finishGenerated(ctx, story, chapter, payload, attempts, start)
}

// finishGenerated marks the task completed, completes the story when
// the chapter was its last, and builds the success result.
func (h *TaskHandler) finishGenerated(ctx context.Context, story *models.Story, chapter *models.Chapter, payload messaging.ChapterTaskPayload, attempts int, start time.Time) (models.GenerationTaskResult, error) {
	if err := h.tasks.MarkCompleted(ctx, payload.TaskID); err != nil && !errors.Is(err, models.ErrTaskFinished) {
		return h.errorResult(payload, err.Error()), fmt.Errorf("failed to mark task completed: %w", err)
	}

	if story.IsFinalChapter(payload.ChapterNumber) && story.Status == models.StoryStatusInProgress {
		if err := h.stories.UpdateStatus(ctx, story.ID, models.StoryStatusCompleted); err != nil {
			return h.errorResult(payload, err.Error()), fmt.Errorf("failed to complete story: %w", err)
		}
	}

	recordTaskSucceeded(attempts, time.Since(start))
	chapterID := chapter.ID
	return models.GenerationTaskResult{
		Status:        models.GenerationStatusSuccess,
		StoryID:       payload.StoryID,
		ChapterID:     &chapterID,
		ChapterNumber: payload.ChapterNumber,
	}, nil
}

// replayTerminal reports the outcome already recorded for a
// redelivered task without rerunning generation.
func (h *TaskHandler) replayTerminal(ctx context.Context, log *zap.Logger, story *models.Story, task *models.TaskStatus, payload messaging.ChapterTaskPayload, start time.Time) (models.GenerationTaskResult, error) {
	if task.State == models.TaskStateFailed {
		log.Info("Redelivered task already failed", zap.String("error", task.ErrorMessage))
		recordTaskFailed(failureReasonGeneration, time.Since(start))
		return h.errorResult(payload, task.ErrorMessage), nil
	}

	log.Info("Redelivered task already completed")
	chapter, err := h.chapters.GetByNumber(ctx, payload.StoryID, payload.ChapterNumber)
	if err != nil {
		return h.errorResult(payload, err.Error()), fmt.Errorf("failed to load chapter of completed task: %w", err)
	}
	return h.finishGenerated(ctx, story, chapter, payload, 0, start)
}

// failTask records the terminal failure on the task status and builds
// the error result. The write runs on a fresh context because the
// task context may already be expired.
func (h *TaskHandler) failTask(log *zap.Logger, payload messaging.ChapterTaskPayload, reason, message string, start time.Time) (models.GenerationTaskResult, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()

	if err := h.tasks.MarkFailed(writeCtx, payload.TaskID, message); err != nil {
		log.Error("Failed to record task failure", zap.Error(err))
		return h.errorResult(payload, message), fmt.Errorf("failed to mark task failed: %w", err)
	}

	log.Error("Generation task failed", zap.String("reason", reason), zap.String("error", message))
	recordTaskFailed(reason, time.Since(start))
	return h.errorResult(payload, message), nil
}

func (h *TaskHandler) errorResult(payload messaging.ChapterTaskPayload, message string) models.GenerationTaskResult {
	return models.GenerationTaskResult{
		Status:        models.GenerationStatusError,
		StoryID:       payload.StoryID,
		ChapterNumber: payload.ChapterNumber,
		Error:         message,
	}
}
