package handler

import (
	"time"

	"github.com/google/uuid"

	"story-server/internal/models"
	"story-server/internal/service"
)

// apiError is the standard error response body.
type apiError struct {
	Message string `json:"message"`
}

type createStoryRequest struct {
	Title       string `json:"title" binding:"required"`
	Premise     string `json:"premise" binding:"required"`
	Language    string `json:"language"`
	MaxChapters int    `json:"max_chapters"`
}

type selectChoiceRequest struct {
	SelectedChoice string `json:"selected_choice"`
	UserInput      string `json:"user_input"`
}

// generationInfo reports the dispatch outcome alongside a story
// response. A failed dispatch carries a warning instead of a task id:
// the story exists, generation just has to be retried.
type generationInfo struct {
	TaskID     *uuid.UUID `json:"task_id,omitempty"`
	Warning    string     `json:"warning,omitempty"`
	RetryAfter int        `json:"retry_after,omitempty"`
}

func newGenerationInfo(dispatch models.TaskDispatchResult) generationInfo {
	if dispatch.Success {
		taskID := dispatch.TaskID
		return generationInfo{TaskID: &taskID}
	}
	return generationInfo{
		Warning:    "generation could not be started: " + dispatch.Error,
		RetryAfter: dispatch.RetryAfter,
	}
}

type storyResponse struct {
	ID          uuid.UUID          `json:"id"`
	Title       string             `json:"title"`
	Premise     string             `json:"premise"`
	Language    string             `json:"language"`
	MaxChapters int                `json:"max_chapters"`
	Status      models.StoryStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func newStoryResponse(story models.Story) storyResponse {
	return storyResponse{
		ID:          story.ID,
		Title:       story.Title,
		Premise:     story.Premise,
		Language:    story.Language,
		MaxChapters: story.MaxChapters,
		Status:      story.Status,
		CreatedAt:   story.CreatedAt,
		UpdatedAt:   story.UpdatedAt,
	}
}

type createStoryResponse struct {
	Story      storyResponse  `json:"story"`
	Generation generationInfo `json:"generation"`
}

type storyListItemResponse struct {
	ID           uuid.UUID          `json:"id"`
	Title        string             `json:"title"`
	Language     string             `json:"language"`
	MaxChapters  int                `json:"max_chapters"`
	Status       models.StoryStatus `json:"status"`
	ChapterCount int                `json:"chapter_count"`
	CreatedAt    time.Time          `json:"created_at"`
}

func newStoryListResponse(items []service.StoryListItem) []storyListItemResponse {
	out := make([]storyListItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, storyListItemResponse{
			ID:           item.Story.ID,
			Title:        item.Story.Title,
			Language:     item.Story.Language,
			MaxChapters:  item.Story.MaxChapters,
			Status:       item.Story.Status,
			ChapterCount: item.ChapterCount,
			CreatedAt:    item.Story.CreatedAt,
		})
	}
	return out
}

type chapterResponse struct {
	ID             uuid.UUID `json:"id"`
	ChapterNumber  int       `json:"chapter_number"`
	Content        string    `json:"content"`
	Choices        []string  `json:"choices"`
	SelectedChoice *string   `json:"selected_choice,omitempty"`
	IsGenerated    bool      `json:"is_generated"`
	IsFinal        bool      `json:"is_final"`
	CreatedAt      time.Time `json:"created_at"`
}

func newChapterResponse(chapter models.Chapter, maxChapters int) chapterResponse {
	choices := chapter.Choices
	if choices == nil {
		choices = []string{}
	}
	return chapterResponse{
		ID:             chapter.ID,
		ChapterNumber:  chapter.Number,
		Content:        chapter.Content,
		Choices:        choices,
		SelectedChoice: chapter.SelectedChoice,
		IsGenerated:    chapter.IsGenerated,
		IsFinal:        chapter.Number >= maxChapters,
		CreatedAt:      chapter.CreatedAt,
	}
}

func newChapterListResponse(chapters []models.Chapter, maxChapters int) []chapterResponse {
	out := make([]chapterResponse, 0, len(chapters))
	for _, chapter := range chapters {
		out = append(out, newChapterResponse(chapter, maxChapters))
	}
	return out
}

type storyDetailResponse struct {
	Story    storyResponse     `json:"story"`
	Chapters []chapterResponse `json:"chapters"`
}

type generationStatusResponse struct {
	TaskID        uuid.UUID        `json:"task_id"`
	ChapterNumber int              `json:"chapter_number"`
	State         models.TaskState `json:"state"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func newGenerationStatusResponse(status *models.TaskStatus) generationStatusResponse {
	return generationStatusResponse{
		TaskID:        status.ID,
		ChapterNumber: status.ChapterNumber,
		State:         status.State,
		ErrorMessage:  status.ErrorMessage,
		UpdatedAt:     status.UpdatedAt,
	}
}
