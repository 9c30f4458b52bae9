package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"story-server/internal/ai"
	"story-server/internal/models"
	"story-server/internal/service"
)

// StoryHandler serves the story REST API.
type StoryHandler struct {
	service   service.StoryService
	generator ai.TextGenerator
	logger    *zap.Logger
}

// NewStoryHandler builds a StoryHandler.
func NewStoryHandler(svc service.StoryService, generator ai.TextGenerator, logger *zap.Logger) *StoryHandler {
	return &StoryHandler{
		service:   svc,
		generator: generator,
		logger:    logger.Named("StoryHandler"),
	}
}

// RegisterRoutes attaches all story routes to the router.
func (h *StoryHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api/v1")
	api.GET("/generator/health", h.generatorHealth)

	stories := api.Group("/stories", UserIdentity())
	stories.POST("", h.createStory)
	stories.GET("", h.listStories)
	stories.GET("/:id", h.getStory)
	stories.DELETE("/:id", h.deleteStory)
	stories.POST("/:id/restart", h.restartStory)
	stories.GET("/:id/chapters", h.listChapters)
	stories.POST("/:id/chapters/:chapterID/choice", h.selectChoice)
	stories.GET("/:id/generation-status", h.generationStatus)
}

func (h *StoryHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// generatorHealth probes the text generation backend. 503 means the
// backend is down, not this server.
func (h *StoryHandler) generatorHealth(c *gin.Context) {
	if !h.generator.IsAvailable(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *StoryHandler) createStory(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	var req createStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid create story request", zap.Error(err))
		c.JSON(http.StatusBadRequest, apiError{Message: models.ErrInvalidInput.Error()})
		return
	}

	story, dispatch, err := h.service.CreateStory(c.Request.Context(), userID, service.CreateStoryParams{
		Title:       req.Title,
		Premise:     req.Premise,
		Language:    req.Language,
		MaxChapters: req.MaxChapters,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	// 201 even when the broker was down: the story was created and
	// the response carries the warning.
	c.JSON(http.StatusCreated, createStoryResponse{
		Story:      newStoryResponse(*story),
		Generation: newGenerationInfo(dispatch),
	})
}

func (h *StoryHandler) listStories(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	items, err := h.service.ListStories(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stories": newStoryListResponse(items)})
}

func (h *StoryHandler) getStory(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	storyID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	detail, err := h.service.GetStory(c.Request.Context(), userID, storyID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, storyDetailResponse{
		Story:    newStoryResponse(detail.Story),
		Chapters: newChapterListResponse(detail.Chapters, detail.Story.MaxChapters),
	})
}

func (h *StoryHandler) deleteStory(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	storyID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteStory(c.Request.Context(), userID, storyID); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StoryHandler) restartStory(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	storyID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	story, dispatch, err := h.service.RestartStory(c.Request.Context(), userID, storyID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, createStoryResponse{
		Story:      newStoryResponse(*story),
		Generation: newGenerationInfo(dispatch),
	})
}

func (h *StoryHandler) listChapters(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	storyID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	detail, err := h.service.GetStory(c.Request.Context(), userID, storyID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chapters": newChapterListResponse(detail.Chapters, detail.Story.MaxChapters)})
}

func (h *StoryHandler) selectChoice(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	storyID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	chapterID, ok := h.pathUUID(c, "chapterID")
	if !ok {
		return
	}

	var req selectChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid select choice request", zap.Error(err))
		c.JSON(http.StatusBadRequest, apiError{Message: models.ErrInvalidInput.Error()})
		return
	}

	dispatch, err := h.service.SelectChoice(c.Request.Context(), userID, storyID, chapterID, req.SelectedChoice, req.UserInput)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	if !dispatch.Success {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"message":     "generation could not be started, try again later",
			"retry_after": dispatch.RetryAfter,
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": dispatch.TaskID})
}

func (h *StoryHandler) generationStatus(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	storyID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	status, err := h.service.GenerationStatus(c.Request.Context(), userID, storyID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newGenerationStatusResponse(status))
}

func (h *StoryHandler) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Message: "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// handleServiceError maps domain errors onto HTTP statuses.
func (h *StoryHandler) handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrStoryNotFound),
		errors.Is(err, models.ErrChapterNotFound),
		errors.Is(err, models.ErrTaskStatusNotFound):
		c.JSON(http.StatusNotFound, apiError{Message: err.Error()})
	case errors.Is(err, models.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, apiError{Message: err.Error()})
	case errors.Is(err, models.ErrGenerationInProgress),
		errors.Is(err, models.ErrStoryNotContinuable),
		errors.Is(err, models.ErrChoiceNotSelectable):
		c.JSON(http.StatusConflict, apiError{Message: err.Error()})
	case errors.Is(err, models.ErrBrokerUnavailable):
		c.JSON(http.StatusServiceUnavailable, apiError{Message: err.Error()})
	default:
		h.logger.Error("Unhandled service error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, apiError{Message: models.ErrInternalServer.Error()})
	}
}
