package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"story-server/internal/ai"
	aiMocks "story-server/internal/ai/mocks"
	"story-server/internal/handler"
	"story-server/internal/models"
	"story-server/internal/service"
	serviceMocks "story-server/internal/service/mocks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(svc service.StoryService, generator ai.TextGenerator) *gin.Engine {
	router := gin.New()
	h := handler.NewStoryHandler(svc, generator, zap.NewNop())
	h.RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, userID *uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != nil {
		req.Header.Set("X-User-ID", userID.String())
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateStoryReturnsCreated(t *testing.T) {
	svc := new(serviceMocks.StoryService)
	router := newRouter(svc, new(aiMocks.TextGenerator))
	userID := uuid.New()

	story := models.NewStory(userID, "Title", "Premise", models.LanguageEnglish, 5)
	taskID := uuid.New()
	svc.On("CreateStory", mock.Anything, userID, service.CreateStoryParams{
		Title:       "Title",
		Premise:     "Premise",
		Language:    "en",
		MaxChapters: 5,
	}).Return(story, models.DispatchOK(taskID), nil).Once()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/stories", &userID, gin.H{
		"title":        "Title",
		"premise":      "Premise",
		"language":     "en",
		"max_chapters": 5,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Story struct {
			ID string `json:"id"`
		} `json:"story"`
		Generation struct {
			TaskID  string `json:"task_id"`
			Warning string `json:"warning"`
		} `json:"generation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, story.ID.String(), resp.Story.ID)
	assert.Equal(t, taskID.String(), resp.Generation.TaskID)
	assert.Empty(t, resp.Generation.Warning)
}

func TestCreateStoryBrokerDownStillCreated(t *testing.T) {
	svc := new(serviceMocks.StoryService)
	router := newRouter(svc, new(aiMocks.TextGenerator))
	userID := uuid.New()

	story := models.NewStory(userID, "Title", "Premise", models.LanguageRussian, 10)
	svc.On("CreateStory", mock.Anything, userID, mock.Anything).
		Return(story, models.DispatchUnavailable(), nil).Once()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/stories", &userID, gin.H{
		"title":   "Title",
		"premise": "Premise",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Generation struct {
			TaskID     string `json:"task_id"`
			Warning    string `json:"warning"`
			RetryAfter int    `json:"retry_after"`
		} `json:"generation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Generation.TaskID)
	assert.Contains(t, resp.Generation.Warning, models.BrokerUnavailableError)
	assert.Equal(t, models.DefaultRetryAfterSeconds, resp.Generation.RetryAfter)
}

func TestCreateStoryRejectsBadBody(t *testing.T) {
	svc := new(serviceMocks.StoryService)
	router := newRouter(svc, new(aiMocks.TextGenerator))
	userID := uuid.New()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/stories", &userID, gin.H{
		"premise": "Premise without a title",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "CreateStory", mock.Anything, mock.Anything, mock.Anything)
}

func TestStoriesRequireIdentity(t *testing.T) {
	svc := new(serviceMocks.StoryService)
	router := newRouter(svc, new(aiMocks.TextGenerator))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/stories", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stories", nil)
	req.Header.Set("X-User-ID", "not-a-uuid")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetStoryNotFound(t *testing.T) {
	svc := new(serviceMocks.StoryService)
	router := newRouter(svc, new(aiMocks.TextGenerator))
	userID := uuid.New()
	storyID := uuid.New()

	svc.On("GetStory", mock.Anything, userID, storyID).
		Return(nil, models.ErrStoryNotFound).Once()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/stories/"+storyID.String(), &userID, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSelectChoiceAccepted(t *testing.T) {
	svc := new(serviceMocks.StoryService)
	router := newRouter(svc, new(aiMocks.TextGenerator))
	userID := uuid.New()
	storyID := uuid.New()
	chapterID := uuid.New()
	taskID := uuid.New()

	svc.On("SelectChoice", mock.Anything, userID, storyID, chapterID, "Go left", "").
		Return(models.DispatchOK(taskID), nil).Once()

	rec := doJSON(t, router, http.MethodPost,
		"/api/v1/stories/"+storyID.String()+"/chapters/"+chapterID.String()+"/choice",
		&userID, gin.H{"selected_choice": "Go left"})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, taskID.String(), resp.TaskID)
}

func TestSelectChoiceConflictWhileGenerating(t *testing.T) {
	svc := new(serviceMocks.StoryService)
	router := newRouter(svc, new(aiMocks.TextGenerator))
	userID := uuid.New()
	storyID := uuid.New()
	chapterID := uuid.New()

	svc.On("SelectChoice", mock.Anything, userID, storyID, chapterID, "Go left", "").
		Return(models.TaskDispatchResult{}, models.ErrGenerationInProgress).Once()

	rec := doJSON(t, router, http.MethodPost,
		"/api/v1/stories/"+storyID.String()+"/chapters/"+chapterID.String()+"/choice",
		&userID, gin.H{"selected_choice": "Go left"})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSelectChoiceBrokerDown(t *testing.T) {
	svc := new(serviceMocks.StoryService)
	router := newRouter(svc, new(aiMocks.TextGenerator))
	userID := uuid.New()
	storyID := uuid.New()
	chapterID := uuid.New()

	svc.On("SelectChoice", mock.Anything, userID, storyID, chapterID, "Go left", "").
		Return(models.DispatchUnavailable(), nil).Once()

	rec := doJSON(t, router, http.MethodPost,
		"/api/v1/stories/"+storyID.String()+"/chapters/"+chapterID.String()+"/choice",
		&userID, gin.H{"selected_choice": "Go left"})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGenerationStatusPolling(t *testing.T) {
	svc := new(serviceMocks.StoryService)
	router := newRouter(svc, new(aiMocks.TextGenerator))
	userID := uuid.New()
	storyID := uuid.New()

	status := &models.TaskStatus{
		ID:            uuid.New(),
		StoryID:       storyID,
		ChapterNumber: 2,
		State:         models.TaskStateFailed,
		ErrorMessage:  "text generation failed: backend returned status 503",
	}
	svc.On("GenerationStatus", mock.Anything, userID, storyID).Return(status, nil).Once()

	rec := doJSON(t, router, http.MethodGet,
		"/api/v1/stories/"+storyID.String()+"/generation-status", &userID, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		State         string `json:"state"`
		ChapterNumber int    `json:"chapter_number"`
		ErrorMessage  string `json:"error_message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp.State)
	assert.Equal(t, 2, resp.ChapterNumber)
	assert.Contains(t, resp.ErrorMessage, "503")
}

func TestGeneratorHealth(t *testing.T) {
	svc := new(serviceMocks.StoryService)
	generator := new(aiMocks.TextGenerator)
	router := newRouter(svc, generator)

	generator.On("IsAvailable", mock.Anything).Return(true).Once()
	rec := doJSON(t, router, http.MethodGet, "/api/v1/generator/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	generator.ExpectedCalls = nil
	generator.On("IsAvailable", mock.Anything).Return(false).Once()
	rec = doJSON(t, router, http.MethodGet, "/api/v1/generator/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDeleteStory(t *testing.T) {
	svc := new(serviceMocks.StoryService)
	router := newRouter(svc, new(aiMocks.TextGenerator))
	userID := uuid.New()
	storyID := uuid.New()

	svc.On("DeleteStory", mock.Anything, userID, storyID).Return(nil).Once()

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/stories/"+storyID.String(), &userID, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	svc.AssertExpectations(t)
}
