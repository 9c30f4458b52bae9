package models

import (
	"time"

	"github.com/google/uuid"
)

// StoryStatus enumerates the lifecycle states of a story.
// Matches the 'status' column values in the stories table.
type StoryStatus string

const (
	StoryStatusInProgress StoryStatus = "in_progress" // Chapters are still being generated
	StoryStatusCompleted  StoryStatus = "completed"   // Final chapter generated
	StoryStatusCancelled  StoryStatus = "cancelled"   // Abandoned by the user
)

// Supported story languages. English is the fallback for prompt templates.
const (
	LanguageRussian = "ru"
	LanguageEnglish = "en"
)

// Bounds for MaxChapters accepted at story creation.
const (
	MinChapters        = 1
	MaxChaptersLimit   = 50
	DefaultMaxChapters = 10
)

// Story is a user-owned interactive narrative generated one chapter at a time.
type Story struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	UserID      uuid.UUID   `json:"user_id" db:"user_id"`
	Title       string      `json:"title" db:"title"`
	Premise     string      `json:"premise" db:"premise"`
	Language    string      `json:"language" db:"language"`
	MaxChapters int         `json:"max_chapters" db:"max_chapters"`
	Status      StoryStatus `json:"status" db:"status"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// NewStory builds a fresh in-progress story.
func NewStory(userID uuid.UUID, title, premise, language string, maxChapters int) *Story {
	now := time.Now().UTC()
	return &Story{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       title,
		Premise:     premise,
		Language:    language,
		MaxChapters: maxChapters,
		Status:      StoryStatusInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsFinalChapter reports whether the given chapter number is the story's last.
func (s *Story) IsFinalChapter(chapterNumber int) bool {
	return chapterNumber >= s.MaxChapters
}

// CanContinue reports whether another chapter may be generated, given the
// number of already generated chapters.
func (s *Story) CanContinue(generatedChapters int) bool {
	return s.Status == StoryStatusInProgress && generatedChapters < s.MaxChapters
}
