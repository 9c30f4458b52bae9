package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxChoicesPerChapter caps how many continuation options a chapter may carry.
const MaxChoicesPerChapter = 3

// MaxCustomChoiceLength bounds free-form continuation text typed by the user.
const MaxCustomChoiceLength = 500

// Chapter is one generated unit of story text plus up to three continuation
// options. Rows are created as empty placeholders when generation starts and
// filled in place on success.
type Chapter struct {
	ID             uuid.UUID `json:"id" db:"id"`
	StoryID        uuid.UUID `json:"story_id" db:"story_id"`
	Number         int       `json:"chapter_number" db:"chapter_number"`
	Content        string    `json:"content" db:"content"`
	Choices        []string  `json:"choices" db:"choices"`
	SelectedChoice *string   `json:"selected_choice,omitempty" db:"selected_choice"`
	IsGenerated    bool      `json:"is_generated" db:"is_generated"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// CanSelectChoice reports whether the user may still pick a continuation for
// this chapter. Final chapters never offer choices.
func (c *Chapter) CanSelectChoice(maxChapters int) bool {
	return c.IsGenerated && c.SelectedChoice == nil && c.Number < maxChapters
}
