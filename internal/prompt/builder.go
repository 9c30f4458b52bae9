// Package prompt assembles LLM prompts for chapter generation. Building is a
// pure function of the story, its prior chapters, and the user's choice, so
// the worker can rebuild an identical prompt on every retry.
package prompt

import (
	"fmt"
	"strings"

	"story-server/internal/models"
)

const (
	// historyWindow bounds how many prior chapters are summarized. Older
	// chapters fall out of context to keep the prompt short.
	historyWindow = 3
	// summaryBudget bounds each chapter summary, in characters.
	summaryBudget = 200
)

// BuildChapterPrompt produces the full prompt for generating chapterNumber of
// the story. selectedChoice is the user's continuation from the previous
// chapter, empty for chapter 1. All section labels follow the story language;
// the system template switches to the no-choices variant on the final chapter.
func BuildChapterPrompt(story *models.Story, previousChapters []models.Chapter, selectedChoice string, chapterNumber int) string {
	t := templatesFor(story.Language)

	system := t.system
	if story.IsFinalChapter(chapterNumber) {
		system = t.finalSystem
	}

	parts := []string{system, "", "---", ""}

	parts = append(parts, fmt.Sprintf(t.premiseLabel, story.Premise), "")

	if len(previousChapters) > 0 {
		parts = append(parts, t.historyHeader)
		window := previousChapters
		if len(window) > historyWindow {
			window = window[len(window)-historyWindow:]
		}
		for _, chapter := range window {
			parts = append(parts, fmt.Sprintf(t.chapterLine, chapter.Number, summarize(chapter.Content, summaryBudget)))
		}
		parts = append(parts, "")
	}

	if selectedChoice != "" {
		parts = append(parts, fmt.Sprintf(t.choiceLabel, selectedChoice), "")
	}

	parts = append(parts, fmt.Sprintf(t.instruction, chapterNumber))

	return strings.Join(parts, "\n")
}

// summarize trims chapter content to maxLength characters, cutting at a word
// boundary and appending an ellipsis when truncated.
func summarize(content string, maxLength int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= maxLength {
		return content
	}

	cut := string(runes[:maxLength])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
