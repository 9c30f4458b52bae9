// Package parser extracts chapter prose and continuation choices from raw
// model output. The format the model was asked for is not guaranteed, so
// parsing degrades step by step instead of failing: delimited sections first,
// then a trailing numbered block, then the bare text. Parse never returns an
// error; the worst malformed input yields empty content and no choices.
package parser

import (
	"regexp"
	"strings"

	"story-server/internal/models"
)

// Delimiter tokens the model is instructed to emit.
const (
	chapterOpen  = "[CHAPTER]"
	chapterClose = "[/CHAPTER]"
	choicesOpen  = "[CHOICES]"
	choicesClose = "[/CHOICES]"
)

// Parsed is the structured form of one model response.
type Parsed struct {
	Content string
	Choices []string
}

var (
	numberedItem  = regexp.MustCompile(`^\s*\d+[.)]\s*(.+)$`)
	excessNewline = regexp.MustCompile(`\n{3,}`)
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
)

// Parse extracts chapter content and at most three continuation choices from
// a raw model response.
func Parse(raw string) Parsed {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Parsed{Choices: []string{}}
	}

	content, choicesText, delimited := splitSections(raw)
	content = stripDelimiterTokens(content)
	content = stripFillerPhrases(content)
	content = normalizeWhitespace(content)

	choices := []string{}
	if delimited {
		choices = numberedItems(choicesText)
	}
	if len(choices) == 0 && content != "" {
		content, choices = extractTrailingChoices(content)
		content = normalizeWhitespace(content)
	}
	if len(choices) > models.MaxChoicesPerChapter {
		choices = choices[:models.MaxChoicesPerChapter]
	}

	return Parsed{Content: content, Choices: choices}
}

// splitSections separates the chapter prose from the delimited choices
// section. When both chapter delimiters are present the content is the text
// between them; otherwise the whole response is content with any choices
// section excised. The choices text is returned whenever its opening
// delimiter exists, closed or not.
func splitSections(raw string) (content, choicesText string, delimited bool) {
	if start, end, ok := delimitedSpan(raw, chapterOpen, chapterClose); ok {
		content = strings.TrimSpace(raw[start:end])
	} else {
		content = raw
	}

	if start, end, ok := delimitedSpan(raw, choicesOpen, choicesClose); ok {
		choicesText = raw[start:end]
		delimited = true
	}

	// A choices section nested in (or left inside) the content would leak
	// numbered lines into the prose.
	if start, end, ok := delimitedSpan(content, choicesOpen, choicesClose); ok {
		sectionEnd := end + len(choicesClose)
		if sectionEnd > len(content) {
			sectionEnd = len(content)
		}
		content = content[:start-len(choicesOpen)] + content[sectionEnd:]
	}

	return content, choicesText, delimited
}

// delimitedSpan locates the text between open and close. A missing close
// token extends the span to the end of the string.
func delimitedSpan(s, open, close string) (start, end int, ok bool) {
	idx := strings.Index(s, open)
	if idx == -1 {
		return 0, 0, false
	}
	start = idx + len(open)
	rel := strings.Index(s[start:], close)
	if rel == -1 {
		return start, len(s), true
	}
	return start, start + rel, true
}

func stripDelimiterTokens(content string) string {
	for _, token := range []string{chapterOpen, chapterClose, choicesOpen, choicesClose} {
		content = strings.ReplaceAll(content, token, "")
	}
	return content
}

func stripFillerPhrases(content string) string {
	for _, pattern := range fillerPatterns {
		content = pattern.ReplaceAllString(content, "")
	}
	return content
}

func normalizeWhitespace(content string) string {
	content = trailingSpace.ReplaceAllString(content, "\n")
	content = excessNewline.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

// numberedItems parses every numbered line ("1. item" or "2) item") in the
// text, in source order, with the numbering stripped.
func numberedItems(text string) []string {
	items := []string{}
	for _, line := range strings.Split(text, "\n") {
		if m := numberedItem.FindStringSubmatch(line); m != nil {
			if item := strings.TrimSpace(m[1]); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}

// choiceStrategy tries to recover choices from unstructured content. It
// returns the content with the recovered block removed, or ok=false when the
// content does not match.
type choiceStrategy func(content string) (cleaned string, choices []string, ok bool)

// Fallback strategies in priority order: a marker-led trailing list wins over
// a bare one.
var fallbackStrategies = []choiceStrategy{markerLedTrailingList, bareTrailingList}

func extractTrailingChoices(content string) (string, []string) {
	for _, strategy := range fallbackStrategies {
		if cleaned, choices, ok := strategy(content); ok {
			return cleaned, choices
		}
	}
	return content, []string{}
}

// trailingRun finds the contiguous run of numbered lines that ends the
// content. It returns the index of the first line of the run and the index
// just past the last non-blank line, or ok=false when the content does not
// end with a numbered line.
func trailingRun(lines []string) (runStart, runEnd int, ok bool) {
	last := len(lines) - 1
	for last >= 0 && strings.TrimSpace(lines[last]) == "" {
		last--
	}
	if last < 0 || !numberedItem.MatchString(lines[last]) {
		return 0, 0, false
	}

	first := last
	for first-1 >= 0 && numberedItem.MatchString(lines[first-1]) {
		first--
	}
	return first, last + 1, true
}

// markerLedTrailingList matches a trailing numbered run directly preceded by
// a marker phrase such as "Options:" or "Варианты:". One item is enough when
// a marker vouches for the list.
func markerLedTrailingList(content string) (string, []string, bool) {
	lines := strings.Split(content, "\n")
	runStart, runEnd, ok := trailingRun(lines)
	if !ok {
		return "", nil, false
	}

	markerIdx := runStart - 1
	for markerIdx >= 0 && strings.TrimSpace(lines[markerIdx]) == "" {
		markerIdx--
	}
	if markerIdx < 0 || !isMarkerLine(lines[markerIdx]) {
		return "", nil, false
	}

	choices := numberedItems(strings.Join(lines[runStart:runEnd], "\n"))
	cleaned := strings.Join(lines[:markerIdx], "\n")
	return cleaned, choices, true
}

// bareTrailingList matches a trailing numbered run with no marker. At least
// two consecutive items are required, so a single numbered line that is part
// of the narrative is never misread as a choice list.
func bareTrailingList(content string) (string, []string, bool) {
	lines := strings.Split(content, "\n")
	runStart, runEnd, ok := trailingRun(lines)
	if !ok {
		return "", nil, false
	}

	choices := numberedItems(strings.Join(lines[runStart:runEnd], "\n"))
	if len(choices) < 2 {
		return "", nil, false
	}

	cleaned := strings.Join(lines[:runStart], "\n")
	return cleaned, choices, true
}
