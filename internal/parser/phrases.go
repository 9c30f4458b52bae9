package parser

import (
	"regexp"
	"strings"
)

// Filler phrases the model sometimes appends to the prose instead of keeping
// them in the choices section. Stripped from content in any supported
// language, since the parser does not know the story language.
var fillerPhrases = []string{
	// Russian
	"Что произойдет дальше?",
	"Что произойдёт дальше?",
	"Что будет дальше?",
	// English
	"What happens next?",
	"What will happen next?",
}

// Marker phrases that introduce a trailing list of choices when the model
// omits the choices delimiters.
var markerPhrases = []string{
	// Russian
	"варианты:",
	"варианты продолжения:",
	"выберите вариант:",
	"что ты выберешь?",
	"что вы выберете?",
	// English
	"options:",
	"choices:",
	"your choices:",
	"what will you do?",
	"what do you do?",
}

var fillerPatterns = compileFillerPatterns()

func compileFillerPatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(fillerPhrases))
	for _, phrase := range fillerPhrases {
		patterns = append(patterns, regexp.MustCompile("(?i)"+regexp.QuoteMeta(phrase)))
	}
	return patterns
}

// isMarkerLine reports whether the line is a choice-list marker.
func isMarkerLine(line string) bool {
	normalized := strings.ToLower(strings.TrimSpace(line))
	if normalized == "" {
		return false
	}
	for _, marker := range markerPhrases {
		if strings.HasPrefix(normalized, marker) {
			return true
		}
	}
	return false
}
