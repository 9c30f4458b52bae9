package parser_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"story-server/internal/parser"
)

const wellFormedResponse = `[CHAPTER]
Анна шла по тёмному лесу, сжимая в руке старый компас деда.
Стрелка дрожала и указывала туда, где не было никакой тропы.
[/CHAPTER]

[CHOICES]
1. Пойти налево к реке
2. Пойти направо к горам
3. Вернуться назад
[/CHOICES]`

func TestParseWellFormedResponse(t *testing.T) {
	result := parser.Parse(wellFormedResponse)

	assert.Equal(t, "Анна шла по тёмному лесу, сжимая в руке старый компас деда.\nСтрелка дрожала и указывала туда, где не было никакой тропы.", result.Content)
	require.Len(t, result.Choices, 3)
	assert.Equal(t, "Пойти налево к реке", result.Choices[0])
	assert.Equal(t, "Пойти направо к горам", result.Choices[1])
	assert.Equal(t, "Вернуться назад", result.Choices[2])
}

func TestParseEmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\n\t"} {
		result := parser.Parse(input)

		assert.Equal(t, "", result.Content)
		assert.Empty(t, result.Choices)
		assert.NotNil(t, result.Choices)
	}
}

func TestParseContentWithoutChoices(t *testing.T) {
	result := parser.Parse("[CHAPTER]\nThe story ends here, quietly.\n[/CHAPTER]")

	assert.Equal(t, "The story ends here, quietly.", result.Content)
	assert.Empty(t, result.Choices)
}

func TestParseMissingChapterDelimiters(t *testing.T) {
	raw := `The knight rode into the valley as the sun set behind the hills.

[CHOICES]
1. Make camp for the night
2. Press on in the dark
[/CHOICES]`

	result := parser.Parse(raw)

	assert.Equal(t, "The knight rode into the valley as the sun set behind the hills.", result.Content)
	require.Len(t, result.Choices, 2)
	assert.Equal(t, "Make camp for the night", result.Choices[0])
	assert.Equal(t, "Press on in the dark", result.Choices[1])
}

func TestParseMissingClosingChoicesDelimiter(t *testing.T) {
	raw := `[CHAPTER]
She opened the letter with trembling hands.
[/CHAPTER]

[CHOICES]
1. Read it aloud
2. Burn it unread
3. Hide it under the floorboards`

	result := parser.Parse(raw)

	assert.Equal(t, "She opened the letter with trembling hands.", result.Content)
	require.Len(t, result.Choices, 3)
	assert.Equal(t, "Hide it under the floorboards", result.Choices[2])
}

func TestParseChoicesNestedInsideChapter(t *testing.T) {
	raw := `[CHAPTER]
The door creaked open.

[CHOICES]
1. Step inside
2. Call out first
[/CHOICES]
[/CHAPTER]`

	result := parser.Parse(raw)

	assert.Equal(t, "The door creaked open.", result.Content)
	assert.NotContains(t, result.Content, "Step inside")
	require.Len(t, result.Choices, 2)
	assert.Equal(t, "Step inside", result.Choices[0])
}

func TestParseStripsLeftoverDelimiterTokens(t *testing.T) {
	raw := "[CHAPTER]\nA lone token [/CHOICES] slipped into the prose.\n"

	result := parser.Parse(raw)

	assert.NotContains(t, result.Content, "[CHAPTER]")
	assert.NotContains(t, result.Content, "[/CHOICES]")
	assert.Contains(t, result.Content, "slipped into the prose")
}

func TestParseStripsFillerPhrases(t *testing.T) {
	t.Run("english", func(t *testing.T) {
		raw := "[CHAPTER]\nThe bridge collapsed behind them. What happens next?\n[/CHAPTER]"

		result := parser.Parse(raw)

		assert.Equal(t, "The bridge collapsed behind them.", result.Content)
	})

	t.Run("russian", func(t *testing.T) {
		raw := "Мост рухнул за их спинами. Что произойдёт дальше?"

		result := parser.Parse(raw)

		assert.Equal(t, "Мост рухнул за их спинами.", result.Content)
	})
}

func TestParseCapsChoicesAtThree(t *testing.T) {
	raw := `[CHAPTER]
Too many roads diverged in the wood.
[/CHAPTER]
[CHOICES]
1. First road
2. Second road
3. Third road
4. Fourth road
5. Fifth road
[/CHOICES]`

	result := parser.Parse(raw)

	require.Len(t, result.Choices, 3)
	assert.Equal(t, []string{"First road", "Second road", "Third road"}, result.Choices)
}

func TestParseParenthesisNumbering(t *testing.T) {
	raw := `[CHAPTER]
The map showed two routes.
[/CHAPTER]
[CHOICES]
1) Take the coastal road
2) Cross the mountains
[/CHOICES]`

	result := parser.Parse(raw)

	assert.Equal(t, []string{"Take the coastal road", "Cross the mountains"}, result.Choices)
}

func TestParseIgnoresNonNumberedLinesInChoicesSection(t *testing.T) {
	raw := `[CHAPTER]
Night fell over the harbor.
[/CHAPTER]
[CHOICES]
Here are your options:
1. Board the ship
2. Wait until morning
[/CHOICES]`

	result := parser.Parse(raw)

	assert.Equal(t, []string{"Board the ship", "Wait until morning"}, result.Choices)
}

func TestParseFallbackBareTrailingList(t *testing.T) {
	raw := `The cave mouth yawned before them, cold air drifting out.

1. Light a torch and enter
2. Search for another way in
3. Turn back to the village`

	result := parser.Parse(raw)

	assert.Equal(t, "The cave mouth yawned before them, cold air drifting out.", result.Content)
	require.Len(t, result.Choices, 3)
	assert.Equal(t, "Light a torch and enter", result.Choices[0])
}

func TestParseFallbackMarkerLedList(t *testing.T) {
	t.Run("english marker with single item", func(t *testing.T) {
		raw := `The guard blocked the gate and crossed his arms.

What will you do?
1. Bribe the guard`

		result := parser.Parse(raw)

		assert.Equal(t, "The guard blocked the gate and crossed his arms.", result.Content)
		assert.Equal(t, []string{"Bribe the guard"}, result.Choices)
	})

	t.Run("russian marker", func(t *testing.T) {
		raw := `Стражник преградил путь к воротам.

Варианты:
1. Подкупить стражника
2. Дождаться смены караула`

		result := parser.Parse(raw)

		assert.Equal(t, "Стражник преградил путь к воротам.", result.Content)
		assert.Equal(t, []string{"Подкупить стражника", "Дождаться смены караула"}, result.Choices)
	})

	t.Run("options marker removed from content", func(t *testing.T) {
		raw := `He weighed the coin in his palm.

Options:
1. Spend it
2. Keep it`

		result := parser.Parse(raw)

		assert.NotContains(t, result.Content, "Options:")
		assert.Len(t, result.Choices, 2)
	})
}

func TestParseFallbackRejectsSingleBareItem(t *testing.T) {
	raw := `The siege lasted for years.

1. That was the only way the war could end`

	result := parser.Parse(raw)

	assert.Empty(t, result.Choices)
	assert.Contains(t, result.Content, "the only way the war could end")
}

func TestParseFallbackRejectsMidNarrativeList(t *testing.T) {
	raw := `She repeated the ritual steps:
1. Light the candles
2. Speak the name
3. Close the circle
Then she waited for an answer, but the room stayed silent until dawn.`

	result := parser.Parse(raw)

	assert.Empty(t, result.Choices)
	assert.Contains(t, result.Content, "1. Light the candles")
	assert.Contains(t, result.Content, "the room stayed silent until dawn")
}

func TestParseFallbackNotUsedWhenDelimitedChoicesExist(t *testing.T) {
	raw := `[CHAPTER]
The ledger listed debts:
1. Ten crowns to the smith
2. Three crowns to the miller
[/CHAPTER]
[CHOICES]
1. Pay the smith first
2. Pay the miller first
[/CHOICES]`

	result := parser.Parse(raw)

	assert.Equal(t, []string{"Pay the smith first", "Pay the miller first"}, result.Choices)
	assert.Contains(t, result.Content, "Ten crowns to the smith")
}

func TestParsePlainProseUntouched(t *testing.T) {
	raw := "A quiet morning settled over the town, and nothing stirred."

	result := parser.Parse(raw)

	assert.Equal(t, raw, result.Content)
	assert.Empty(t, result.Choices)
}

func TestParseCollapsesExcessBlankLines(t *testing.T) {
	raw := "[CHAPTER]\nFirst paragraph.\n\n\n\n\nSecond paragraph.\n[/CHAPTER]"

	result := parser.Parse(raw)

	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", result.Content)
}

func TestParseLongResponseStaysIntact(t *testing.T) {
	paragraph := strings.Repeat("The river carried the boat further from home. ", 20)
	raw := "[CHAPTER]\n" + paragraph + "\n[/CHAPTER]\n[CHOICES]\n1. Row ashore\n2. Drift onward\n3. Dive in\n[/CHOICES]"

	result := parser.Parse(raw)

	assert.Equal(t, strings.TrimSpace(paragraph), result.Content)
	assert.Len(t, result.Choices, 3)
}
