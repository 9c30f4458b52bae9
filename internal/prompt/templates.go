package prompt

// templateSet carries the system instructions and section labels for one
// story language. Localized wording lives here, not in builder branches, so
// adding a language means adding one table entry.
type templateSet struct {
	system        string
	finalSystem   string
	premiseLabel  string
	historyHeader string
	chapterLine   string // takes chapter number and summary
	choiceLabel   string
	instruction   string // takes chapter number
}

// fallbackLanguage is used when a story's language has no template entry.
const fallbackLanguage = "en"

var templates = map[string]templateSet{
	"ru": {
		system: `Ты - талантливый писатель интерактивных историй. Твоя задача - создавать увлекательные главы истории на русском языке.

Правила:
1. Пиши живо и увлекательно, используя богатый язык
2. Каждая глава должна быть 300-500 слов
3. Заканчивай главу интригующим моментом
4. Предлагай ровно 3 варианта продолжения
5. Не используй ненормативную лексику и откровенный контент

Формат ответа:
[CHAPTER]
Текст главы здесь...
[/CHAPTER]

[CHOICES]
1. Первый вариант продолжения
2. Второй вариант продолжения
3. Третий вариант продолжения
[/CHOICES]`,
		finalSystem: `Это ФИНАЛЬНАЯ глава истории. Заверши историю красивым и удовлетворительным финалом.
НЕ предлагай варианты продолжения - история должна закончиться.

Формат ответа:
[CHAPTER]
Финальный текст истории здесь...
[/CHAPTER]`,
		premiseLabel:  "Замысел истории: %s",
		historyHeader: "Краткое содержание предыдущих глав:",
		chapterLine:   "- Глава %d: %s",
		choiceLabel:   "Выбранное продолжение: %s",
		instruction:   "Напиши главу %d.",
	},
	"en": {
		system: `You are a talented interactive story writer. Your task is to create engaging story chapters in English.

Rules:
1. Write vividly and engagingly, using rich language
2. Each chapter should be 300-500 words
3. End the chapter with an intriguing moment
4. Provide exactly 3 continuation options
5. No profanity or explicit content

Response format:
[CHAPTER]
Chapter text here...
[/CHAPTER]

[CHOICES]
1. First continuation option
2. Second continuation option
3. Third continuation option
[/CHOICES]`,
		finalSystem: `This is the FINAL chapter of the story. Conclude the story with a beautiful and satisfying ending.
DO NOT provide continuation options - the story must end.

Response format:
[CHAPTER]
Final story text here...
[/CHAPTER]`,
		premiseLabel:  "Story premise: %s",
		historyHeader: "Summary of previous chapters:",
		chapterLine:   "- Chapter %d: %s",
		choiceLabel:   "Chosen continuation: %s",
		instruction:   "Write chapter %d.",
	},
}

// templatesFor returns the template set for a language, falling back to
// English for unknown codes.
func templatesFor(language string) templateSet {
	if t, ok := templates[language]; ok {
		return t
	}
	return templates[fallbackLanguage]
}
