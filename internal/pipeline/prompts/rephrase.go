package prompts

import (
	"text/template"

	"qgen-backend/internal/llm"
)

const RephraseSystem = `Ты — редактор тестовых заданий. Перефразируй вопрос так, чтобы смысл остался прежним, а формулировка изменилась.

Правила:
- Не меняй суть вопроса и не добавляй новую информацию.
- Сохрани все ключевые детали: термины, числа, даты, имена.
- Меняй порядок слов, грамматические конструкции, используй синонимы.
- Верни JSON с полями "rephrased_question" и "original_question".`

const rephraseUser = `Переформулируй следующий вопрос:

Вопрос: {{ .Question }}

Переформулированный вопрос:`

var RephraseTmpl = template.Must(template.New("rephrase").Parse(rephraseUser))

var RephraseFormat = &llm.Schema{
	Name:        "RephrasedQuestionOutput",
	Description: "A rephrased question that keeps the original meaning.",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"rephrased_question": map[string]any{"type": "string"},
			"original_question":  map[string]any{"type": "string"},
		},
		"required": []string{"rephrased_question"},
	},
}
