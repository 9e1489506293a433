package prompts

import (
	"text/template"

	"qgen-backend/internal/llm"
)

// NoContext replaces an empty question context in scorer prompts.
const NoContext = "Нет дополнительного контекста"

const sensitivityPrompt = `Ты — эксперт по оценке тестовых заданий на предмет провокационности и этической чувствительности.
Оцени, насколько приведенный вопрос может быть воспринят как провокационный, оскорбительный или затрагивающий чувствительные темы (политика, религия, национальность, пол, здоровье, насилие).

Шкала:
1 — вопрос нейтрален, чувствительных тем не затрагивает;
2 — вопрос касается чувствительной темы, но сформулирован корректно;
3 — вопрос провокационный: содержит оценочные суждения, стереотипы или может задеть отвечающего.

Вопрос: {{ .Question }}
Контекст: {{ .Context }}

Верни JSON с полями:
"provocativeness_score" — целое число от 1 до 3,
"explanation" — краткое объяснение оценки (одно-два предложения).`

const difficultyPrompt = `Ты — эксперт-методист, который оценивает сложность тестовых заданий.
Оцени, насколько трудно ответить на приведенный вопрос человеку, внимательно прочитавшему исходный текст.

Шкала:
1 — лёгкий: ответ прямо содержится в одном предложении текста;
2 — средний: нужно сопоставить несколько фактов или сделать простой вывод;
3 — сложный: требуется анализ, обобщение или применение положений текста к новой ситуации.

Вопрос: {{ .Question }}
Контекст: {{ .Context }}

Верни JSON с полями:
"difficulty" — целое число от 1 до 3,
"explanation" — краткое объяснение оценки (одно-два предложения).`

var (
	SensitivityTmpl = template.Must(template.New("sensitivity").Parse(sensitivityPrompt))
	DifficultyTmpl  = template.Must(template.New("difficulty").Parse(difficultyPrompt))
)

func levelFormat(name, field, description string) *llm.Schema {
	return &llm.Schema{
		Name:        name,
		Description: description,
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				field: map[string]any{
					"type":    "integer",
					"minimum": 1,
					"maximum": 3,
				},
				"explanation": map[string]any{
					"type": "string",
				},
			},
			"required": []string{field, "explanation"},
		},
	}
}

var (
	SensitivityFormat = levelFormat("ProvocativenessOutput", "provocativeness_score", "Provocativeness of a question on a 1-3 scale.")
	DifficultyFormat  = levelFormat("DifficultyOutput", "difficulty", "Difficulty of a question on a 1-3 scale.")
)
