package prompts

import (
	"text/template"

	"qgen-backend/internal/llm"
)

const generationRules = `Общие требования:
- Вопрос должен проверять понимание исходного текста, а не общую эрудицию.
- Вся информация, необходимая для ответа, должна содержаться в исходном тексте.
- Не копируй предложения из текста дословно, переформулируй их.
- Если для понимания вопроса нужен фрагмент текста, помести его в поле "text", иначе оставь "text" пустым (null).
- Пиши на русском языке, нейтральным академическим стилем.

Поля ответа:
- "task" — текст вопроса;
- "text" — дополнительный контекст вопроса или null;
- "option_1" … "option_9" — варианты ответа, неиспользуемые варианты заполни строкой "None";
- "outputs" — правильный ответ.`

// SingleChoiceSystem frames the model for questions with exactly one correct option.
const SingleChoiceSystem = `Ты — эксперт-методист, который составляет тестовые задания по учебным и нормативным текстам.
Составь по исходному тексту одно задание с выбором ОДНОГО правильного ответа.

` + generationRules + `

Требования к вариантам:
- От 4 до 9 вариантов ответа, ровно один из них верный.
- Неверные варианты должны быть правдоподобными и однородными по форме с верным.
- Не используй варианты "все перечисленное" и "ничего из перечисленного".

В поле "outputs" укажи номер правильного варианта (целое число от 1 до 9).`

// MultipleChoiceSystem frames the model for questions with several correct options.
const MultipleChoiceSystem = `Ты — эксперт-методист, который составляет тестовые задания по учебным и нормативным текстам.
Составь по исходному тексту одно задание с выбором НЕСКОЛЬКИХ правильных ответов.

` + generationRules + `

Требования к вариантам:
- От 4 до 9 вариантов ответа, верных вариантов не меньше двух, но не все.
- Неверные варианты должны быть правдоподобными и однородными по форме с верными.
- Не используй варианты "все перечисленное" и "ничего из перечисленного".

В поле "outputs" укажи номера всех правильных вариантов по возрастанию через запятую без пробелов, например "1,3".`

// OpenEndedSystem frames the model for questions answered in free text.
const OpenEndedSystem = `Ты — эксперт-методист, который составляет тестовые задания по учебным и нормативным текстам.
Составь по исходному тексту одно задание с открытым ответом.

` + generationRules + `

Требования к заданию:
- Варианты ответа не нужны, все поля "option_N" заполни строкой "None".
- Ответ должен быть кратким (слово, число или одно предложение) и однозначно проверяемым по тексту.

В поле "outputs" укажи эталонный ответ текстом.`

const singleChoiceUser = `
**Исходный текст**:
{{ .OriginalText }}

**JSON**:
`

const multipleChoiceUser = `
**Исходный текст**:
{{ .OriginalText }}

**JSON**:
`

const openEndedUser = `
**Исходный текст**:

{{ .OriginalText }}
**JSON**:
`

var (
	SingleChoiceTmpl   = template.Must(template.New("singleChoice").Parse(singleChoiceUser))
	MultipleChoiceTmpl = template.Must(template.New("multipleChoice").Parse(multipleChoiceUser))
	OpenEndedTmpl      = template.Must(template.New("openEnded").Parse(openEndedUser))
)

func nullableString(description string) map[string]any {
	return map[string]any{
		"type":        []string{"string", "null"},
		"description": description,
	}
}

func questionProperties() map[string]any {
	props := map[string]any{
		"task": map[string]any{
			"type":        "string",
			"description": "Текст вопроса.",
		},
		"text": nullableString("Дополнительный контекст вопроса."),
		"outputs": map[string]any{
			"type":        []string{"integer", "string"},
			"description": "Правильный ответ: для 'one' номер варианта (1-9), для 'multi' номера через запятую без пробелов, для 'open' текст ответа.",
		},
	}
	for i, name := range OptionFields {
		props[name] = nullableString("Вариант ответа " + string(rune('1'+i)) + ".")
	}
	return props
}

var OptionFields = [9]string{
	"option_1", "option_2", "option_3", "option_4", "option_5",
	"option_6", "option_7", "option_8", "option_9",
}

// QuestionFormat is the schema every generation call asks for.
var QuestionFormat = &llm.Schema{
	Name:        "StructuredQuestionOutput",
	Description: "A generated quiz question with up to nine options and the correct answer.",
	Definition: map[string]any{
		"type":       "object",
		"properties": questionProperties(),
		"required":   []string{"task", "outputs"},
	},
}
