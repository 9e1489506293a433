package prompts

// ValidatorSystem is sent with every rubric criterion prompt.
const ValidatorSystem = "Ты — эксперт по оценке качества заданий."

const verdictFormat = `
Для каждого пункта поставь 1, если требование выполнено, и 0, если нет.
Ответь строго в указанном формате: каждая оценка на отдельной строке, после двоеточия только 0 или 1, без пояснений.`

const questionWording = `Оцени формулировку вопроса (поле "task" и, если есть, поле "text").

1. Грамотность: вопрос сформулирован без грамматических и пунктуационных ошибок.
2. Однозначность: вопрос не допускает двойного толкования.
3. Опора на текст: вопрос относится к содержанию исходного текста.
4. Отсутствие подсказки: формулировка не выдает правильный ответ.
5. Самодостаточность: вопрос понятен без обращения к оформлению задания.
` + verdictFormat + `

Формат ответа:
Грамотность: 0/1
Однозначность: 0/1
Опора на текст: 0/1
Отсутствие подсказки: 0/1
Самодостаточность: 0/1
`

const openOutputs = `Оцени эталонный ответ (поле "outputs") к открытому вопросу.

1. Соответствие тексту: ответ подтверждается исходным текстом.
2. Полнота: ответ полностью отвечает на поставленный вопрос.
3. Отсутствие лишнего: ответ не содержит сведений, о которых не спрашивали.
4. Фактическая точность: в ответе нет искажений фактов, чисел и терминов.
5. Краткость: ответ занимает не больше одного предложения.
6. Проверяемость: ответ можно однозначно сравнить с ответом отвечающего.
` + verdictFormat + `

Формат ответа:
Соответствие тексту: 0/1
Полнота: 0/1
Отсутствие лишнего: 0/1
Фактическая точность: 0/1
Краткость: 0/1
Проверяемость: 0/1
`

const options = `Оцени варианты ответа (поля "option_1" … "option_9", значение "None" означает отсутствие варианта).

1. Количество: заданы не менее четырех вариантов.
2. Однородность: варианты однородны по форме и грамматически согласованы между собой.
3. Сопоставимая длина: ни один вариант не выделяется длиной.
4. Отсутствие повторов: среди вариантов нет совпадающих по смыслу.
5. Правдоподобие: неверные варианты правдоподобны для человека, не читавшего текст.
6. Без обобщающих вариантов: нет вариантов "все перечисленное" или "ничего из перечисленного".
7. Независимость: варианты не пересекаются и не включают друг друга.
8. Корректность дистракторов: неверные варианты действительно неверны по тексту.
9. Согласованность с вопросом: каждый вариант грамматически продолжает вопрос.
` + verdictFormat + `

Формат ответа:
Количество: 0/1
Однородность: 0/1
Сопоставимая длина: 0/1
Отсутствие повторов: 0/1
Правдоподобие: 0/1
Без обобщающих вариантов: 0/1
Независимость: 0/1
Корректность дистракторов: 0/1
Согласованность с вопросом: 0/1
`

const singleOutputs = `Оцени правильный ответ (поле "outputs") к вопросу с одним верным вариантом.

1. Формат: указан ровно один номер существующего варианта.
2. Верность: указанный вариант действительно верен по исходному тексту.
` + verdictFormat + `

Формат ответа:
Формат: 0/1
Верность: 0/1
`

const multiOutputs = `Оцени правильный ответ (поле "outputs") к вопросу с несколькими верными вариантами.

1. Формат: указаны не менее двух номеров существующих вариантов через запятую.
2. Верность: все указанные варианты верны, и все верные варианты указаны.
` + verdictFormat + `

Формат ответа:
Формат: 0/1
Верность: 0/1
`

const logic = `Оцени логическую связность задания в целом.

1. Связность: вопрос и правильный ответ логически связаны.
2. Непротиворечивость: задание не противоречит исходному тексту.
3. Выводимость: ответ выводится из текста без внешних знаний.
4. Согласованность контекста: поле "text" (если есть) согласовано с вопросом.
` + verdictFormat + `

Формат ответа:
Связность: 0/1
Непротиворечивость: 0/1
Выводимость: 0/1
Согласованность контекста: 0/1
`

const phrasing = `Оцени язык и стиль задания.

1. Стиль: задание написано нейтральным академическим стилем.
2. Орфография: в задании нет орфографических ошибок и опечаток.
` + verdictFormat + `

Формат ответа:
Стиль: 0/1
Орфография: 0/1
`

// criteria maps a question kind wire key to its criterion prompts, keyed by criterion key.
var criteria = map[string]map[string]string{
	"open": {
		"c1_question": questionWording,
		"c2_outputs":  openOutputs,
		"c4_logic":    logic,
		"c5_phrase":   phrasing,
	},
	"one": {
		"c1_question": questionWording,
		"c2_options":  options,
		"c3_outputs":  singleOutputs,
		"c4_logic":    logic,
		"c5_phrase":   phrasing,
	},
	"multi": {
		"c1_question": questionWording,
		"c2_options":  options,
		"c3_outputs":  multiOutputs,
		"c4_logic":    logic,
		"c5_phrase":   phrasing,
	},
}

// Criterion returns the prompt template for one rubric criterion of a question kind.
func Criterion(kind, key string) (string, bool) {
	byKey, ok := criteria[kind]
	if !ok {
		return "", false
	}
	tmpl, ok := byKey[key]
	return tmpl, ok
}
