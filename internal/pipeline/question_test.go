package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qgen-backend/internal/llm"
)

func TestParseKind(t *testing.T) {
	for input, want := range map[string]Kind{
		"one":             KindSingle,
		"single-choice":   KindSingle,
		" Multi ":         KindMulti,
		"multiple-choice": KindMulti,
		"open-ended":      KindOpen,
	} {
		kind, err := ParseKind(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, kind, input)
	}

	_, err := ParseKind("essay")
	require.Error(t, err)
	assert.True(t, llm.IsContract(err), err)
	assert.EqualError(t, err, "contract violation: unsupported question type 'essay'")
}

func TestAnswerDecoding(t *testing.T) {
	tests := map[string]Answer{
		`{"outputs": 3}`:          "3",
		`{"outputs": "2,4"}`:      "2,4",
		`{"outputs": [1, 3]}`:     "1,3",
		`{"outputs": "Пять лет"}`: "Пять лет",
		`{"outputs": null}`:       "",
	}
	for input, want := range tests {
		var q GeneratedQuestion
		require.NoError(t, json.Unmarshal([]byte(input), &q), input)
		assert.Equal(t, want, q.Outputs, input)
	}

	var q GeneratedQuestion
	assert.Error(t, json.Unmarshal([]byte(`{"outputs": {"a": 1}}`), &q))
}

func choiceQuestion(outputs Answer) *GeneratedQuestion {
	a, b, c := "а", "б", "в"
	q := &GeneratedQuestion{Task: "Вопрос?", Option1: &a, Option2: &b, Option3: &c, Outputs: outputs}
	q.fillDefaults()
	return q
}

func TestCheckAnswer(t *testing.T) {
	assert.NoError(t, choiceQuestion("2").CheckAnswer(KindSingle))
	assert.Error(t, choiceQuestion("1,2").CheckAnswer(KindSingle))
	assert.Error(t, choiceQuestion("0").CheckAnswer(KindSingle))
	assert.Error(t, choiceQuestion("5").CheckAnswer(KindSingle), "slot 5 holds the None sentinel")
	assert.Error(t, choiceQuestion("второй").CheckAnswer(KindSingle))

	assert.NoError(t, choiceQuestion("1,3").CheckAnswer(KindMulti))
	assert.Error(t, choiceQuestion("3").CheckAnswer(KindMulti))
	assert.Error(t, choiceQuestion("3,1").CheckAnswer(KindMulti))
	assert.Error(t, choiceQuestion("1,1").CheckAnswer(KindMulti))

	assert.NoError(t, choiceQuestion("любой текст").CheckAnswer(KindOpen))
	assert.Error(t, choiceQuestion("  ").CheckAnswer(KindOpen))
}

func TestNormalizeAnswer(t *testing.T) {
	q := choiceQuestion(" 3, 1,3 ")
	q.normalizeAnswer(KindMulti)
	assert.Equal(t, Answer("1,3"), q.Outputs)
	assert.NoError(t, q.CheckAnswer(KindMulti))

	open := choiceQuestion("  ответ ")
	open.normalizeAnswer(KindOpen)
	assert.Equal(t, Answer("ответ"), open.Outputs)
}

func TestFillDefaultsKeepsLeadingSlotsNullable(t *testing.T) {
	q := &GeneratedQuestion{Task: "Вопрос?", Outputs: "ответ"}
	q.fillDefaults()

	assert.Nil(t, q.Option1)
	assert.Nil(t, q.Option4)
	require.NotNil(t, q.Option5)
	assert.Equal(t, NoneOption, *q.Option5)
	assert.Empty(t, q.Options())
}

func TestPromptJSONOmitsSourceText(t *testing.T) {
	q := choiceQuestion("2")
	q.SourceText = "исходный текст"

	out, err := q.promptJSON()
	require.NoError(t, err)
	assert.NotContains(t, out, "source_text")
	assert.Contains(t, out, "\n  \"option_1\": \"а\",")
	assert.Contains(t, out, "\"text\": null")
	assert.Equal(t, "исходный текст", q.SourceText)

	var decoded GeneratedQuestion
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, Answer("2"), decoded.Outputs)
}
