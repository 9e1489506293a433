package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qgen-backend/internal/llm"
	"qgen-backend/internal/llm/llmtest"
	"qgen-backend/internal/pipeline"
	"qgen-backend/internal/pipeline/prompts"
)

func strPtr(s string) *string {
	return &s
}

func openQuestion() *pipeline.GeneratedQuestion {
	return &pipeline.GeneratedQuestion{
		Task:       "Что является предметом договора?",
		Outputs:    "Передача имущества",
		SourceText: "Договор купли-продажи.",
	}
}

func TestValidatorPromptLayout(t *testing.T) {
	model := llmtest.Replies("Грамотность: 1\nОднозначность: 1\nОпора на текст: 0\nОтсутствие подсказки: 1\nСамодостаточность: 1")
	v, err := pipeline.NewValidator(llm.NewClient(model), pipeline.DefaultRubric(), false)
	require.NoError(t, err)

	q := openQuestion()
	result, err := v.Evaluate(context.Background(), pipeline.KindOpen, q.SourceText, q)
	require.NoError(t, err)

	reqs := model.Requests()
	require.Len(t, reqs, 4)
	for _, req := range reqs {
		assert.Equal(t, prompts.ValidatorSystem, req.System)
		assert.Equal(t, pipeline.ValidatorMaxTokens, req.MaxTokens)
		assert.Nil(t, req.Format)
	}

	tmpl, ok := prompts.Criterion("open", "c1_question")
	require.True(t, ok)
	first := reqs[0].User
	assert.True(t, strings.HasPrefix(first, strings.TrimRight(tmpl, "\n")+"\n\nИсходный текст: \n\nДоговор купли-продажи.\n\nЗадание: \n{\n  \"task\": "))
	assert.True(t, strings.HasSuffix(first, "}\n"))
	assert.NotContains(t, first, "source_text")
	assert.Contains(t, first, `"outputs": "Передача имущества"`)

	assert.Equal(t, []int{1, 1, 0, 1, 1}, result.ByBlock[0].Scores)
	assert.Equal(t, 17, result.MaxTotal)
	assert.Equal(t, 15, result.Threshold)
	// c2_outputs expects 6 verdicts but the reply has 5, the rest pad with zeros.
	assert.Equal(t, []int{1, 1, 0, 1, 1, 0}, result.ByBlock[1].Scores)
	assert.Equal(t, 4+4+3+2, result.Total)
	assert.False(t, result.Passed)
}

func TestValidatorThresholdBoundary(t *testing.T) {
	rubric := pipeline.DefaultRubric()
	table := rubric[pipeline.KindOpen]
	table.Threshold = 17
	rubric[pipeline.KindOpen] = table

	model := llmtest.Replies(strings.Repeat("Оценка: 1\n", 6))
	v, err := pipeline.NewValidator(llm.NewClient(model), rubric, false)
	require.NoError(t, err)

	q := openQuestion()
	result, err := v.Evaluate(context.Background(), pipeline.KindOpen, q.SourceText, q)
	require.NoError(t, err)
	assert.Equal(t, 17, result.Total)
	assert.True(t, result.Passed)
}

func TestValidatorAbortsOnCriterionError(t *testing.T) {
	model := llmtest.New(func(call int, req llm.Request) (string, error) {
		if call == 2 {
			return "", &llm.StatusError{Code: 400, Err: errors.New("bad request")}
		}
		return "1\n1\n1\n1\n1\n1", nil
	})
	v, err := pipeline.NewValidator(llm.NewClient(model, llm.WithInitialBackoff(time.Millisecond)), pipeline.DefaultRubric(), false)
	require.NoError(t, err)

	q := openQuestion()
	result, err := v.Evaluate(context.Background(), pipeline.KindOpen, q.SourceText, q)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "c4_logic")
	assert.Equal(t, 3, model.Calls())
}

func TestValidatorParallelKeepsOrder(t *testing.T) {
	model := llmtest.New(func(call int, req llm.Request) (string, error) {
		if strings.Contains(req.User, "Оцени варианты ответа") {
			return "0\n0\n0\n0\n0\n0\n0\n0\n0", nil
		}
		return "1\n1\n1\n1\n1", nil
	})
	v, err := pipeline.NewValidator(llm.NewClient(model), pipeline.DefaultRubric(), true)
	require.NoError(t, err)

	q := &pipeline.GeneratedQuestion{
		Task:       "Вопрос?",
		Option1:    strPtr("а"),
		Option2:    strPtr("б"),
		Outputs:    "1",
		SourceText: "текст",
	}
	result, err := v.Evaluate(context.Background(), pipeline.KindSingle, q.SourceText, q)
	require.NoError(t, err)

	data, err := json.Marshal(result.ByBlock)
	require.NoError(t, err)
	assert.Equal(t, `{"c1_question":[1,1,1,1,1],"c2_options":[0,0,0,0,0,0,0,0,0],"c3_outputs":[1,1],"c4_logic":[1,1,1,1],"c5_phrase":[1,1]}`, string(data))
	assert.Equal(t, 13, result.Total)
}

func TestValidatorUnknownKind(t *testing.T) {
	v, err := pipeline.NewValidator(llm.NewClient(llmtest.Replies("1")), pipeline.DefaultRubric(), false)
	require.NoError(t, err)

	_, err = v.Evaluate(context.Background(), pipeline.Kind("essay"), "текст", openQuestion())
	assert.True(t, llm.IsContract(err))
}
