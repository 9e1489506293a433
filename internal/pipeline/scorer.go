package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"qgen-backend/internal/llm"
	"qgen-backend/internal/pipeline/prompts"
)

const ScorerMaxTokens = 256

type SensitivityScore struct {
	Level       int    `json:"provocativeness_score" validate:"min=1,max=3"`
	Explanation string `json:"explanation" validate:"required"`
}

type DifficultyScore struct {
	Level       int    `json:"difficulty" validate:"min=1,max=3"`
	Explanation string `json:"explanation" validate:"required"`
}

// Scorer rates a question on a 1-3 scale. The same component backs every rubric-free score,
// only the prompt and the reply shape differ.
type Scorer[T any] struct {
	name   string
	client *llm.Client
	tmpl   *template.Template
	format *llm.Schema
}

func NewScorer[T any](name string, client *llm.Client, tmpl *template.Template, format *llm.Schema) *Scorer[T] {
	return &Scorer[T]{
		name:   name,
		client: client.With(llm.WithMaxTokens(ScorerMaxTokens)),
		tmpl:   tmpl,
		format: format,
	}
}

func NewSensitivityScorer(client *llm.Client) *Scorer[SensitivityScore] {
	return NewScorer[SensitivityScore]("sensitivity", client, prompts.SensitivityTmpl, prompts.SensitivityFormat)
}

func NewDifficultyScorer(client *llm.Client) *Scorer[DifficultyScore] {
	return NewScorer[DifficultyScore]("difficulty", client, prompts.DifficultyTmpl, prompts.DifficultyFormat)
}

func (s *Scorer[T]) Name() string {
	return s.name
}

// Score sends the whole prompt as a single system message. A missing question context is
// replaced with a fixed placeholder.
func (s *Scorer[T]) Score(ctx context.Context, q *GeneratedQuestion) (T, error) {
	var zero T
	if q == nil {
		return zero, llm.ContractViolationf("%s scorer called without a question", s.name)
	}

	qctx := q.ContextText()
	if qctx == "" {
		qctx = prompts.NoContext
	}

	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, map[string]interface{}{
		"Question": q.Task,
		"Context":  qctx,
	}); err != nil {
		return zero, fmt.Errorf("render %s prompt: %w", s.name, err)
	}

	return llm.Invoke[T](ctx, s.client, llm.Prompt{System: buf.String()}, s.format)
}
