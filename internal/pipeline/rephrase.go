package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"qgen-backend/internal/llm"
	"qgen-backend/internal/pipeline/prompts"
)

const RephraseMaxTokens = 256

type rephraseReply struct {
	RephrasedQuestion string `json:"rephrased_question" validate:"required"`
	OriginalQuestion  string `json:"original_question"`
}

type Rephraser struct {
	client *llm.Client
}

func NewRephraser(client *llm.Client) *Rephraser {
	return &Rephraser{client: client.With(llm.WithMaxTokens(RephraseMaxTokens))}
}

// Rephrase returns a reworded question with the same meaning.
func (r *Rephraser) Rephrase(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", llm.ContractViolationf("question to rephrase is empty")
	}

	var buf bytes.Buffer
	if err := prompts.RephraseTmpl.Execute(&buf, map[string]interface{}{
		"Question": question,
	}); err != nil {
		return "", fmt.Errorf("render rephrase prompt: %w", err)
	}

	reply, err := llm.Invoke[rephraseReply](ctx, r.client, llm.Prompt{
		System: prompts.RephraseSystem,
		User:   buf.String(),
	}, prompts.RephraseFormat)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.RephrasedQuestion), nil
}

// RephraseOrOriginal falls back to the unchanged question when rephrasing fails for any
// reason.
func (r *Rephraser) RephraseOrOriginal(ctx context.Context, question string) string {
	rephrased, err := r.Rephrase(ctx, question)
	if err != nil {
		slog.Warn("rephrase failed, keeping original question", "error", err)
		return question
	}
	return rephrased
}

// RephraseAll rephrases each question in order. Failures keep the original text, so the
// result always has the same length as the input.
func (r *Rephraser) RephraseAll(ctx context.Context, questions []string) []string {
	out := make([]string, len(questions))
	for i, q := range questions {
		if ctx.Err() != nil {
			copy(out[i:], questions[i:])
			break
		}
		out[i] = r.RephraseOrOriginal(ctx, q)
	}
	return out
}
