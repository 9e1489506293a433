package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"qgen-backend/internal/llm"
	"qgen-backend/internal/pipeline/prompts"
)

const GenerationMaxTokens = 1024

type generationPrompt struct {
	system string
	user   *template.Template
}

var generationPrompts = map[Kind]generationPrompt{
	KindSingle: {system: prompts.SingleChoiceSystem, user: prompts.SingleChoiceTmpl},
	KindMulti:  {system: prompts.MultipleChoiceSystem, user: prompts.MultipleChoiceTmpl},
	KindOpen:   {system: prompts.OpenEndedSystem, user: prompts.OpenEndedTmpl},
}

// Generator produces one question of a given kind from a source chunk.
type Generator struct {
	client *llm.Client
}

func NewGenerator(client *llm.Client) *Generator {
	return &Generator{client: client.With(llm.WithMaxTokens(GenerationMaxTokens))}
}

func (g *Generator) Generate(ctx context.Context, kind Kind, chunk string) (*GeneratedQuestion, error) {
	p, ok := generationPrompts[kind]
	if !ok {
		return nil, llm.ContractViolationf("unsupported question type '%s'", kind)
	}
	if strings.TrimSpace(chunk) == "" {
		return nil, llm.ContractViolationf("source chunk is empty")
	}

	var buf bytes.Buffer
	if err := p.user.Execute(&buf, map[string]interface{}{
		"OriginalText": chunk,
	}); err != nil {
		return nil, fmt.Errorf("render generation prompt: %w", err)
	}

	q, err := llm.Invoke[GeneratedQuestion](ctx, g.client, llm.Prompt{System: p.system, User: buf.String()}, prompts.QuestionFormat)
	if err != nil {
		return nil, err
	}

	q.fillDefaults()
	q.normalizeAnswer(kind)
	if err := q.CheckAnswer(kind); err != nil {
		raw, _ := json.Marshal(q)
		return nil, &llm.SchemaParseError{Schema: prompts.QuestionFormat.Name, Raw: string(raw), Err: err}
	}
	q.SourceText = chunk

	return &q, nil
}
