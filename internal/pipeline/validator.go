package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"qgen-backend/internal/llm"
	"qgen-backend/internal/pipeline/prompts"
)

const ValidatorMaxTokens = 512

// CriterionBlock holds the verdicts returned for one rubric criterion. Raw is the model reply
// the scores were read from; it is not part of the by_block encoding.
type CriterionBlock struct {
	Key    string
	Scores []int
	Raw    string
}

// Blocks keeps criterion results in rubric order. It encodes as a JSON object whose keys
// appear in that order.
type Blocks []CriterionBlock

func (b Blocks) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, block := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(block.Key)
		if err != nil {
			return nil, err
		}
		scores := block.Scores
		if scores == nil {
			scores = []int{}
		}
		val, err := json.Marshal(scores)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (b *Blocks) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("criterion blocks must be a json object")
	}

	var out Blocks
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("invalid criterion key %v", tok)
		}
		var scores []int
		if err := dec.Decode(&scores); err != nil {
			return fmt.Errorf("invalid scores for criterion '%s': %w", key, err)
		}
		out = append(out, CriterionBlock{Key: key, Scores: scores})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*b = out
	return nil
}

func (b Blocks) Sum() int {
	total := 0
	for _, block := range b {
		for _, s := range block.Scores {
			total += s
		}
	}
	return total
}

func (b Blocks) String() string {
	data, err := b.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(data)
}

type ValidationResult struct {
	Type      Kind              `json:"type"`
	ByBlock   Blocks            `json:"by_block"`
	Raw       map[string]string `json:"raw"`
	Total     int               `json:"total"`
	MaxTotal  int               `json:"max_total"`
	Threshold int               `json:"threshold"`
	Passed    bool              `json:"passed"`
}

// Validator scores a question against the rubric, one model call per criterion.
type Validator struct {
	client   *llm.Client
	rubric   Rubric
	parallel bool
}

func NewValidator(client *llm.Client, rubric Rubric, parallel bool) (*Validator, error) {
	if err := rubric.Check(); err != nil {
		return nil, err
	}
	return &Validator{
		client:   client.With(llm.WithMaxTokens(ValidatorMaxTokens)),
		rubric:   rubric,
		parallel: parallel,
	}, nil
}

func criterionPrompt(template, sourceText, questionJSON string) string {
	return strings.TrimRight(template, " \t\r\n") +
		"\n\nИсходный текст: \n\n" + sourceText +
		"\n\nЗадание: \n" + questionJSON + "\n"
}

// Evaluate asks every criterion of the kind's table and sums the parsed verdicts. Any failed
// criterion call fails the whole evaluation.
func (v *Validator) Evaluate(ctx context.Context, kind Kind, sourceText string, q *GeneratedQuestion) (*ValidationResult, error) {
	table, ok := v.rubric[kind]
	if !ok {
		return nil, llm.ContractViolationf("unsupported question type '%s'", kind)
	}
	if q == nil {
		return nil, llm.ContractViolationf("validator called without a question")
	}

	questionJSON, err := q.promptJSON()
	if err != nil {
		return nil, fmt.Errorf("error serializing question: %w", err)
	}

	blocks := make(Blocks, len(table.Criteria))

	ask := func(ctx context.Context, i int) error {
		c := table.Criteria[i]
		tmpl, _ := prompts.Criterion(string(kind), c.Key)

		reply, err := llm.InvokeText(ctx, v.client, llm.Prompt{
			System: prompts.ValidatorSystem,
			User:   criterionPrompt(tmpl, sourceText, questionJSON),
		})
		if err != nil {
			return fmt.Errorf("criterion %s: %w", c.Key, err)
		}

		blocks[i] = CriterionBlock{Key: c.Key, Scores: ExtractBinaryVector(reply, c.Expected), Raw: reply}
		slog.Debug("rubric criterion scored", "type", kind, "criterion", c.Key, "scores", blocks[i].Scores)
		return nil
	}

	if v.parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i := range table.Criteria {
			g.Go(func() error { return ask(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range table.Criteria {
			if err := ask(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	result := &ValidationResult{
		Type:      kind,
		ByBlock:   blocks,
		Raw:       make(map[string]string, len(blocks)),
		Total:     blocks.Sum(),
		MaxTotal:  table.MaxTotal,
		Threshold: table.Threshold,
	}
	for _, block := range blocks {
		result.Raw[block.Key] = block.Raw
	}
	result.Passed = result.Total >= result.Threshold

	return result, nil
}

func (v *ValidationResult) UnmarshalJSON(data []byte) error {
	type plain ValidationResult
	if err := json.Unmarshal(data, (*plain)(v)); err != nil {
		return err
	}
	for i := range v.ByBlock {
		v.ByBlock[i].Raw = v.Raw[v.ByBlock[i].Key]
	}
	return nil
}
