package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NoneOption marks an unused option slot.
const NoneOption = "None"

const MaxOptions = 9

// Answer is the correct answer of a question. Models return it either as a number or as a
// string, both forms decode to the same text.
type Answer string

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Answer(s)
	case '[':
		var items []json.Number
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("outputs must be a number, a string or a list of numbers: %w", err)
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = item.String()
		}
		*a = Answer(strings.Join(parts, ","))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("outputs must be a number or a string: %w", err)
		}
		*a = Answer(n.String())
	}
	return nil
}

// GeneratedQuestion is the structured output of the generation stage.
type GeneratedQuestion struct {
	Task       string  `json:"task" validate:"required"`
	Text       *string `json:"text"`
	Option1    *string `json:"option_1"`
	Option2    *string `json:"option_2"`
	Option3    *string `json:"option_3"`
	Option4    *string `json:"option_4"`
	Option5    *string `json:"option_5"`
	Option6    *string `json:"option_6"`
	Option7    *string `json:"option_7"`
	Option8    *string `json:"option_8"`
	Option9    *string `json:"option_9"`
	Outputs    Answer  `json:"outputs"`
	SourceText string  `json:"source_text,omitempty"`
}

func (q *GeneratedQuestion) optionSlots() [MaxOptions]**string {
	return [MaxOptions]**string{
		&q.Option1, &q.Option2, &q.Option3, &q.Option4, &q.Option5,
		&q.Option6, &q.Option7, &q.Option8, &q.Option9,
	}
}

// Option returns option i (1-based). ok is false for empty slots and the None sentinel.
func (q *GeneratedQuestion) Option(i int) (string, bool) {
	if i < 1 || i > MaxOptions {
		return "", false
	}
	opt := *q.optionSlots()[i-1]
	if opt == nil || *opt == NoneOption || strings.TrimSpace(*opt) == "" {
		return "", false
	}
	return *opt, true
}

// Options returns the occupied options keyed by their field name.
func (q *GeneratedQuestion) Options() map[string]string {
	out := make(map[string]string)
	for i := 1; i <= MaxOptions; i++ {
		if opt, ok := q.Option(i); ok {
			out["option_"+strconv.Itoa(i)] = opt
		}
	}
	return out
}

// fillDefaults sets the trailing option slots 5..9 to the None sentinel when the model left
// them out. Slots 1..4 stay nullable.
func (q *GeneratedQuestion) fillDefaults() {
	slots := q.optionSlots()
	for i := 4; i < MaxOptions; i++ {
		if *slots[i] == nil {
			none := NoneOption
			*slots[i] = &none
		}
	}
}

// ContextText is the question context, or the empty string if there is none.
func (q *GeneratedQuestion) ContextText() string {
	if q.Text == nil {
		return ""
	}
	return strings.TrimSpace(*q.Text)
}

// AnswerIndices parses a comma separated list of option numbers.
func (q *GeneratedQuestion) AnswerIndices() ([]int, error) {
	parts := strings.Split(string(q.Outputs), ",")
	indices := make([]int, 0, len(parts))
	for _, part := range parts {
		idx, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("answer '%s' is not a list of option numbers", q.Outputs)
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

// normalizeAnswer rewrites a choice answer as ascending, de-duplicated option numbers
// joined by commas. Unparseable answers are left for CheckAnswer to reject.
func (q *GeneratedQuestion) normalizeAnswer(kind Kind) {
	if !kind.HasOptions() {
		q.Outputs = Answer(strings.TrimSpace(string(q.Outputs)))
		return
	}
	indices, err := q.AnswerIndices()
	if err != nil {
		return
	}
	sort.Ints(indices)
	parts := make([]string, 0, len(indices))
	for i, idx := range indices {
		if i > 0 && indices[i-1] == idx {
			continue
		}
		parts = append(parts, strconv.Itoa(idx))
	}
	q.Outputs = Answer(strings.Join(parts, ","))
}

// CheckAnswer verifies that the answer has the shape required by the question kind.
func (q *GeneratedQuestion) CheckAnswer(kind Kind) error {
	if strings.TrimSpace(string(q.Outputs)) == "" {
		return fmt.Errorf("answer is empty")
	}

	switch kind {
	case KindOpen:
		return nil
	case KindSingle, KindMulti:
	default:
		return fmt.Errorf("unsupported question type '%s'", kind)
	}

	indices, err := q.AnswerIndices()
	if err != nil {
		return err
	}
	if kind == KindSingle && len(indices) != 1 {
		return fmt.Errorf("single choice answer must reference exactly one option, got '%s'", q.Outputs)
	}
	if kind == KindMulti && len(indices) < 2 {
		return fmt.Errorf("multiple choice answer must reference at least two options, got '%s'", q.Outputs)
	}

	if !sort.IntsAreSorted(indices) {
		return fmt.Errorf("answer options must be listed in ascending order, got '%s'", q.Outputs)
	}
	for i, idx := range indices {
		if idx < 1 || idx > MaxOptions {
			return fmt.Errorf("answer option %d is out of range [1, %d]", idx, MaxOptions)
		}
		if i > 0 && indices[i-1] == idx {
			return fmt.Errorf("answer option %d is listed twice", idx)
		}
		if _, ok := q.Option(idx); !ok {
			return fmt.Errorf("answer references empty option %d", idx)
		}
	}
	return nil
}

// promptJSON renders the question for the validator: indented, non-ASCII kept as is, and
// without the source text.
func (q GeneratedQuestion) promptJSON() (string, error) {
	q.SourceText = ""
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(q); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
