package pipeline

import (
	"strings"

	"qgen-backend/internal/llm"
)

// Kind is the answer format of a generated question. The string value is the wire key used
// in task payloads, run state and rubric tables.
type Kind string

const (
	KindSingle Kind = "one"
	KindMulti  Kind = "multi"
	KindOpen   Kind = "open"
)

var Kinds = []Kind{KindSingle, KindMulti, KindOpen}

var kindAliases = map[string]Kind{
	"one":             KindSingle,
	"single":          KindSingle,
	"single-choice":   KindSingle,
	"multi":           KindMulti,
	"multiple":        KindMulti,
	"multiple-choice": KindMulti,
	"open":            KindOpen,
	"open-ended":      KindOpen,
}

// ParseKind accepts the wire keys and their long aliases, case-insensitively. Any other value
// is a *llm.ContractViolation.
func ParseKind(s string) (Kind, error) {
	kind, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", llm.ContractViolationf("unsupported question type '%s'", s)
	}
	return kind, nil
}

func (k Kind) Valid() bool {
	switch k {
	case KindSingle, KindMulti, KindOpen:
		return true
	}
	return false
}

func (k Kind) HasOptions() bool {
	return k == KindSingle || k == KindMulti
}

func (k Kind) String() string {
	return string(k)
}
