package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"qgen-backend/internal/pipeline/prompts"
)

// Criterion is one rubric block: a prompt asking for Expected binary verdicts.
type Criterion struct {
	Key      string `yaml:"key"`
	Expected int    `yaml:"expected"`
}

type KindRubric struct {
	Criteria  []Criterion `yaml:"criteria"`
	MaxTotal  int         `yaml:"max_total"`
	Threshold int         `yaml:"threshold"`
}

// Rubric holds the scoring table for every question kind.
type Rubric map[Kind]KindRubric

func DefaultRubric() Rubric {
	return Rubric{
		KindOpen: {
			Criteria: []Criterion{
				{Key: "c1_question", Expected: 5},
				{Key: "c2_outputs", Expected: 6},
				{Key: "c4_logic", Expected: 4},
				{Key: "c5_phrase", Expected: 2},
			},
			MaxTotal:  17,
			Threshold: 15,
		},
		KindSingle: {
			Criteria: []Criterion{
				{Key: "c1_question", Expected: 5},
				{Key: "c2_options", Expected: 9},
				{Key: "c3_outputs", Expected: 2},
				{Key: "c4_logic", Expected: 4},
				{Key: "c5_phrase", Expected: 2},
			},
			MaxTotal:  22,
			Threshold: 20,
		},
		KindMulti: {
			Criteria: []Criterion{
				{Key: "c1_question", Expected: 5},
				{Key: "c2_options", Expected: 9},
				{Key: "c3_outputs", Expected: 2},
				{Key: "c4_logic", Expected: 4},
				{Key: "c5_phrase", Expected: 2},
			},
			MaxTotal:  22,
			Threshold: 20,
		},
	}
}

// Check verifies that every kind has a table, every criterion has a prompt, the expected
// counts sum to MaxTotal and the threshold lies within (0, MaxTotal].
func (r Rubric) Check() error {
	for _, kind := range Kinds {
		table, ok := r[kind]
		if !ok {
			return fmt.Errorf("rubric has no table for question type '%s'", kind)
		}
		if len(table.Criteria) == 0 {
			return fmt.Errorf("rubric for '%s' has no criteria", kind)
		}

		sum := 0
		seen := make(map[string]bool)
		for _, c := range table.Criteria {
			if seen[c.Key] {
				return fmt.Errorf("rubric for '%s' lists criterion '%s' twice", kind, c.Key)
			}
			seen[c.Key] = true
			if c.Expected <= 0 {
				return fmt.Errorf("criterion '%s' for '%s' must expect at least one verdict", c.Key, kind)
			}
			if _, ok := prompts.Criterion(string(kind), c.Key); !ok {
				return fmt.Errorf("criterion '%s' has no prompt for '%s'", c.Key, kind)
			}
			sum += c.Expected
		}

		if sum != table.MaxTotal {
			return fmt.Errorf("rubric for '%s': criteria sum to %d, max total is %d", kind, sum, table.MaxTotal)
		}
		if table.Threshold <= 0 || table.Threshold > table.MaxTotal {
			return fmt.Errorf("rubric for '%s': threshold %d is outside (0, %d]", kind, table.Threshold, table.MaxTotal)
		}
	}
	return nil
}

type rubricOverride struct {
	Criteria  []Criterion `yaml:"criteria"`
	MaxTotal  *int        `yaml:"max_total"`
	Threshold *int        `yaml:"threshold"`
}

// LoadRubric reads overrides on top of the default rubric. Kinds missing from the file keep
// their defaults; a kind that lists criteria replaces its whole criteria list. When criteria
// are replaced without a max_total, the total is recomputed from the new list.
//
//	open:
//	  threshold: 14
//	one:
//	  criteria:
//	    - {key: c1_question, expected: 5}
//	    - {key: c2_options, expected: 9}
func LoadRubric(path string) (Rubric, error) {
	rubric := DefaultRubric()
	if path == "" {
		return rubric, rubric.Check()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading rubric file: %w", err)
	}

	var overrides map[string]rubricOverride
	if err := yaml.UnmarshalStrict(data, &overrides); err != nil {
		return nil, fmt.Errorf("error parsing rubric file %s: %w", path, err)
	}

	for name, o := range overrides {
		kind, err := ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("rubric file %s: %w", path, err)
		}
		table := rubric[kind]
		if o.Criteria != nil {
			table.Criteria = o.Criteria
			table.MaxTotal = 0
			for _, c := range o.Criteria {
				table.MaxTotal += c.Expected
			}
		}
		if o.MaxTotal != nil {
			table.MaxTotal = *o.MaxTotal
		}
		if o.Threshold != nil {
			table.Threshold = *o.Threshold
		}
		rubric[kind] = table
	}

	if err := rubric.Check(); err != nil {
		return nil, fmt.Errorf("invalid rubric file %s: %w", path, err)
	}
	return rubric, nil
}
