package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"qgen-backend/internal/pipeline"
)

func TestExtractBinaryVector(t *testing.T) {
	tests := []struct {
		name string
		text string
		n    int
		want []int
	}{
		{name: "verdict lines after headings", text: "Критерий 1\n1\nКритерий 2\n0\n", n: 2, want: []int{1, 0}},
		{name: "nothing parseable", text: "Вопрос хороший, замечаний нет.", n: 3, want: []int{0, 0, 0}},
		{name: "labelled verdicts", text: "Грамотность: 1\r\nОднозначность: 0\r\nОпора на текст - 1", n: 3, want: []int{1, 0, 1}},
		{name: "extra verdicts are dropped", text: "1\n1\n0\n1", n: 2, want: []int{1, 1}},
		{name: "missing verdicts are zero", text: "Стиль: 1", n: 2, want: []int{1, 0}},
		{name: "loose scan when lines do not end in a verdict", text: "Стиль 1 и орфография 0 в норме", n: 2, want: []int{1, 0}},
		{name: "loose scan skips multi digit numbers", text: "Статья 10 , оценка 1; пункт 101, оценка 0.", n: 2, want: []int{1, 0}},
		{name: "zero length", text: "1\n0", n: 0, want: []int{}},
		{name: "negative length", text: "1\n0", n: -1, want: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pipeline.ExtractBinaryVector(tt.text, tt.n))
		})
	}
}
