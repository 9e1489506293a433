package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ExtractBinaryVector reads n binary verdicts from a free-text reply. The result always has
// length n: missing verdicts are 0 and extra ones are dropped.
//
// Lines are scanned first. A line counts when it ends with a 0 or 1 standing on its own or
// after a separator such as ':' or '-', so "Ясность: 1" yields 1 while the numbering in
// "Критерий 1" is ignored. If lines give fewer than n verdicts, the whole reply is scanned
// for 0 and 1 not adjacent to other digits, and that result is used when it finds more.
func ExtractBinaryVector(text string, n int) []int {
	if n <= 0 {
		return []int{}
	}

	bits := lineVerdicts(text, n)
	if len(bits) < n {
		if loose := looseVerdicts(text, n); len(loose) > len(bits) {
			bits = loose
		}
	}

	out := make([]int, n)
	copy(out, bits)
	return out
}

func lineVerdicts(text string, n int) []int {
	bits := make([]int, 0, n)
	for _, line := range strings.Split(text, "\n") {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}
		last := s[len(s)-1]
		if last != '0' && last != '1' {
			continue
		}

		rest := strings.TrimRightFunc(s[:len(s)-1], unicode.IsSpace)
		if rest != "" {
			r, _ := utf8.DecodeLastRuneInString(rest)
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				continue
			}
		}

		bits = append(bits, int(last-'0'))
		if len(bits) == n {
			break
		}
	}
	return bits
}

func looseVerdicts(text string, n int) []int {
	bits := make([]int, 0, n)
	for i := 0; i < len(text) && len(bits) < n; i++ {
		c := text[i]
		if c != '0' && c != '1' {
			continue
		}
		if i > 0 && isASCIIDigit(text[i-1]) {
			continue
		}
		if i+1 < len(text) && isASCIIDigit(text[i+1]) {
			continue
		}
		bits = append(bits, int(c-'0'))
	}
	return bits
}

func isASCIIDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
