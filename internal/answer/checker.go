// Package answer implements answer-matching rules. The rule is a
// function value so a stricter or fuzzier rule can be swapped in
// without touching the game service.
package answer

import (
	"strings"
	"unicode"
)

// Rule decides whether a submitted answer matches the canonical one.
type Rule func(submitted, canonical string) bool

// DefaultRule is the rule the game service uses.
var DefaultRule Rule = ExactMatch

// ExactMatch reports whether the normalised answers are identical.
func ExactMatch(submitted, canonical string) bool {
	return Normalize(submitted) == Normalize(canonical)
}

// Normalize lower-cases, strips punctuation, and collapses whitespace
// so trivial formatting differences don't fail an otherwise correct
// answer.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
