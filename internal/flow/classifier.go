package flow

import (
	"strings"
	"unicode"
)

// AffirmativeClassifier decides whether a reply to a nudge means "continue".
type AffirmativeClassifier interface {
	IsAffirmative(text string) bool
}

// ClassifierFunc adapts a function to AffirmativeClassifier.
type ClassifierFunc func(text string) bool

// IsAffirmative calls f(text).
func (f ClassifierFunc) IsAffirmative(text string) bool { return f(text) }

// KeywordClassifier matches whole words. Any negative word wins over an
// affirmative one; text with neither is not affirmative.
type KeywordClassifier struct {
	Affirmative []string
	Negative    []string
}

// DefaultClassifier understands English and Vietnamese short answers.
var DefaultClassifier = KeywordClassifier{
	Affirmative: []string{"yes", "y", "yeah", "yep", "ok", "okay", "sure", "continue", "go", "có", "co", "ừ", "uh", "vâng", "dạ", "tiếp", "tiep"},
	Negative:    []string{"no", "nope", "not", "stop", "later", "không", "khong", "ko", "thôi", "thoi"},
}

// IsAffirmative reports whether text contains an affirmative word and no negative one.
func (k KeywordClassifier) IsAffirmative(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	affirmative := false
	for _, w := range words {
		if contains(k.Negative, w) {
			return false
		}
		if contains(k.Affirmative, w) {
			affirmative = true
		}
	}
	return affirmative
}

func contains(list []string, w string) bool {
	for _, s := range list {
		if s == w {
			return true
		}
	}
	return false
}
