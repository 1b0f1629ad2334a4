// Package tokenizer turns raw text into the ordered term sequences the index
// is built from. The engine only depends on the Tokenizer interface; the
// analyzers here are the ones the service ships with.
package tokenizer

import (
	"fmt"
	"strings"
	"unicode"
)

// Tokenizer produces an ordered sequence of normalized terms from text.
// Implementations must be safe for concurrent use.
type Tokenizer interface {
	Tokenize(text string) []string
}

// Func adapts an ordinary function to the Tokenizer interface.
type Func func(text string) []string

func (f Func) Tokenize(text string) []string { return f(text) }

const (
	NameUnicode = "unicode"
	NameEnglish = "english"
)

// ByName resolves a configured analyzer name.
func ByName(name string) (Tokenizer, error) {
	switch name {
	case "", NameUnicode:
		return Unicode{}, nil
	case NameEnglish:
		return English{}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}

// Unicode splits on every rune that is neither a letter nor a digit. It keeps
// case and performs no stemming, so matching is exact on the produced terms.
type Unicode struct{}

func (Unicode) Tokenize(text string) []string {
	return strings.FieldsFunc(text, isSeparator)
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// Normalize drops terms produced by t that are blank after trimming and,
// when lowercase is set, folds the case of the rest. Segmenters that emit
// whitespace tokens therefore never contribute terms or document length.
func Normalize(t Tokenizer, lowercase bool) Tokenizer {
	return Func(func(text string) []string {
		terms := t.Tokenize(text)
		out := make([]string, 0, len(terms))
		for _, term := range terms {
			if strings.TrimSpace(term) == "" {
				continue
			}
			if lowercase {
				term = strings.ToLower(term)
			}
			out = append(out, term)
		}
		return out
	})
}

// Lowercase is Normalize with case folding.
func Lowercase(t Tokenizer) Tokenizer {
	return Normalize(t, true)
}
