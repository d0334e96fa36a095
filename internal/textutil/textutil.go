// Package textutil provides the text normalisation shared by the catalog
// indexer, the vendor resolver and the scorer.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MinTermLength is the minimum rune length of a significant term.
const MinTermLength = 3

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "this": {},
	"that": {}, "are": {}, "was": {}, "per": {}, "pack": {}, "each": {},
	"new": {}, "one": {}, "all": {}, "not": {}, "you": {}, "our": {},
	"medically": {}, "compliant": {}, "rec": {}, "med": {},
}

// Fold case-folds s, strips diacritics and applies NFKC so that visually
// equal strings compare equal.
func Fold(s string) string {
	// Transformers and casers carry state; build them per call.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// Normalize folds s, replaces punctuation with spaces (dots between digits
// survive so "3.5g" stays intact) and collapses whitespace.
func Normalize(s string) string {
	return strings.Join(Words(s), " ")
}

// Words returns the normalized words of s in order.
func Words(s string) []string {
	f := []rune(Fold(s))
	var b strings.Builder
	b.Grow(len(f))
	for i, r := range f {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' && i > 0 && i+1 < len(f) && unicode.IsDigit(f[i-1]) && unicode.IsDigit(f[i+1]):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// IsStopWord reports whether w (already normalized) is a stop word.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// SignificantTerms returns the distinct words of the given texts that are at
// least MinTermLength runes long, not stop words and not pure numbers, in
// first-seen order.
func SignificantTerms(texts ...string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, text := range texts {
		for _, w := range Words(text) {
			if len([]rune(w)) < MinTermLength || IsStopWord(w) || isNumeric(w) {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			terms = append(terms, w)
		}
	}
	return terms
}

func isNumeric(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return w != ""
}

// Bigrams returns the character bigrams of s with spaces removed.
func Bigrams(s string) []string {
	r := []rune(strings.ReplaceAll(s, " ", ""))
	if len(r) < 2 {
		if len(r) == 1 {
			return []string{string(r)}
		}
		return nil
	}
	out := make([]string, 0, len(r)-1)
	for i := 0; i+1 < len(r); i++ {
		out = append(out, string(r[i:i+2]))
	}
	return out
}
