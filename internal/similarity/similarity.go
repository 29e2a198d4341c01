// Package similarity computes textual similarity between memory summaries.
// It is the single primitive behind deduplication on save and the merge
// pass before synthesis; both paths must agree on what "duplicate" means.
package similarity

import (
	"strings"
	"unicode"
)

// DedupThreshold is the Jaccard score at or above which two same-level
// summaries are treated as the same memory.
const DedupThreshold = 0.85

// Tokenize splits text into a set of lowercase word tokens with
// punctuation stripped.
func Tokenize(text string) map[string]struct{} {
	tokens := map[string]struct{}{}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		tokens[w] = struct{}{}
	}
	return tokens
}

// Jaccard computes |a ∩ b| / |a ∪ b| over two token sets. Two empty
// sets score 0 so that empty or punctuation-only summaries never match
// each other.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Score tokenizes both texts and returns their Jaccard similarity in [0,1].
// Deterministic and symmetric; Score(x, x) is 1.0 for any non-empty x.
func Score(a, b string) float64 {
	return Jaccard(Tokenize(a), Tokenize(b))
}
