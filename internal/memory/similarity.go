package memory

import (
	"strings"
)

// SimilarityStrategy scores how close a query is to a stored pattern.
// The query embedding is passed alongside the text so a vector-based
// strategy can be plugged in without changing the store contract; the
// default ignores it.
type SimilarityStrategy interface {
	Score(query string, queryEmbedding []float32, p *ReasoningPattern) float64
}

// JaccardSimilarity scores by word-set overlap: the Jaccard index of
// the lower-cased, whitespace-tokenized word sets of query and pattern
// text. Returns 0 when the union is empty.
type JaccardSimilarity struct{}

func (JaccardSimilarity) Score(query string, _ []float32, p *ReasoningPattern) float64 {
	qs := wordSet(query)
	ps := wordSet(p.Pattern)

	union := len(ps)
	overlap := 0
	for w := range qs {
		if ps[w] {
			overlap++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(overlap) / float64(union)
}

func wordSet(text string) map[string]bool {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
