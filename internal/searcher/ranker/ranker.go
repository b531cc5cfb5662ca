// Package ranker computes the TF-IDF weighting applied to posting sets.
// A document's score is the sum, over matched query terms, of its stored
// term frequency times the term's inverse document frequency.
package ranker

import "math"

type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// IDF returns max(log2(totalDocs/docFreq), 0), or 0 for an unseen term.
// Terms present in every document, or in more documents than totalDocs when
// the two counts were read at different moments, weigh nothing.
func IDF(totalDocs, docFreq int64) float64 {
	if docFreq <= 0 {
		return 0
	}
	if totalDocs < 1 {
		totalDocs = 1
	}
	return math.Max(math.Log2(float64(totalDocs)/float64(docFreq)), 0)
}

// Weights maps the posting key of every term carrying a positive IDF to that
// IDF. docFreqs[i] is the document frequency of terms[i]. An empty map means
// no term can contribute to a score.
func Weights(totalDocs int64, terms []string, docFreqs []int64, postingKey func(term string) string) map[string]float64 {
	weights := make(map[string]float64, len(terms))
	for i, term := range terms {
		if i >= len(docFreqs) {
			break
		}
		if idf := IDF(totalDocs, docFreqs[i]); idf > 0 {
			weights[postingKey(term)] = idf
		}
	}
	return weights
}
