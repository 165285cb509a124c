// Package ranker holds the scoring model: each matched token contributes
// 1 + ln(tf), fuzzy matches are damped by their edit distance, and results
// are ordered by score descending then document id ascending.
package ranker

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
)

type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// TermScore is the contribution of one matched token occurring freq times.
func TermScore(freq int) float64 {
	if freq <= 0 {
		return 0
	}
	return 1 + math.Log(float64(freq))
}

// FuzzyScore damps TermScore for a token matched at the given edit distance.
func FuzzyScore(freq, distance int) float64 {
	return TermScore(freq) / float64(1+distance)
}

// Less reports whether a ranks before b.
func Less(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return schema.CompareIDs(a.DocID, b.DocID) < 0
}

// Rank orders every scored document.
func Rank(scores map[string]float64) []ScoredDoc {
	result := make([]ScoredDoc, 0, len(scores))
	for docID, score := range scores {
		result = append(result, ScoredDoc{DocID: docID, Score: score})
	}
	sort.Slice(result, func(i, j int) bool {
		return Less(result[i], result[j])
	})
	return result
}
