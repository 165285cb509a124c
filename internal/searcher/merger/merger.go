// Package merger selects one page of ranked results without sorting the
// whole match set.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/ranker"
)

// Page returns the documents ranked from..from+size-1. size 0 returns every
// document from the offset on.
func Page(scores map[string]float64, from, size int) []ranker.ScoredDoc {
	if from < 0 {
		from = 0
	}
	if size <= 0 || from+size >= len(scores) {
		ranked := ranker.Rank(scores)
		if from >= len(ranked) {
			return []ranker.ScoredDoc{}
		}
		end := len(ranked)
		if size > 0 && from+size < end {
			end = from + size
		}
		return ranked[from:end]
	}

	limit := from + size
	h := &scoredDocHeap{}
	heap.Init(h)
	for docID, score := range scores {
		doc := ranker.ScoredDoc{DocID: docID, Score: score}
		if h.Len() < limit {
			heap.Push(h, doc)
			continue
		}
		if ranker.Less(doc, (*h)[0]) {
			(*h)[0] = doc
			heap.Fix(h, 0)
		}
	}
	result := make([]ranker.ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(ranker.ScoredDoc)
	}
	return result[from:]
}

// scoredDocHeap keeps the worst-ranked document at the root.
type scoredDocHeap []ranker.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool {
	return ranker.Less(h[j], h[i])
}

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x any) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *scoredDocHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
