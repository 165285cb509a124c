package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/kafka"
)

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalSearches     int64            `json:"total_searches"`
	TotalDocsIndexed  int64            `json:"total_docs_indexed"`
	TotalDocsDeleted  int64            `json:"total_docs_deleted"`
	CacheHits         int64            `json:"cache_hits"`
	CacheMisses       int64            `json:"cache_misses"`
	ZeroResultCount   int64            `json:"zero_result_count"`
	InvalidCount      int64            `json:"invalid_count"`
	AvgLatencyMs      float64          `json:"avg_latency_ms"`
	P50LatencyMs      int64            `json:"p50_latency_ms"`
	P95LatencyMs      int64            `json:"p95_latency_ms"`
	P99LatencyMs      int64            `json:"p99_latency_ms"`
	SearchesByIndex   map[string]int64 `json:"searches_by_index"`
	SearchesByKind    map[string]int64 `json:"searches_by_kind"`
	TopQueries        []QueryCount     `json:"top_queries"`
	ZeroResultQueries []QueryCount     `json:"zero_result_queries"`
	QueriesPerMinute  float64          `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds analytics events into running statistics.
type Aggregator struct {
	mu          sync.RWMutex
	stats       AggregatedStats
	latencies   []int64
	next        int
	queryCounts map[string]int64
	zeroQueries map[string]int64
	startTime   time.Time
	logger      *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		stats: AggregatedStats{
			SearchesByIndex: make(map[string]int64),
			SearchesByKind:  make(map[string]int64),
		},
		latencies:   make([]int64, 0, 1024),
		queryCounts: make(map[string]int64),
		zeroQueries: make(map[string]int64),
		startTime:   time.Now(),
		logger:      slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent is the Kafka handler for the analytics topic.
func (a *Aggregator) HandleEvent(ctx context.Context, key, value []byte) error {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return fmt.Errorf("decoding analytics event: %w: %w", kafka.ErrSkip, err)
	}
	switch head.Type {
	case EventSearch, EventZeroResult, EventInvalid:
		e, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			return err
		}
		a.RecordSearch(e)
	case EventIndexDoc, EventDeleteDoc:
		e, err := kafka.DecodeJSON[IndexEvent](value)
		if err != nil {
			return err
		}
		a.RecordIndex(e)
	default:
		a.logger.Warn("unknown analytics event type", "type", head.Type)
	}
	return nil
}

func (a *Aggregator) RecordSearch(e SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.TotalSearches++
	a.stats.SearchesByIndex[e.Index]++
	if e.Kind != "" {
		a.stats.SearchesByKind[e.Kind]++
	}
	if e.Type == EventInvalid {
		a.stats.InvalidCount++
		return
	}
	if e.CacheHit {
		a.stats.CacheHits++
	} else {
		a.stats.CacheMisses++
	}
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, e.LatencyMs)
	} else {
		a.latencies[a.next] = e.LatencyMs
		a.next = (a.next + 1) % maxLatencySamples
	}
	if e.Query != "" {
		a.queryCounts[e.Query]++
	}
	if e.TotalHits == 0 {
		a.stats.ZeroResultCount++
		if e.Query != "" {
			a.zeroQueries[e.Query]++
		}
	}
}

func (a *Aggregator) RecordIndex(e IndexEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch e.Type {
	case EventIndexDoc:
		a.stats.TotalDocsIndexed++
	case EventDeleteDoc:
		a.stats.TotalDocsDeleted++
	}
}

// Restore seeds the counters from a persisted snapshot so totals survive a
// restart. Percentiles and top queries start over.
func (a *Aggregator) Restore(s AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.TotalSearches = s.TotalSearches
	a.stats.TotalDocsIndexed = s.TotalDocsIndexed
	a.stats.TotalDocsDeleted = s.TotalDocsDeleted
	a.stats.CacheHits = s.CacheHits
	a.stats.CacheMisses = s.CacheMisses
	a.stats.ZeroResultCount = s.ZeroResultCount
	a.stats.InvalidCount = s.InvalidCount
	for k, v := range s.SearchesByIndex {
		a.stats.SearchesByIndex[k] = v
	}
	for k, v := range s.SearchesByKind {
		a.stats.SearchesByKind[k] = v
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := a.stats
	out.SearchesByIndex = copyCounts(a.stats.SearchesByIndex)
	out.SearchesByKind = copyCounts(a.stats.SearchesByKind)
	if len(a.latencies) > 0 {
		sorted := append([]int64(nil), a.latencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		var sum int64
		for _, l := range sorted {
			sum += l
		}
		out.AvgLatencyMs = float64(sum) / float64(len(sorted))
		out.P50LatencyMs = percentile(sorted, 50)
		out.P95LatencyMs = percentile(sorted, 95)
		out.P99LatencyMs = percentile(sorted, 99)
	}
	out.TopQueries = topN(a.queryCounts, 10)
	out.ZeroResultQueries = topN(a.zeroQueries, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		out.QueriesPerMinute = float64(out.TotalSearches) / elapsed
	}
	return out
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := pct * len(sorted) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count desc, then query asc so ties are stable.
func topN(counts map[string]int64, n int) []QueryCount {
	out := make([]QueryCount, 0, len(counts))
	for q, c := range counts {
		out = append(out, QueryCount{Query: q, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Query < out[j].Query
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
