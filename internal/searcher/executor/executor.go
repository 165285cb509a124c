// Package executor evaluates query expressions against one index snapshot
// and returns ranked, hydrated hits.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/metrics"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
)

// Hit is one ranked document with the source it was indexed with.
type Hit struct {
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Source map[string]any `json:"source"`
}

// Result is one page of hits. Total counts every match, not just the page.
type Result struct {
	Generation uint64        `json:"generation"`
	Total      int           `json:"total"`
	Hits       []Hit         `json:"hits"`
	Took       time.Duration `json:"took"`
}

type Executor struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New returns an Executor. m may be nil.
func New(m *metrics.Metrics) *Executor {
	return &Executor{
		logger:  slog.Default().With("component", "query-executor"),
		metrics: m,
	}
}

// Run validates req.Query against sch and evaluates it over snap. The caller
// loads snap once so the whole query sees one generation.
func (e *Executor) Run(ctx context.Context, sch *schema.Schema, snap *index.Snapshot, req query.Request) (*Result, error) {
	start := time.Now()
	q := req.Query
	if q == nil {
		q = query.MatchAll{}
	}
	kind := string(q.Kind())
	if req.From < 0 || req.Size < 0 {
		e.count(kind, "invalid")
		return nil, apperrors.InvalidQuery(kind, "", nil, "from and size must not be negative")
	}
	if err := query.Validate(q, sch); err != nil {
		e.count(kind, "invalid")
		return nil, err
	}

	ev := &evaluator{ctx: ctx, schema: sch, snap: snap}
	matches, err := ev.eval(q)
	if err != nil {
		e.count(kind, "error")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("evaluating %s query: %w", kind, err)
	}

	page := merger.Page(matches, req.From, req.Size)
	hits := make([]Hit, 0, len(page))
	for _, sd := range page {
		doc, ok := snap.Document(sd.DocID)
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: sd.DocID, Score: sd.Score, Source: doc.Source()})
	}

	result := &Result{
		Generation: snap.Generation(),
		Total:      len(matches),
		Hits:       hits,
		Took:       time.Since(start),
	}
	if len(matches) == 0 {
		e.count(kind, "zero_result")
	} else {
		e.count(kind, "hit")
	}
	if e.metrics != nil {
		e.metrics.SearchResultsCount.Observe(float64(len(matches)))
	}
	e.logger.Debug("query executed",
		"kind", kind,
		"generation", result.Generation,
		"total", result.Total,
		"returned", len(hits),
		"took", result.Took,
	)
	return result, nil
}

func (e *Executor) count(kind, outcome string) {
	if e.metrics != nil {
		e.metrics.SearchQueriesTotal.WithLabelValues(kind, outcome).Inc()
	}
}
