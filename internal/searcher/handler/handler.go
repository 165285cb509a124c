// Package handler exposes collections over HTTP: index lifecycle, document
// writes and the JSON query DSL. Search is also offered as a Go method so
// host surfaces such as GET /books share the cache, analytics and limits.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/tracing"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	registry  *indexer.Registry
	executor  *executor.Executor
	cache     *cache.QueryCache
	collector *analytics.Collector
	metrics   *metrics.Metrics
	cfg       config.SearchConfig
	logger    *slog.Logger
}

type Option func(*Handler)

// WithCache enables result caching. A nil cache is allowed.
func WithCache(c *cache.QueryCache) Option {
	return func(h *Handler) { h.cache = c }
}

func WithCollector(c *analytics.Collector) Option {
	return func(h *Handler) { h.collector = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func New(reg *indexer.Registry, exec *executor.Executor, cfg config.SearchConfig, opts ...Option) *Handler {
	h := &Handler{
		registry: reg,
		executor: exec,
		cfg:      cfg,
		logger:   slog.Default().With("component", "search-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/indexes", h.ListIndexes)
	mux.HandleFunc("PUT /api/v1/indexes/{name}", h.CreateIndex)
	mux.HandleFunc("GET /api/v1/indexes/{name}", h.GetIndex)
	mux.HandleFunc("HEAD /api/v1/indexes/{name}", h.IndexExists)
	mux.HandleFunc("DELETE /api/v1/indexes/{name}", h.DeleteIndex)
	mux.HandleFunc("POST /api/v1/indexes/{name}/_refresh", h.Refresh)
	mux.HandleFunc("PUT /api/v1/indexes/{name}/_doc/{id}", h.PutDocument)
	mux.HandleFunc("GET /api/v1/indexes/{name}/_doc/{id}", h.GetDocument)
	mux.HandleFunc("DELETE /api/v1/indexes/{name}/_doc/{id}", h.DeleteDocument)
	mux.HandleFunc("POST /api/v1/indexes/{name}/_search", h.SearchDSL)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search runs req against the current snapshot of index. A zero Size takes
// the configured default; the page is then capped at MaxResults while Total
// still counts every match. raw is only used for analytics.
func (h *Handler) Search(ctx context.Context, index string, req query.Request, raw string) (*executor.Result, error) {
	start := time.Now()
	span := tracing.FromContext(ctx)
	if span == nil {
		var root *tracing.Span
		ctx, root = tracing.StartSpan(ctx, "search", logger.RequestID(ctx))
		defer finishSpan(ctx, root)
		span = root
	}
	span.SetAttr("index", index)

	engine, err := h.registry.Get(index)
	if err != nil {
		return nil, err
	}
	if req.Size == 0 {
		req.Size = h.cfg.DefaultLimit
	}
	if h.cfg.MaxResults > 0 && (req.Size == 0 || req.Size > h.cfg.MaxResults) {
		req.Size = h.cfg.MaxResults
	}
	snap := engine.Snapshot()
	kind := string(query.KindMatchAll)
	if req.Query != nil {
		kind = string(req.Query.Kind())
	}
	event := analytics.SearchEvent{
		Type:       analytics.EventSearch,
		Index:      index,
		Kind:       kind,
		Query:      raw,
		Generation: snap.Generation(),
		RequestID:  logger.RequestID(ctx),
	}

	var (
		result *executor.Result
		cached bool
	)
	// Results are read only on success; after a timeout the evaluation sees
	// its context cancelled and stops on its own.
	err = resilience.Bound(ctx, h.cfg.Timeout, "search", func(ctx context.Context) error {
		cacheCtx, cacheSpan := tracing.StartChildSpan(ctx, "cache")
		defer cacheSpan.End()
		var err error
		result, cached, err = h.cache.GetOrCompute(cacheCtx, index, snap.Generation(), req, func() (*executor.Result, error) {
			_, evalSpan := tracing.StartChildSpan(cacheCtx, "evaluate")
			defer evalSpan.End()
			return h.executor.Run(cacheCtx, engine.Schema(), snap, req)
		})
		cacheSpan.SetAttr("hit", cached)
		return err
	})
	latency := time.Since(start)
	event.LatencyMs = latency.Milliseconds()
	event.Timestamp = time.Now().UTC()
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidQuery) {
			event.Type = analytics.EventInvalid
			h.collector.Track(event)
		}
		return nil, err
	}

	event.CacheHit = cached
	event.TotalHits = result.Total
	event.Returned = len(result.Hits)
	if result.Total == 0 {
		event.Type = analytics.EventZeroResult
	}
	h.collector.Track(event)

	if h.metrics != nil {
		status := "miss"
		if cached {
			status = "hit"
		}
		h.metrics.SearchLatency.WithLabelValues(status).Observe(latency.Seconds())
	}
	span.SetAttr("total", result.Total)
	span.SetAttr("cache_hit", cached)
	logger.FromContext(ctx).Info("search completed",
		"index", index,
		"kind", kind,
		"total", result.Total,
		"returned", len(result.Hits),
		"generation", result.Generation,
		"cache_hit", cached,
		"latency_ms", latency.Milliseconds(),
	)
	return result, nil
}

func finishSpan(ctx context.Context, s *tracing.Span) {
	s.End()
	s.Log(logger.FromContext(ctx))
}

// SearchDSL handles POST /api/v1/indexes/{name}/_search.
func (h *Handler) SearchDSL(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "reading request body"))
		return
	}
	ctx, root := tracing.StartSpan(r.Context(), "search", logger.RequestID(r.Context()))
	defer finishSpan(ctx, root)
	_, parseSpan := tracing.StartChildSpan(ctx, "parse")
	req, err := parser.ParseRequest(body)
	parseSpan.End()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.Search(ctx, r.PathValue("name"), req, string(body))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

// CacheInvalidate drops cached results of ?index=name, or all of them.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}
	deleted, err := h.cache.Invalidate(r.Context(), r.URL.Query().Get("index"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to its HTTP status. Server-side failures are logged
// and reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}
