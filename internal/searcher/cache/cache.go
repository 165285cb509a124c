// Package cache memoises search results in Redis. Keys embed the index name
// and snapshot generation, so a refresh makes older entries unreachable
// without an explicit flush; Invalidate exists for index deletion.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/resilience"
	farmhash "github.com/leemcloughlin/gofarmhash"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "search:"

// Backend is the subset of the Redis client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.Breaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// Stats is reported by the cache stats endpoint.
type Stats struct {
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Breaker string `json:"breaker"`
}

// New wraps backend. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	c := &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	c.breaker = resilience.NewBreaker("redis-cache", resilience.BreakerConfig{
		Threshold: 5,
		Cooldown:  10 * time.Second,
		OnChange: func(name string, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

// Key identifies req against one generation of index.
func Key(index string, generation uint64, req query.Request) string {
	var b strings.Builder
	writeQuery(&b, req.Query)
	fmt.Fprintf(&b, "|%d|%d", req.From, req.Size)
	return fmt.Sprintf("%s%s:%d:%016x", keyPrefix, index, generation, farmhash.Hash64([]byte(b.String())))
}

// writeQuery renders q by value. Boosts are written resolved, so an absent
// boost and an explicit 1 share a key.
func writeQuery(b *strings.Builder, q query.Query) {
	switch q := q.(type) {
	case query.Term:
		fmt.Fprintf(b, "term(%q,%#v,%g)", q.Field, q.Value, query.BoostOf(q.Boost))
	case query.Terms:
		fmt.Fprintf(b, "terms(%q,%#v,%g)", q.Field, q.Values, query.BoostOf(q.Boost))
	case query.Match:
		fmt.Fprintf(b, "match(%q,%q,%s,%s,%g)", q.Field, q.Text, q.Operator, q.Fuzziness, query.BoostOf(q.Boost))
	case query.MatchPhrase:
		fmt.Fprintf(b, "phrase(%q,%q,%d,%g)", q.Field, q.Text, q.Slop, query.BoostOf(q.Boost))
	case query.MultiMatch:
		b.WriteString("multi(")
		for _, ref := range q.Fields {
			fmt.Fprintf(b, "%q^%g,", ref.Pattern, query.BoostOf(ref.Boost))
		}
		fmt.Fprintf(b, "%q,%s,%s,%g)", q.Text, q.Operator, q.Fuzziness, query.BoostOf(q.Boost))
	case query.Range:
		fmt.Fprintf(b, "range(%q,%#v,%#v,%#v,%#v,%g)", q.Field, q.GTE, q.GT, q.LTE, q.LT, query.BoostOf(q.Boost))
	case query.Bool:
		fmt.Fprintf(b, "bool(%d,%g", q.MinimumShouldMatch, query.BoostOf(q.Boost))
		for _, group := range []struct {
			name    string
			clauses []query.Query
		}{{"must", q.Must}, {"should", q.Should}, {"filter", q.Filter}, {"must_not", q.MustNot}} {
			fmt.Fprintf(b, ",%s[", group.name)
			for _, c := range group.clauses {
				writeQuery(b, c)
				b.WriteByte(';')
			}
			b.WriteByte(']')
		}
		b.WriteByte(')')
	case query.MatchAll:
		fmt.Fprintf(b, "all(%g)", query.BoostOf(q.Boost))
	default:
		fmt.Fprintf(b, "%#v", q)
	}
}

// GetOrCompute returns the cached result for req or runs compute and stores
// its result. Concurrent identical requests share one compute. Backend
// failures degrade to computing; they are never returned. A nil cache always
// computes.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	index string,
	generation uint64,
	req query.Request,
	compute func() (*executor.Result, error),
) (*executor.Result, bool, error) {
	if c == nil {
		r, err := compute()
		return r, false, err
	}
	key := Key(index, generation, req)
	if r, ok := c.get(ctx, key); ok {
		c.hit()
		return r, true, nil
	}
	c.miss()

	v, err, _ := c.group.Do(key, func() (any, error) {
		r, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, r)
		return r, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*executor.Result), false, nil
}

func (c *QueryCache) get(ctx context.Context, key string) (*executor.Result, bool) {
	var (
		data  string
		found bool
	)
	err := c.breaker.Do(func() error {
		var err error
		data, found, err = c.backend.Get(ctx, key)
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var r executor.Result
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		c.logger.Error("cache entry unreadable", "key", key, "error", err)
		return nil, false
	}
	return &r, true
}

func (c *QueryCache) set(ctx context.Context, key string, r *executor.Result) {
	data, err := json.Marshal(r)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Do(func() error {
		return c.backend.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// Invalidate drops every entry of index, or of all indexes when index is "".
func (c *QueryCache) Invalidate(ctx context.Context, index string) (int64, error) {
	if c == nil {
		return 0, nil
	}
	pattern := keyPrefix + "*"
	if index != "" {
		pattern = keyPrefix + index + ":*"
	}
	deleted, err := c.backend.FlushByPattern(ctx, pattern)
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "pattern", pattern, "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() Stats {
	if c == nil {
		return Stats{Breaker: "disabled"}
	}
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Breaker: c.breaker.State().String(),
	}
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
