// Package indexer owns the write side of every collection: the Engine that
// analyses, stores and publishes documents, and the Registry that manages
// named collections.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer/analyzer"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/metrics"
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hashicorp/go-multierror"
)

const (
	metaGeneration = "generation"
	metaSchema     = "schema"
	metaSegment    = "segment"
)

// Engine is the index writer of one collection. Index, Delete, Refresh and
// Flush are serialised by a single mutex; readers only ever load the
// published snapshot and never block on it.
type Engine struct {
	name       string
	schema     *schema.Schema
	store      *store.Store
	mem        *index.MemoryIndex
	segments   *segment.Writer
	segmentDir string
	cfg        config.IndexConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu           sync.Mutex
	live         map[string]index.StoredDoc
	tombstones   *roaring.Bitmap
	nextOrd      uint32
	generation   uint64
	segmentValid bool
	closed       bool

	current     atomic.Pointer[index.Snapshot]
	loopStarted atomic.Bool
}

// Option customises an Engine.
type Option func(*Engine)

// WithMetrics records index activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Open opens (or creates) the collection name over st. Segments live under
// dataDir/cfg.SegmentDir; an empty dataDir keeps the index in memory only. The newest segment is loaded when it matches the
// committed generation; otherwise the inverted index is rebuilt from the
// document store.
func Open(name string, sch *schema.Schema, st *store.Store, dataDir string, cfg config.IndexConfig, opts ...Option) (*Engine, error) {
	e := &Engine{
		name:       name,
		schema:     sch,
		store:      st,
		mem:        index.NewMemoryIndex(),
		cfg:        cfg,
		logger:     slog.Default().With("component", "indexer", "index", name),
		live:       make(map[string]index.StoredDoc),
		tombstones: roaring.New(),
		nextOrd:    1,
	}
	if dataDir != "" {
		e.segmentDir = filepath.Join(dataDir, cfg.SegmentDir)
		e.segments = segment.NewWriter(e.segmentDir)
	}
	for _, opt := range opts {
		opt(e)
	}
	e.current.Store(index.EmptySnapshot())

	schemaJSON, err := sch.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding schema: %w", err)
	}
	if err := st.SetMeta(metaSchema, schemaJSON); err != nil {
		return nil, fmt.Errorf("persisting schema: %w", err)
	}
	if err := e.recover(); err != nil {
		return nil, fmt.Errorf("recovering index %s: %w", name, err)
	}
	return e, nil
}

func (e *Engine) Name() string {
	return e.name
}

func (e *Engine) Schema() *schema.Schema {
	return e.schema
}

// Snapshot returns the most recently published generation.
func (e *Engine) Snapshot() *index.Snapshot {
	return e.current.Load()
}

// Index analyses every declared field of doc and commits it, replacing any
// previous version with the same id. Values that fail analysis are indexed
// as empty and reported in the returned *multierror.Error once the document
// has been committed.
func (e *Engine) Index(doc schema.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: document id is required", apperrors.ErrInvalidInput)
	}
	doc = doc.Clone()
	analyzed, fieldErrs := e.analyze(doc)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return apperrors.ErrIndexClosed
	}
	if err := e.invalidateSegment(); err != nil {
		return err
	}
	if err := e.store.Put(doc); err != nil {
		return err
	}
	if prev, ok := e.live[doc.ID]; ok {
		e.tombstones.Add(prev.Ord)
	}
	ord := e.nextOrd
	e.nextOrd++
	for field, tokens := range analyzed {
		e.mem.AddField(field, tokens, doc.ID, ord)
	}
	e.live[doc.ID] = index.StoredDoc{Ord: ord, Doc: doc}
	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.WithLabelValues(e.name).Inc()
	}
	e.logger.Debug("document indexed",
		"doc_id", doc.ID,
		"ord", ord,
		"fields", len(analyzed),
		"mem_size", e.mem.Size(),
	)
	return fieldErrs.ErrorOrNil()
}

// Delete removes id from the store and tombstones its postings. Deleting an
// unknown id is a no-op.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return apperrors.ErrIndexClosed
	}
	prev, ok := e.live[id]
	if !ok {
		return nil
	}
	if err := e.invalidateSegment(); err != nil {
		return err
	}
	if err := e.store.Delete(id); err != nil {
		return err
	}
	e.tombstones.Add(prev.Ord)
	delete(e.live, id)
	if e.metrics != nil {
		e.metrics.DocsDeletedTotal.WithLabelValues(e.name).Inc()
	}
	e.logger.Debug("document deleted", "doc_id", id, "ord", prev.Ord)
	return nil
}

// Get returns the latest written version of id, whether or not it has been
// refreshed yet.
func (e *Engine) Get(id string) (schema.Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return schema.Document{}, apperrors.ErrIndexClosed
	}
	sd, ok := e.live[id]
	if !ok {
		return schema.Document{}, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	return sd.Doc.Clone(), nil
}

// DocCount is the number of live documents, refreshed or not.
func (e *Engine) DocCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// Refresh publishes every write since the previous refresh as a new
// generation and returns it.
func (e *Engine) Refresh() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, apperrors.ErrIndexClosed
	}
	return e.refreshLocked(false)
}

func (e *Engine) refreshLocked(forceCompact bool) (uint64, error) {
	if forceCompact || e.needsCompaction() {
		e.compactLocked()
	}
	gen := e.generation + 1
	if err := e.store.SetMeta(metaGeneration, []byte(strconv.FormatUint(gen, 10))); err != nil {
		return e.generation, fmt.Errorf("persisting generation: %w", err)
	}
	e.generation = gen
	e.publish()
	if e.metrics != nil {
		e.metrics.RefreshesTotal.WithLabelValues(e.name).Inc()
		e.metrics.IndexGeneration.WithLabelValues(e.name).Set(float64(gen))
		e.metrics.IndexDocCount.WithLabelValues(e.name).Set(float64(len(e.live)))
	}
	e.logger.Debug("index refreshed",
		"generation", gen,
		"docs", len(e.live),
		"tombstones", e.tombstones.GetCardinality(),
	)
	return gen, nil
}

func (e *Engine) publish() {
	postings, fieldTerms := e.mem.Freeze(e.current.Load())
	docs := make(map[string]index.StoredDoc, len(e.live))
	for id, sd := range e.live {
		docs[id] = sd
	}
	e.current.Store(index.NewSnapshot(e.generation, postings, fieldTerms, docs, e.tombstones.Clone()))
}

func (e *Engine) needsCompaction() bool {
	dead := e.tombstones.GetCardinality()
	if dead == 0 {
		return false
	}
	ratio := float64(dead) / float64(dead+uint64(len(e.live)))
	return ratio > e.cfg.CompactRatio
}

// compactLocked purges tombstoned postings from the term table. Ordinals are
// never reused, so the tombstone set can be cleared afterwards.
func (e *Engine) compactLocked() {
	if e.tombstones.IsEmpty() {
		return
	}
	start := time.Now()
	dead := e.tombstones.GetCardinality()
	removed := e.mem.Purge(e.tombstones)
	e.tombstones = roaring.New()
	if e.metrics != nil {
		e.metrics.CompactionsTotal.WithLabelValues(e.name).Inc()
	}
	e.logger.Info("index compacted",
		"tombstones", dead,
		"postings_removed", removed,
		"duration", time.Since(start),
	)
}

// Flush refreshes with a full compaction and writes the result as a segment
// file, replacing older segments.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return apperrors.ErrIndexClosed
	}
	return e.flushLocked()
}

func (e *Engine) flushLocked() error {
	if e.segmentValid {
		return nil
	}
	gen, err := e.refreshLocked(true)
	if err != nil || e.segments == nil {
		return err
	}
	name, err := e.segments.Write(gen, e.mem.Snapshot())
	if err != nil {
		e.flushMetric("error")
		return fmt.Errorf("writing segment: %w", err)
	}
	if err := e.store.SetMeta(metaSegment, []byte(name)); err != nil {
		e.flushMetric("error")
		return fmt.Errorf("recording segment: %w", err)
	}
	e.segmentValid = true
	removed, err := segment.Prune(e.segmentDir, name)
	if err != nil {
		e.logger.Warn("pruning old segments failed", "error", err)
	}
	e.flushMetric("ok")
	e.logger.Info("segment flushed",
		"segment", name,
		"generation", gen,
		"terms", e.mem.TermCount(),
		"docs", len(e.live),
		"pruned", removed,
	)
	return nil
}

func (e *Engine) flushMetric(status string) {
	if e.metrics != nil {
		e.metrics.SegmentFlushesTotal.WithLabelValues(e.name, status).Inc()
	}
}

// invalidateSegment marks the on-disk segment stale before the first write
// that follows a flush.
func (e *Engine) invalidateSegment() error {
	if !e.segmentValid {
		return nil
	}
	if err := e.store.DeleteMeta(metaSegment); err != nil {
		return fmt.Errorf("invalidating segment: %w", err)
	}
	e.segmentValid = false
	return nil
}

// StartRefreshLoop refreshes every cfg.RefreshInterval and flushes every
// cfg.FlushInterval (or when the term table outgrows cfg.SegmentMaxSize)
// until ctx is cancelled, then performs a final flush. Only the first call
// starts a loop; it reports whether this call did.
func (e *Engine) StartRefreshLoop(ctx context.Context) bool {
	if e.cfg.RefreshInterval <= 0 || !e.loopStarted.CompareAndSwap(false, true) {
		return false
	}
	refresh := time.NewTicker(e.cfg.RefreshInterval)
	flushEvery := e.cfg.FlushInterval
	if flushEvery <= 0 {
		flushEvery = time.Hour
	}
	flush := time.NewTicker(flushEvery)
	go func() {
		defer refresh.Stop()
		defer flush.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("refresh loop stopping, performing final flush")
				if err := e.Flush(); err != nil && !errors.Is(err, apperrors.ErrIndexClosed) {
					e.logger.Error("final flush failed", "error", err)
				}
				return
			case <-refresh.C:
				if err := e.tick(); err != nil {
					if errors.Is(err, apperrors.ErrIndexClosed) {
						return
					}
					e.logger.Error("periodic refresh failed", "error", err)
				}
			case <-flush.C:
				if err := e.Flush(); err != nil {
					if errors.Is(err, apperrors.ErrIndexClosed) {
						return
					}
					e.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}()
	return true
}

func (e *Engine) tick() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return apperrors.ErrIndexClosed
	}
	if e.cfg.SegmentMaxSize > 0 && e.mem.Size() >= e.cfg.SegmentMaxSize {
		e.logger.Info("memory index reached max size, flushing to disk",
			"size", e.mem.Size(),
			"threshold", e.cfg.SegmentMaxSize,
		)
		return e.flushLocked()
	}
	_, err := e.refreshLocked(false)
	return err
}

// Close flushes and stops accepting writes. The store is owned by the caller.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	err := e.flushLocked()
	e.closed = true
	return err
}

// Drop marks the engine closed without flushing; used when the collection
// itself is being deleted.
func (e *Engine) Drop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// analyze tokenizes every declared field present in doc. Absent fields yield
// no tokens.
func (e *Engine) analyze(doc schema.Document) (map[string][]analyzer.Token, *multierror.Error) {
	var errs *multierror.Error
	out := make(map[string][]analyzer.Token)
	for _, f := range e.schema.Fields() {
		value, ok := doc.Fields[f.Name]
		if !ok || value == nil {
			continue
		}
		tokens, err := analyzer.Analyze(value, f.Type)
		if err != nil {
			errs = multierror.Append(errs, &apperrors.FieldError{Field: f.Name, Value: value, Err: err})
			continue
		}
		if len(tokens) > 0 {
			out[f.Name] = tokens
		}
	}
	return out, errs
}

func (e *Engine) recover() error {
	gen, err := e.committedGeneration()
	if err != nil {
		return err
	}
	e.generation = gen

	loaded, err := e.loadSegment(gen)
	if err != nil {
		e.logger.Warn("segment unusable, rebuilding from document store", "error", err)
		loaded = false
	}
	if loaded {
		e.segmentValid = true
	} else if err := e.rebuild(); err != nil {
		return err
	}
	e.publish()
	e.logger.Info("index recovered",
		"generation", e.generation,
		"docs", len(e.live),
		"terms", e.mem.TermCount(),
		"from_segment", loaded,
	)
	return nil
}

func (e *Engine) committedGeneration() (uint64, error) {
	raw, err := e.store.GetMeta(metaGeneration)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading generation: %w", err)
	}
	gen, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing generation %q: %w", raw, err)
	}
	return gen, nil
}

// loadSegment restores the term table from the newest segment when it is the
// one recorded in the store at generation gen.
func (e *Engine) loadSegment(gen uint64) (bool, error) {
	if e.segments == nil {
		return false, nil
	}
	recorded, err := e.store.GetMeta(metaSegment)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	path, err := segment.Latest(e.segmentDir)
	if err != nil || path == "" || len(recorded) == 0 || filepath.Base(path) != string(recorded) {
		return false, err
	}
	r, err := segment.OpenReader(path)
	if err != nil {
		return false, err
	}
	defer r.Close()
	if r.Generation() != gen {
		return false, nil
	}
	entries, err := r.Entries()
	if err != nil {
		return false, err
	}
	e.mem.Load(entries)

	ords := make(map[string]uint32)
	for _, entry := range entries {
		for _, p := range entry.Postings {
			ords[p.DocID] = p.Ord
			if p.Ord >= e.nextOrd {
				e.nextOrd = p.Ord + 1
			}
		}
	}
	return true, e.store.Iterate(func(doc schema.Document) error {
		ord, ok := ords[doc.ID]
		if !ok {
			ord = e.nextOrd
			e.nextOrd++
		}
		e.live[doc.ID] = index.StoredDoc{Ord: ord, Doc: doc}
		return nil
	})
}

func (e *Engine) rebuild() error {
	e.mem.Reset()
	e.live = make(map[string]index.StoredDoc)
	e.nextOrd = 1
	failed := 0
	err := e.store.Iterate(func(doc schema.Document) error {
		analyzed, errs := e.analyze(doc)
		if errs.ErrorOrNil() != nil {
			failed++
		}
		ord := e.nextOrd
		e.nextOrd++
		for field, tokens := range analyzed {
			e.mem.AddField(field, tokens, doc.ID, ord)
		}
		e.live[doc.ID] = index.StoredDoc{Ord: ord, Doc: doc}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuilding from store: %w", err)
	}
	if failed > 0 {
		e.logger.Warn("documents with unanalysable fields during rebuild", "count", failed)
	}
	return nil
}
