package books

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/kafka"
	"github.com/hashicorp/go-multierror"
)

// Target is the write side of a collection. *indexer.Engine satisfies it.
type Target interface {
	Index(doc schema.Document) error
	Delete(id string) error
	Refresh() (uint64, error)
}

// Source lists the whole catalogue. *Repository satisfies it.
type Source interface {
	All(ctx context.Context) ([]Book, error)
}

// EnsureIndex returns the books collection, creating it when missing.
func EnsureIndex(reg *indexer.Registry) (*indexer.Engine, error) {
	engine, err := reg.Get(IndexName)
	if err == nil {
		return engine, nil
	}
	if !errors.Is(err, apperrors.ErrIndexNotFound) {
		return nil, err
	}
	engine, err = reg.CreateIndex(IndexName, Schema())
	if errors.Is(err, apperrors.ErrAlreadyExists) {
		return reg.Get(IndexName)
	}
	return engine, err
}

// Syncer applies catalogue changes to the books collection.
type Syncer struct {
	target    Target
	collector *analytics.Collector
	logger    *slog.Logger
}

// NewSyncer returns a Syncer. collector may be nil.
func NewSyncer(target Target, collector *analytics.Collector) *Syncer {
	return &Syncer{
		target:    target,
		collector: collector,
		logger:    slog.Default().With("component", "book-sync"),
	}
}

// Apply writes one change. Field warnings from a partially indexed book are
// logged and do not fail the change.
func (s *Syncer) Apply(ev ChangeEvent) error {
	switch ev.Op {
	case OpUpsert:
		if ev.Book == nil {
			return fmt.Errorf("%w: upsert of book %d has no body", apperrors.ErrInvalidInput, ev.ID)
		}
		if err := s.index(*ev.Book); err != nil {
			return err
		}
	case OpDelete:
		if err := s.target.Delete(schema.IntID(ev.ID)); err != nil {
			return fmt.Errorf("deleting book %d: %w", ev.ID, err)
		}
		s.track(analytics.EventDeleteDoc, ev.ID)
	default:
		return fmt.Errorf("%w: unknown op %q", apperrors.ErrInvalidInput, ev.Op)
	}
	return nil
}

func (s *Syncer) index(b Book) error {
	err := s.target.Index(ToDocument(b))
	var fieldErrs *multierror.Error
	if errors.As(err, &fieldErrs) {
		s.logger.Warn("book indexed with field errors", "id", b.ID, "error", fieldErrs)
	} else if err != nil {
		return fmt.Errorf("indexing book %d: %w", b.ID, err)
	}
	s.track(analytics.EventIndexDoc, b.ID)
	return nil
}

func (s *Syncer) track(typ analytics.EventType, id int64) {
	s.collector.Track(analytics.IndexEvent{
		Type:       typ,
		Index:      IndexName,
		DocumentID: schema.IntID(id),
		Timestamp:  time.Now().UTC(),
	})
}

// HandleMessage consumes the book change feed. Undecodable or invalid
// changes are skipped so they do not block the partition.
func (s *Syncer) HandleMessage(ctx context.Context, key, value []byte) error {
	ev, err := kafka.DecodeJSON[ChangeEvent](value)
	if err != nil {
		s.logger.Warn("skipping undecodable change", "key", string(key), "error", err)
		return err
	}
	if err := s.Apply(ev); err != nil {
		if errors.Is(err, apperrors.ErrInvalidInput) {
			s.logger.Warn("skipping invalid change", "key", string(key), "error", err)
			return fmt.Errorf("%w: %v", kafka.ErrSkip, err)
		}
		return err
	}
	return nil
}

// Reindex loads every book from src, indexes it and refreshes once. It
// returns the new generation.
func (s *Syncer) Reindex(ctx context.Context, src Source) (uint64, error) {
	all, err := src.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading catalogue: %w", err)
	}
	for _, b := range all {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := s.index(b); err != nil {
			return 0, err
		}
	}
	gen, err := s.target.Refresh()
	if err != nil {
		return 0, fmt.Errorf("refreshing after reindex: %w", err)
	}
	s.logger.Info("catalogue reindexed", "books", len(all), "generation", gen)
	return gen, nil
}

// StaticSource serves a fixed list of books, such as Seeds.
type StaticSource []Book

func (s StaticSource) All(context.Context) ([]Book, error) {
	return s, nil
}
