package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
	"github.com/dgraph-io/badger/v4"
)

// Badger is a KV backed by an embedded BadgerDB.
type Badger struct {
	db     *badger.DB
	path   string
	logger *slog.Logger
}

// OpenBadger opens (or creates) a Badger database in dir.
func OpenBadger(dir string) (*Badger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating badger directory: %w", err)
	}
	opts := badger.DefaultOptions(dir).
		WithNumVersionsToKeep(1).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", dir, err)
	}
	return &Badger{
		db:     db,
		path:   dir,
		logger: slog.Default().With("component", "badger-store", "path", dir),
	}, nil
}

func (b *Badger) Set(k, v []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
}

func (b *Badger) Get(k []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.ErrNotFound
	}
	return val, err
}

func (b *Badger) Delete(k []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
}

func (b *Badger) IterPrefix(prefix []byte, fn func(k, v []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			if err := item.Value(func(v []byte) error {
				return fn(k, v)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// CollectGarbage rewrites value-log files that are mostly stale. It is run
// after index compaction.
func (b *Badger) CollectGarbage() {
	_, before := b.db.Size()
	for {
		err := b.db.RunValueLogGC(0.5)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) {
			b.logger.Error("value log GC failed", "error", err)
		}
		break
	}
	_, after := b.db.Size()
	b.logger.Debug("value log GC finished", "vlog_before", before, "vlog_after", after)
}

func (b *Badger) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
