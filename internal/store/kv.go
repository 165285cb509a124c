// Package store holds the canonical field values of every indexed document.
// Documents are JSON-encoded into a key-value backend: an in-process map for
// tests, Badger or Bolt for durable collections.
package store

import (
	"fmt"
	"path/filepath"

	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
)

// Backend names accepted in configuration.
const (
	EngineMemory = "memory"
	EngineBadger = "badger"
	EngineBolt   = "bolt"
)

// KV is the minimal key-value contract a backend provides.
type KV interface {
	Set(k, v []byte) error
	Get(k []byte) ([]byte, error) // ErrNotFound when the key is absent
	Delete(k []byte) error        // deleting a missing key is not an error
	IterPrefix(prefix []byte, fn func(k, v []byte) error) error
	Close() error
}

// OpenKV opens the backend named by engine, rooted under dir.
func OpenKV(engine, dir string) (KV, error) {
	switch engine {
	case "", EngineMemory:
		return NewMemory(), nil
	case EngineBadger:
		return OpenBadger(filepath.Join(dir, "docs.badger"))
	case EngineBolt:
		return OpenBolt(filepath.Join(dir, "docs.bolt"))
	}
	return nil, fmt.Errorf("%w: unknown storage engine %q", apperrors.ErrInvalidInput, engine)
}
