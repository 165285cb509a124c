package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
)

var (
	docPrefix  = []byte("d/")
	metaPrefix = []byte("m/")
)

// Store maps document ids to their full field set.
type Store struct {
	kv KV
}

// New wraps a KV backend.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// Open opens the configured backend under dir.
func Open(engine, dir string) (*Store, error) {
	kv, err := OpenKV(engine, dir)
	if err != nil {
		return nil, err
	}
	return New(kv), nil
}

// Put stores doc under its id, replacing any previous version.
func (s *Store) Put(doc schema.Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: empty document id", apperrors.ErrInvalidInput)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", doc.ID, err)
	}
	if err := s.kv.Set(docKey(doc.ID), data); err != nil {
		return fmt.Errorf("storing document %s: %w", doc.ID, err)
	}
	return nil
}

// Get returns the stored document or ErrNotFound.
func (s *Store) Get(id string) (schema.Document, error) {
	data, err := s.kv.Get(docKey(id))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return schema.Document{}, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
		}
		return schema.Document{}, fmt.Errorf("loading document %s: %w", id, err)
	}
	return decodeDocument(data)
}

// Delete removes id. Deleting a missing id is a no-op.
func (s *Store) Delete(id string) error {
	if err := s.kv.Delete(docKey(id)); err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}

// Iterate visits every stored document in key order.
func (s *Store) Iterate(fn func(doc schema.Document) error) error {
	return s.kv.IterPrefix(docPrefix, func(_, v []byte) error {
		doc, err := decodeDocument(v)
		if err != nil {
			return err
		}
		return fn(doc)
	})
}

func (s *Store) SetMeta(key string, value []byte) error {
	return s.kv.Set(append(bytes.Clone(metaPrefix), key...), value)
}

// GetMeta returns ErrNotFound when key was never set.
func (s *Store) GetMeta(key string) ([]byte, error) {
	return s.kv.Get(append(bytes.Clone(metaPrefix), key...))
}

func (s *Store) DeleteMeta(key string) error {
	return s.kv.Delete(append(bytes.Clone(metaPrefix), key...))
}

// Backend exposes the underlying KV, e.g. for Badger value-log GC.
func (s *Store) Backend() KV {
	return s.kv
}

func (s *Store) Close() error {
	return s.kv.Close()
}

func docKey(id string) []byte {
	return append(bytes.Clone(docPrefix), id...)
}

func decodeDocument(data []byte) (schema.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc schema.Document
	if err := dec.Decode(&doc); err != nil {
		return schema.Document{}, fmt.Errorf("decoding document: %w", err)
	}
	if doc.Fields == nil {
		doc.Fields = map[string]any{}
	}
	return doc, nil
}
