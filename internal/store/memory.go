package store

import (
	"bytes"
	"sort"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/errors"
)

// Memory is a map-backed KV. Values are copied on the way in and out.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Set(k, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(k)] = bytes.Clone(v)
	return nil
}

func (m *Memory) Get(k []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(k)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *Memory) Delete(k []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(k))
	return nil
}

// IterPrefix visits matching keys in ascending byte order.
func (m *Memory) IterPrefix(prefix []byte, fn func(k, v []byte) error) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = m.data[k]
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if err := fn([]byte(k), values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
