package store

import (
	"fmt"
	"sort"
	"sync"
)

var _ Store[int] = &MemoryStore[int]{}

type MemoryStore[T any] struct {
	mu sync.RWMutex
	Db map[string]T
}

func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{
		Db: make(map[string]T),
	}
}

func (m *MemoryStore[T]) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Db), nil
}

func (m *MemoryStore[T]) Get(key string) (v T, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.Db[key]
	if !ok {
		return v, fmt.Errorf("key %s: %w", key, ErrNotFound)
	}

	return v, nil
}

// List returns values ordered by key, like the bbolt store.
func (m *MemoryStore[T]) List() ([]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.Db))
	for k := range m.Db {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vs := make([]T, 0, len(keys))
	for _, k := range keys {
		vs = append(vs, m.Db[k])
	}
	return vs, nil
}

func (m *MemoryStore[T]) Put(key string, value T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Db[key] = value
	return nil
}

func (m *MemoryStore[T]) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Db[key]; !ok {
		return fmt.Errorf("key %s: %w", key, ErrNotFound)
	}
	delete(m.Db, key)
	return nil
}

func (m *MemoryStore[T]) Close() error {
	return nil
}
