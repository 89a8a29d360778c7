// Package cache implements the staggered-TTL metadata cache: a deduplicated
// codelist store, the dataflow catalog, a dataset to codelist reference map,
// and the download log used for update detection.
//
// The storage medium is an implementation choice behind the Store interface;
// Redis and in-memory backends are provided. The design assumes a single
// writer process at a time.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNotFound indicates the requested key is not in the store.
var ErrNotFound = errors.New("cache: key not found")

// Store is the persistence collaborator. Keys are opaque, namespaced
// strings; values are raw bytes. Entries never expire inside the store
// itself: TTL accounting lives in the Manager (explicit eviction only).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Keys returns all keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// MemoryStore is an in-process Store for tests and embedded use.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, found := s.data[key]
	if !found {
		return nil, ErrNotFound
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]byte, len(value))
	copy(copied, value)
	s.data[key] = copied
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
