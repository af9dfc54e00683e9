package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// MemoryStorage is a process-local Storage. Entries are copied on the way in
// and out, so callers never share buffers with the store.
type MemoryStorage struct {
	mu     sync.RWMutex
	names  []string
	stores map[string]*MemoryStore
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		stores: make(map[string]*MemoryStore),
	}
}

// Open returns the named store, creating it if absent.
func (s *MemoryStorage) Open(ctx context.Context, name string) (Store, error) {
	if name == "" {
		CacheErrors.WithLabelValues(layerMemory, "open").Inc()
		return nil, fmt.Errorf("cache name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if store, ok := s.stores[name]; ok {
		return store, nil
	}

	store := &MemoryStore{
		name:    name,
		entries: make(map[string]*Entry),
	}
	s.stores[name] = store
	s.names = append(s.names, name)
	return store, nil
}

// Has reports whether the named store exists.
func (s *MemoryStorage) Has(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.stores[name]
	return ok, nil
}

// Delete removes the named store.
func (s *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stores[name]; !ok {
		return false, nil
	}
	delete(s.stores, name)
	for i, n := range s.names {
		if n == name {
			s.names = append(s.names[:i:i], s.names[i+1:]...)
			break
		}
	}
	StoresDeleted.WithLabelValues(layerMemory).Inc()
	return true, nil
}

// Keys returns the store names in creation order.
func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.names))
	copy(names, s.names)
	return names, nil
}

// Match searches every store in creation order.
func (s *MemoryStorage) Match(ctx context.Context, req *http.Request) (*Entry, error) {
	s.mu.RLock()
	stores := make([]*MemoryStore, 0, len(s.names))
	for _, name := range s.names {
		stores = append(stores, s.stores[name])
	}
	s.mu.RUnlock()

	for _, store := range stores {
		entry, err := store.lookup(req)
		if err == nil {
			CacheHits.WithLabelValues(layerMemory).Inc()
			return entry, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			return nil, err
		}
	}

	CacheMisses.WithLabelValues(layerMemory).Inc()
	return nil, ErrCacheMiss
}

// MemoryStore is a single in-memory named cache.
type MemoryStore struct {
	name    string
	mu      sync.RWMutex
	keys    []string
	entries map[string]*Entry
}

// Name returns the store name.
func (m *MemoryStore) Name() string {
	return m.name
}

// Match returns the entry stored for req.
func (m *MemoryStore) Match(ctx context.Context, req *http.Request) (*Entry, error) {
	entry, err := m.lookup(req)
	switch {
	case err == nil:
		CacheHits.WithLabelValues(layerMemory).Inc()
	case errors.Is(err, ErrCacheMiss):
		CacheMisses.WithLabelValues(layerMemory).Inc()
	}
	return entry, err
}

func (m *MemoryStore) lookup(req *http.Request) (*Entry, error) {
	key, err := RequestKey(req)
	if errors.Is(err, ErrMethodNotCacheable) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return entry.clone(), nil
}

// Put stores one entry.
func (m *MemoryStore) Put(ctx context.Context, entry *Entry) error {
	return m.PutAll(ctx, []*Entry{entry})
}

// PutAll stores every entry or none of them.
func (m *MemoryStore) PutAll(ctx context.Context, entries []*Entry) error {
	if err := validateBatch(entries); err != nil {
		CacheErrors.WithLabelValues(layerMemory, "put").Inc()
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range entries {
		if _, exists := m.entries[entry.URL]; !exists {
			m.keys = append(m.keys, entry.URL)
		}
		m.entries[entry.URL] = entry.clone()
	}
	EntriesWritten.WithLabelValues(layerMemory).Add(float64(len(entries)))
	return nil
}

// Delete removes the entry stored for req.
func (m *MemoryStore) Delete(ctx context.Context, req *http.Request) (bool, error) {
	key, err := RequestKey(req)
	if errors.Is(err, ErrMethodNotCacheable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return false, nil
	}
	delete(m.entries, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
			break
		}
	}
	return true, nil
}

// Keys returns the stored request URLs in insertion order.
func (m *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	return keys, nil
}
