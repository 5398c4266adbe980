package store

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process KVStore used by tests and by the CLI when no
// Valkey instance is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]string
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string]string),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryStore) SetValue(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	delete(m.expires, key)
	return nil
}

func (m *MemoryStore) SetValueWithTTL(ctx context.Context, key, value string, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	if ttlSeconds > 0 {
		m.expires[key] = m.now().Add(time.Duration(ttlSeconds) * time.Second)
	} else {
		delete(m.expires, key)
	}
	return nil
}

func (m *MemoryStore) GetValue(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.live(key) {
		return "", fmt.Errorf("key '%s': %w", key, ErrNotFound)
	}
	return m.data[key], nil
}

// ListKeys matches keys with glob semantics; results are sorted.
func (m *MemoryStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0)
	for key := range m.data {
		if !m.live(key) {
			continue
		}
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, fmt.Errorf("bad pattern '%s': %w", pattern, err)
		}
		if ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) DeleteValue(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.expires, key)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// live must be called with the lock held.
func (m *MemoryStore) live(key string) bool {
	if _, ok := m.data[key]; !ok {
		return false
	}
	if exp, ok := m.expires[key]; ok && !m.now().Before(exp) {
		return false
	}
	return true
}
