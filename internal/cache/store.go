package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Store holds last-good results keyed by operation, backing the circuit
// breaker's cache fallback strategy. Values are JSON round-tripped so both
// backends behave identically.
type Store interface {
	// Get unmarshals the cached value for key into target.
	// Returns false on miss; a miss is not an error.
	Get(ctx context.Context, key string, target any) (bool, error)

	// Set stores a value under key.
	Set(ctx context.Context, key string, value any) error

	// Close releases backend resources.
	Close() error
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is the default in-process Store. Entries expire after the
// configured TTL; zero TTL means no expiry.
type MemoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

// NewMemoryStore creates an in-memory store with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

// Get retrieves and unmarshals a cached value.
func (m *MemoryStore) Get(ctx context.Context, key string, target any) (bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(entry.data, target); err != nil {
		return false, err
	}
	return true, nil
}

// Set marshals and stores a value.
func (m *MemoryStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := memoryEntry{data: data}
	if m.ttl > 0 {
		entry.expiresAt = time.Now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}
