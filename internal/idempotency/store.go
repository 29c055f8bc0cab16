package idempotency

import (
	"context"
	"sync"
	"time"
)

// Store defines the TTL key-value operations the ledger needs. The atomic
// SetNX is the primitive that makes the claim protocol race-safe.
type Store interface {
	// Get retrieves the value for key. Returns ErrNotFound if the key is
	// absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetNX stores value under key with the given TTL only if the key is
	// absent. Returns true if the value was stored.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Set stores value under key with the given TTL, overwriting any
	// existing value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// memoryEntry is a stored value with its expiry time.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// InMemoryStore implements Store with in-memory storage and passive expiry.
// Used for testing and development.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewInMemoryStore creates a new in-memory TTL store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get retrieves the value for key, honoring expiry.
func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// SetNX stores value only if key is absent or expired.
func (s *InMemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok && s.now().Before(entry.expiresAt) {
		return false, nil
	}
	s.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: s.now().Add(ttl),
	}
	return true, nil
}

// Set stores value, overwriting any existing entry.
func (s *InMemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Delete removes key.
func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}
