package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore provides an in-memory implementation of Backend.
//
// This implementation is suitable for single-instance deployments where
// replay state doesn't need to be shared across processes.
//
// Features:
//   - Thread-safe with mutex protection
//   - Optional TTL for stored records
//   - Lazy cleanup of expired entries
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	expiry  map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryStore creates a new in-memory backend. A zero ttl keeps
// records forever.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]*Entry),
		expiry:  make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the stored entry if it exists and hasn't expired.
func (s *InMemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.liveLocked(key)
	if !ok {
		return nil, nil
	}
	copied := *entry
	return &copied, nil
}

// Set stores entry if key is absent or expired.
func (s *InMemoryStore) Set(ctx context.Context, key string, entry Entry) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveLocked(key); ok {
		return false, nil
	}

	if entry.StoredAt.IsZero() {
		entry.StoredAt = s.now()
	}
	s.entries[key] = &entry
	if s.ttl > 0 {
		s.expiry[key] = s.now().Add(s.ttl)
	}

	s.cleanupExpiredLocked()
	return true, nil
}

// Len returns the number of stored entries, including expired ones not yet
// cleaned up.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// liveLocked returns the entry for key, dropping it if expired. Must be
// called with lock held.
func (s *InMemoryStore) liveLocked(key string) (*Entry, bool) {
	entry, exists := s.entries[key]
	if !exists {
		return nil, false
	}
	if expiry, ok := s.expiry[key]; ok && !s.now().Before(expiry) {
		delete(s.entries, key)
		delete(s.expiry, key)
		return nil, false
	}
	return entry, true
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (s *InMemoryStore) cleanupExpiredLocked() {
	now := s.now()
	for key, expiry := range s.expiry {
		if !now.Before(expiry) {
			delete(s.entries, key)
			delete(s.expiry, key)
		}
	}
}

// Ensure InMemoryStore implements Backend
var _ Backend = (*InMemoryStore)(nil)
