package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	x402 "github.com/xignet/x402/go"
)

// ReplayStore wraps a Backend with the bookkeeping settlement execution needs:
// a per-instance fingerprint index and per-key in-flight exclusion.
//
// The fingerprint index is consulted only for entries whose backend did not
// keep a fingerprint. It belongs to this instance and is never shared.
type ReplayStore struct {
	backend Backend

	mu           sync.Mutex
	fingerprints map[string]string
	inFlight     map[string]chan struct{}
}

// NewReplayStore creates a ReplayStore.
//
// Default configuration:
//   - InMemoryStore with no expiry
//
// Use functional options to customize:
//
//	store := idempotency.NewReplayStore(
//	    idempotency.WithBackend(redisStore),
//	)
func NewReplayStore(opts ...Option) *ReplayStore {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	backend := cfg.backend
	if backend == nil {
		backend = NewInMemoryStore(cfg.ttl)
	}

	return &ReplayStore{
		backend:      backend,
		fingerprints: make(map[string]string),
		inFlight:     make(map[string]chan struct{}),
	}
}

// Backend returns the wrapped backend.
func (s *ReplayStore) Backend() Backend {
	return s.backend
}

// Claim marks key as in flight, waiting while another execution in this
// process holds it. The returned release must be called exactly once.
func (s *ReplayStore) Claim(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	for {
		s.mu.Lock()
		done, exists := s.inFlight[key]
		if !exists {
			done = make(chan struct{})
			s.inFlight[key] = done
			s.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					s.mu.Lock()
					delete(s.inFlight, key)
					s.mu.Unlock()
					close(done)
				})
			}, nil
		}
		s.mu.Unlock()

		// Wait for the in-flight execution, then re-check
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Lookup returns the entry stored under key, or nil. A fingerprint missing
// from the backend entry is filled from the local index, and a stored one
// refreshes it.
func (s *ReplayStore) Lookup(ctx context.Context, key string) (*Entry, error) {
	entry, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("replay store get %q: %w", key, err)
	}
	if entry == nil {
		return nil, nil
	}

	s.mu.Lock()
	if entry.Fingerprint == "" {
		entry.Fingerprint = s.fingerprints[key]
	} else {
		s.fingerprints[key] = entry.Fingerprint
	}
	s.mu.Unlock()
	return entry, nil
}

// Persist stores record under key with its request fingerprint. When another
// writer already stored key, the existing entry is returned with
// inserted=false and the caller decides between replay and collision.
func (s *ReplayStore) Persist(ctx context.Context, key string, record x402.SettlementExecutionRecord, fingerprint string) (entry *Entry, inserted bool, err error) {
	candidate := Entry{
		Record:      record,
		Fingerprint: fingerprint,
		StoredAt:    time.Now().UTC(),
	}

	inserted, err = s.backend.Set(ctx, key, candidate)
	if err != nil {
		return nil, false, fmt.Errorf("replay store set %q: %w", key, err)
	}

	if inserted {
		s.mu.Lock()
		s.fingerprints[key] = fingerprint
		s.mu.Unlock()
		return &candidate, true, nil
	}

	existing, err := s.Lookup(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// Expired between Set and Get
		return nil, false, fmt.Errorf("replay store %q: entry vanished after conflicting insert", key)
	}
	return existing, false, nil
}
