package idempotency

import "time"

// config holds the configuration for ReplayStore.
type config struct {
	ttl     time.Duration
	backend Backend
}

// Option configures a ReplayStore.
type Option func(*config)

// WithTTL sets how long persisted records are replayable.
//
// Only applies when using the default InMemoryStore.
// If WithBackend is also specified, this option is ignored
// (configure TTL on your backend instead).
//
// Default: 0 (records never expire)
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithBackend sets a custom Backend implementation.
//
// Use this for shared backends like Redis or a database.
// When specified, WithTTL is ignored.
//
// Example:
//
//	store := idempotency.NewReplayStore(
//	    idempotency.WithBackend(idempotency.NewRedisStore(client, time.Hour)),
//	)
func WithBackend(backend Backend) Option {
	return func(c *config) {
		c.backend = backend
	}
}
