package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces replay keys
const DefaultRedisPrefix = "x402:settlement:"

// RedisStore is a shared Backend on Redis. Set uses SETNX so only the first
// writer of a key wins.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisStore creates a Redis backend. A zero ttl keeps records forever.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: DefaultRedisPrefix}
}

// WithPrefix returns the store using prefix for its keys
func (s *RedisStore) WithPrefix(prefix string) *RedisStore {
	s.prefix = prefix
	return s
}

func (s *RedisStore) redisKey(key string) string {
	return fmt.Sprintf("%s%s", s.prefix, key)
}

// Get returns the stored entry, or nil if the key is absent or expired.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode settlement entry: %w", err)
	}
	return &entry, nil
}

// Set stores entry only if key is absent.
func (s *RedisStore) Set(ctx context.Context, key string, entry Entry) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("encode settlement entry: %w", err)
	}
	return s.client.SetNX(ctx, s.redisKey(key), data, s.ttl).Result()
}

var _ Backend = (*RedisStore)(nil)
