package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/channelsync/engine/internal/domain/shared"
)

// RedisIdempotencyStore implements IdempotencyStore using Redis. Suitable for
// distributed deployments where workers on multiple instances replay the same
// mutation plan after a crash.
type RedisIdempotencyStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisIdempotencyStore creates a store backed by an existing Redis client
func NewRedisIdempotencyStore(client *redis.Client, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = "sync:idempotency:"
	}
	return &RedisIdempotencyStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)

// MarkProcessed marks a mutation token as applied with a TTL. SETNX makes the
// mark atomic: of two replaying workers exactly one sees true.
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+token, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark mutation as applied: %w", err)
	}
	return ok, nil
}

// IsProcessed checks whether a mutation token has already been applied
func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, token string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.keyPrefix+token).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check mutation token: %w", err)
	}
	return exists > 0, nil
}

// Close closes the Redis client
func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}
