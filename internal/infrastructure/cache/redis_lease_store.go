package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/channelsync/engine/internal/domain/shared"
)

// releaseScript deletes the lease key only when the caller still owns it, so
// a worker whose lease expired mid-run cannot release the next holder's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLeaseStore implements LeaseStore on Redis SETNX. Suitable for
// distributed deployments where workers on multiple instances compete for the
// same tenant/provider pair.
type RedisLeaseStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisLeaseStore creates a lease store backed by an existing Redis client
func NewRedisLeaseStore(client *redis.Client, keyPrefix string) *RedisLeaseStore {
	if keyPrefix == "" {
		keyPrefix = "sync:lease:"
	}
	return &RedisLeaseStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

var _ shared.LeaseStore = (*RedisLeaseStore)(nil)

// Acquire takes the lease with SETNX. The TTL guarantees a crashed holder
// eventually stops blocking the key.
func (s *RedisLeaseStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return ok, nil
}

// Release gives the lease back if this owner still holds it
func (s *RedisLeaseStore) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.keyPrefix + key}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisLeaseStore) Close() error {
	return s.client.Close()
}
