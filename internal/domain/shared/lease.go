package shared

import (
	"context"
	"time"
)

// LeaseStore hands out named execution leases. A lease is held by exactly one
// owner until released or expired; the TTL bounds how long a crashed holder
// can block the key.
type LeaseStore interface {
	// Acquire attempts to take the lease. Returns true when this owner now
	// holds it, false when another owner does.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Release gives the lease back. Only the current owner's release has any
	// effect; a stale owner's release is a no-op.
	Release(ctx context.Context, key, owner string) error

	// Close closes the store and releases resources
	Close() error
}
