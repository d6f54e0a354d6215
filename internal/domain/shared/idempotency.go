package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers applied mutation tokens so a replayed plan
// cannot double-apply a write that already succeeded before a crash
type IdempotencyStore interface {
	// MarkProcessed marks a token as applied with a TTL
	// Returns true if the token was newly marked, false if already applied
	MarkProcessed(ctx context.Context, token string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a token has already been applied
	IsProcessed(ctx context.Context, token string) (bool, error)

	// Close closes the store and releases resources
	Close() error
}
