package cache

import (
	"context"
	"sync"
	"time"

	"github.com/channelsync/engine/internal/domain/shared"
)

type lease struct {
	owner     string
	expiresAt time.Time
}

// InMemoryLeaseStore implements LeaseStore with an in-memory map. Suitable
// for single-instance deployments and testing.
type InMemoryLeaseStore struct {
	mu     sync.Mutex
	leases map[string]lease
}

// NewInMemoryLeaseStore creates a new in-memory lease store
func NewInMemoryLeaseStore() *InMemoryLeaseStore {
	return &InMemoryLeaseStore{
		leases: make(map[string]lease),
	}
}

var _ shared.LeaseStore = (*InMemoryLeaseStore)(nil)

// Acquire takes the lease unless a live holder exists
func (s *InMemoryLeaseStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, exists := s.leases[key]; exists && time.Now().Before(l.expiresAt) {
		return l.owner == owner, nil
	}

	s.leases[key] = lease{
		owner:     owner,
		expiresAt: time.Now().Add(ttl),
	}
	return true, nil
}

// Release gives the lease back if this owner still holds it
func (s *InMemoryLeaseStore) Release(ctx context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, exists := s.leases[key]; exists && l.owner == owner {
		delete(s.leases, key)
	}
	return nil
}

// Close releases resources
func (s *InMemoryLeaseStore) Close() error {
	return nil
}
