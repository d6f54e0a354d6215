package channel

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// ConnectionRepository
// ---------------------------------------------------------------------------

// ConnectionRepository persists Connection aggregates. Saves carry the
// aggregate's optimistic version; status changes are compare-and-swap on the
// current status so illegal transitions are rejected, not silently applied.
type ConnectionRepository interface {
	// FindByTenantAndProvider finds the unique connection for a pair
	FindByTenantAndProvider(ctx context.Context, tenantID uuid.UUID, provider ProviderCode) (*Connection, error)

	// FindByTenant returns all of a tenant's connections
	FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Connection, error)

	// FindByStatus returns all connections currently in the given status
	FindByStatus(ctx context.Context, status ConnectionStatus) ([]*Connection, error)

	// Save creates or updates a connection under an optimistic version
	// check, returning shared.ErrConcurrencyConflict on a lost race
	Save(ctx context.Context, conn *Connection) error

	// TransitionStatus performs a compare-and-swap status change in the
	// store; returns ErrIllegalTransition when the current status no longer
	// matches from
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to ConnectionStatus) error

	// Delete destroys a connection record. Disconnect is a hard delete.
	Delete(ctx context.Context, id uuid.UUID) error
}

// ---------------------------------------------------------------------------
// SyncJobRepository
// ---------------------------------------------------------------------------

// SyncJobRepository persists sync jobs and the bounded history window the
// stats aggregator reads. The (tenant, provider, status) index backs the
// at-most-one-non-terminal-job invariant.
type SyncJobRepository interface {
	// FindByID finds a job by id
	FindByID(ctx context.Context, id uuid.UUID) (*SyncJob, error)

	// FindActive returns the non-terminal job for a pair, or
	// ErrJobNotFound when none exists
	FindActive(ctx context.Context, tenantID uuid.UUID, provider ProviderCode) (*SyncJob, error)

	// FindRecent returns terminal and non-terminal jobs for a tenant inside
	// the retention window, newest first
	FindRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]*SyncJob, error)

	// Save creates or updates a job
	Save(ctx context.Context, job *SyncJob) error

	// PruneTerminalBefore removes terminal jobs whose completion predates
	// the cutoff, returning the number pruned
	PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ---------------------------------------------------------------------------
// SyncStateRepository
// ---------------------------------------------------------------------------

// SyncStateRepository reads and writes the per-provider sync sub-records.
// The internal records themselves belong to the catalog subsystem; only the
// sub-record and the snapshot of syncable fields pass through here.
type SyncStateRepository interface {
	// ListForPair returns all sync states for a tenant/provider pair with a
	// fresh snapshot of the internal syncable fields
	ListForPair(ctx context.Context, tenantID uuid.UUID, provider ProviderCode) ([]*SyncState, error)

	// Save persists one sync state (link, ancestor advance)
	Save(ctx context.Context, state *SyncState) error

	// ApplyInternal applies one internal mutation. The write is
	// checksum-gated: when the target already carries the mutation's
	// checksum nothing happens and applied is false.
	ApplyInternal(ctx context.Context, tenantID uuid.UUID, provider ProviderCode, m InternalMutation) (applied bool, err error)
}
