package scheduler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/domain/shared"
	"github.com/channelsync/engine/internal/infrastructure/telemetry"
)

// idempotencyTTL bounds how long applied mutation tokens are remembered.
// Longer than any retry chain can span.
const idempotencyTTL = 24 * time.Hour

// SyncExecutor runs one sync job: fetch credentials, pull the remote
// records, reconcile against the internal snapshot and apply the resulting
// mutation plan on both sides.
type SyncExecutor struct {
	connRepo  channel.ConnectionRepository
	jobRepo   channel.SyncJobRepository
	stateRepo channel.SyncStateRepository
	vault     channel.Vault
	adapters  channel.AdapterRegistry
	applied   shared.IdempotencyStore
	logger    *zap.Logger
}

// NewSyncExecutor creates a new SyncExecutor
func NewSyncExecutor(
	connRepo channel.ConnectionRepository,
	jobRepo channel.SyncJobRepository,
	stateRepo channel.SyncStateRepository,
	vault channel.Vault,
	adapters channel.AdapterRegistry,
	applied shared.IdempotencyStore,
	logger *zap.Logger,
) *SyncExecutor {
	return &SyncExecutor{
		connRepo:  connRepo,
		jobRepo:   jobRepo,
		stateRepo: stateRepo,
		vault:     vault,
		adapters:  adapters,
		applied:   applied,
		logger:    logger,
	}
}

var _ Executor = (*SyncExecutor)(nil)

// Execute runs the job and returns its summary. Errors bubble up unclassified;
// the worker pool maps them to retry and connection policy.
func (e *SyncExecutor) Execute(ctx context.Context, job *channel.SyncJob) (channel.ResultSummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "sync_job.execute",
		telemetry.WithAttribute("tenant_id", job.TenantID.String()),
		telemetry.WithAttribute("provider", job.Provider.String()),
		telemetry.WithAttribute("kind", string(job.Kind)),
	)
	defer span.End()

	summary, err := e.execute(ctx, job)
	if err != nil {
		telemetry.RecordError(span, err)
		return summary, err
	}
	telemetry.SetOK(span)
	return summary, nil
}

func (e *SyncExecutor) execute(ctx context.Context, job *channel.SyncJob) (channel.ResultSummary, error) {
	summary := channel.ResultSummary{}

	conn, err := e.connRepo.FindByTenantAndProvider(ctx, job.TenantID, job.Provider)
	if err != nil {
		return summary, err
	}
	adapter, err := e.adapters.Get(job.Provider)
	if err != nil {
		return summary, err
	}
	bundle, err := e.credentials(ctx, conn.CredentialHandle)
	if err != nil {
		return summary, err
	}

	remotes, err := e.listRemote(ctx, adapter, bundle)
	if err != nil {
		return summary, err
	}
	states, err := e.stateRepo.ListForPair(ctx, job.TenantID, job.Provider)
	if err != nil {
		return summary, err
	}

	plan := channel.Reconcile(job, states, remotes, adapter.Capabilities())
	summary.Conflicts = plan.Conflicts
	summary.Skipped = len(plan.Skips)

	byInternal := make(map[uuid.UUID]*channel.SyncState, len(states))
	byKey := make(map[string]*channel.SyncState, len(states))
	for _, st := range states {
		byInternal[st.InternalID] = st
		byKey[st.RecordKey()] = st
	}

	// failedKeys collects record-level rejections; their ancestors must not
	// advance or the failed write would silently vanish from future diffs.
	failedKeys := make(map[string]bool)

	if err := e.applyInternalPlan(ctx, job, plan, byInternal, failedKeys, &summary); err != nil {
		return summary, err
	}
	if err := e.applyRemotePlan(ctx, job, plan, byKey, adapter, bundle, failedKeys, &summary); err != nil {
		return summary, err
	}
	if err := e.advanceAncestors(ctx, plan, byKey, failedKeys); err != nil {
		return summary, err
	}

	return summary, nil
}

// ---------------------------------------------------------------------------
// Credential handling
// ---------------------------------------------------------------------------

// credentials fetches the bundle, rotating it first when expired. Losing the
// rotation race is fine: the winner's bundle is fetched under the same
// handle.
func (e *SyncExecutor) credentials(ctx context.Context, handle uuid.UUID) (*channel.CredentialBundle, error) {
	bundle, err := e.vault.Fetch(ctx, handle)
	if err != nil {
		return nil, err
	}
	if !bundle.Expired(time.Now()) {
		return bundle, nil
	}

	if _, err := e.vault.Refresh(ctx, handle); err != nil && !errors.Is(err, channel.ErrVersionConflict) {
		return nil, err
	}
	return e.vault.Fetch(ctx, handle)
}

// listRemote pages through the provider's records
func (e *SyncExecutor) listRemote(ctx context.Context, adapter channel.ProviderAdapter, bundle *channel.CredentialBundle) ([]channel.RemoteRecord, error) {
	var remotes []channel.RemoteRecord
	cursor := ""
	for {
		page, next, err := adapter.ListRemoteRecords(ctx, bundle, cursor)
		if err != nil {
			return nil, err
		}
		remotes = append(remotes, page...)
		if next == "" {
			return remotes, nil
		}
		cursor = next
	}
}

// ---------------------------------------------------------------------------
// Plan application
// ---------------------------------------------------------------------------

// applyInternalPlan applies the internal side of the plan. Writes are
// checksum-gated in the repository, so replays are harmless.
func (e *SyncExecutor) applyInternalPlan(ctx context.Context, job *channel.SyncJob, plan *channel.MutationPlan, byInternal map[uuid.UUID]*channel.SyncState, failedKeys map[string]bool, summary *channel.ResultSummary) error {
	for _, m := range plan.Internal {
		if e.cancelled(ctx, job) {
			return ErrJobCancelled
		}

		applied, err := e.stateRepo.ApplyInternal(ctx, job.TenantID, job.Provider, m)
		if err != nil {
			if channel.Classify(err) == channel.ErrorClassValidation {
				summary.Errored++
				summary.Failures = append(summary.Failures, channel.RecordFailure{
					RecordKey: m.RecordKey(),
					Reason:    err.Error(),
				})
				failedKeys[m.RecordKey()] = true
				continue
			}
			return err
		}

		switch m.Op {
		case channel.InternalOpCreate:
			if applied {
				summary.Created++
			} else {
				summary.Skipped++
			}
		case channel.InternalOpUpdate:
			// Mirror the write onto the in-memory snapshot so ancestor
			// advancement persists current field values.
			if st := byInternal[m.InternalID]; st != nil {
				st.Stock = m.Stock
				st.Price = m.Price
				st.Status = m.Status
			}
			if applied {
				summary.Updated++
			} else {
				summary.Skipped++
			}
		case channel.InternalOpLink:
			if st := byInternal[m.InternalID]; st != nil {
				st.Link(m.ExternalID)
			}
		}
	}
	return nil
}

// applyRemotePlan applies the remote side of the plan through the adapter.
// Each write is keyed by its idempotency token: locally to skip known-applied
// writes cheaply, and on the provider side as the authoritative guard.
func (e *SyncExecutor) applyRemotePlan(ctx context.Context, job *channel.SyncJob, plan *channel.MutationPlan, byKey map[string]*channel.SyncState, adapter channel.ProviderAdapter, bundle *channel.CredentialBundle, failedKeys map[string]bool, summary *channel.ResultSummary) error {
	for _, m := range plan.Remote {
		if e.cancelled(ctx, job) {
			return ErrJobCancelled
		}

		key := m.ExternalID
		if key == "" {
			key = m.NaturalKey
		}

		done, err := e.applied.IsProcessed(ctx, m.IdempotencyToken)
		if err != nil {
			return err
		}
		if done {
			summary.Skipped++
			continue
		}

		ack, err := adapter.ApplyRemoteMutation(ctx, bundle, m)
		if err != nil {
			if channel.Classify(err) == channel.ErrorClassValidation {
				summary.Errored++
				summary.Failures = append(summary.Failures, channel.RecordFailure{
					RecordKey: key,
					Reason:    err.Error(),
				})
				failedKeys[key] = true
				continue
			}
			return err
		}

		// Marked only after the provider acknowledged, so a crash in between
		// replays the write and the provider's token dedup absorbs it.
		if _, err := e.applied.MarkProcessed(ctx, m.IdempotencyToken, idempotencyTTL); err != nil {
			e.logger.Warn("failed to record applied mutation token",
				zap.String("job_id", job.ID.String()),
				zap.String("record_key", key),
				zap.Error(err),
			)
		}

		switch {
		case ack.Duplicate:
			summary.Skipped++
		case m.Op == channel.MutationOpCreate:
			summary.Created++
		default:
			summary.Updated++
		}

		if m.Op == channel.MutationOpCreate {
			if st := byKey[key]; st != nil {
				st.Link(ack.ExternalID)
			}
		}
	}
	return nil
}

// advanceAncestors stamps the checksum both sides now share as the new
// common ancestor, in deterministic key order. Keys whose write failed keep
// their old ancestor so the next run retries the diff.
func (e *SyncExecutor) advanceAncestors(ctx context.Context, plan *channel.MutationPlan, byKey map[string]*channel.SyncState, failedKeys map[string]bool) error {
	keys := make([]string, 0, len(plan.Resolved))
	for key := range plan.Resolved {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	now := time.Now()
	for _, key := range keys {
		if failedKeys[key] {
			continue
		}
		st := byKey[key]
		if st == nil {
			// Imported creates were stamped when the row was created.
			continue
		}
		checksum := plan.Resolved[key]
		if st.LastSyncedChecksum == checksum && st.LastSyncedAt != nil {
			continue
		}
		st.MarkSynced(checksum, now)
		if err := e.stateRepo.Save(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// cancelled re-reads the job's cooperative cancel flag between record-level
// mutations. Already applied mutations stay applied.
func (e *SyncExecutor) cancelled(ctx context.Context, job *channel.SyncJob) bool {
	if job.CancelRequested {
		return true
	}
	fresh, err := e.jobRepo.FindByID(ctx, job.ID)
	if err != nil {
		return false
	}
	if fresh.CancelRequested {
		job.CancelRequested = true
	}
	return job.CancelRequested
}
