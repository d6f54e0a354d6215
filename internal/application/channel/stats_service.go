package channel

import (
	"context"

	"github.com/google/uuid"

	"github.com/channelsync/engine/internal/domain/channel"
)

// statsHistoryLimit bounds how many recent jobs the aggregator reads per
// tenant. The job store prunes history beyond the retention window anyway.
const statsHistoryLimit = 200

// StatsServiceImpl aggregates per-provider sync activity for dashboards.
type StatsServiceImpl struct {
	connRepo channel.ConnectionRepository
	jobRepo  channel.SyncJobRepository
}

// NewStatsService creates a new StatsServiceImpl
func NewStatsService(connRepo channel.ConnectionRepository, jobRepo channel.SyncJobRepository) *StatsServiceImpl {
	return &StatsServiceImpl{
		connRepo: connRepo,
		jobRepo:  jobRepo,
	}
}

// Summarize builds the tenant's sync dashboard: one entry per connection
// with counts folded from the retained job history. Connections that synced
// before the history window report an unknown outcome rather than a wrong
// one.
func (s *StatsServiceImpl) Summarize(ctx context.Context, tenantID uuid.UUID) (*TenantSyncStats, error) {
	conns, err := s.connRepo.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	jobs, err := s.jobRepo.FindRecent(ctx, tenantID, statsHistoryLimit)
	if err != nil {
		return nil, err
	}

	byProvider := make(map[channel.ProviderCode][]*channel.SyncJob)
	for _, job := range jobs {
		byProvider[job.Provider] = append(byProvider[job.Provider], job)
	}

	stats := &TenantSyncStats{
		TenantID:  tenantID,
		Providers: make([]ProviderStats, 0, len(conns)),
	}
	for _, conn := range conns {
		stats.Providers = append(stats.Providers, providerStats(conn, byProvider[conn.Provider]))
	}
	return stats, nil
}

// providerStats folds one connection's retained job history into its
// dashboard entry. Jobs arrive newest first.
func providerStats(conn *channel.Connection, jobs []*channel.SyncJob) ProviderStats {
	ps := ProviderStats{
		Provider:    conn.Provider,
		Category:    conn.Provider.Category(),
		Status:      conn.Status,
		LastSyncAt:  conn.LastSyncAt,
		LastOutcome: OutcomeNever,
	}

	var outcomeKnown bool
	for _, job := range jobs {
		switch job.Status {
		case channel.JobStatusSucceeded:
			ps.JobsSucceeded++
		case channel.JobStatusFailed:
			ps.JobsFailed++
		default:
			continue
		}
		ps.Created += job.Summary.Created
		ps.Updated += job.Summary.Updated
		ps.Skipped += job.Summary.Skipped
		ps.Errored += job.Summary.Errored
		ps.Conflicts += job.Summary.Conflicts

		if !outcomeKnown {
			// Newest terminal job decides the last outcome.
			outcomeKnown = true
			if job.Status == channel.JobStatusSucceeded {
				ps.LastOutcome = OutcomeSucceeded
			} else {
				ps.LastOutcome = OutcomeFailed
			}
		}
	}

	// The connection synced at some point but every terminal job has been
	// pruned: report unknown instead of guessing.
	if !outcomeKnown && conn.LastSyncAt != nil {
		ps.LastOutcome = OutcomeUnknown
	}
	return ps
}
