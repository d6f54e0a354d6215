package channel

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelsync/engine/internal/domain/channel"
)

// JobScheduler is the application-side port of the sync scheduler. Enqueue
// coalesces: when a queued or retrying job with the same (tenant, provider,
// kind) already exists the existing job is returned and coalesced is true.
type JobScheduler interface {
	Enqueue(ctx context.Context, job *channel.SyncJob) (*channel.SyncJob, bool, error)
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

// SyncServiceImpl accepts sync requests from users, webhooks and timers and
// hands them to the scheduler.
type SyncServiceImpl struct {
	connRepo  channel.ConnectionRepository
	jobRepo   channel.SyncJobRepository
	adapters  channel.AdapterRegistry
	scheduler JobScheduler
	logger    *zap.Logger
}

// NewSyncService creates a new SyncServiceImpl
func NewSyncService(
	connRepo channel.ConnectionRepository,
	jobRepo channel.SyncJobRepository,
	adapters channel.AdapterRegistry,
	scheduler JobScheduler,
	logger *zap.Logger,
) *SyncServiceImpl {
	return &SyncServiceImpl{
		connRepo:  connRepo,
		jobRepo:   jobRepo,
		adapters:  adapters,
		scheduler: scheduler,
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// Sync requests
// ---------------------------------------------------------------------------

// RequestSync enqueues a user-initiated sync job at high priority.
func (s *SyncServiceImpl) RequestSync(ctx context.Context, tenantID uuid.UUID, req SyncRequest) (*SyncJobResponse, error) {
	return s.enqueue(ctx, tenantID, req.Provider, req.Kind, channel.PriorityHigh)
}

// HandleWebhook translates a provider webhook into a low-priority sync job.
// The payload is parsed by the provider's adapter; the engine never inspects
// provider payloads itself.
func (s *SyncServiceImpl) HandleWebhook(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode, payload []byte) (*SyncJobResponse, error) {
	adapter, err := s.adapters.Get(provider)
	if err != nil {
		return nil, err
	}
	if !adapter.Capabilities().Webhooks {
		return nil, channel.ErrNotSupported
	}
	kind, err := adapter.ParseWebhook(payload)
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, tenantID, provider, kind, channel.PriorityLow)
}

// TriggerScheduled enqueues a timer-driven sync at low priority. Used by the
// periodic trigger for connections with a configured sync interval.
func (s *SyncServiceImpl) TriggerScheduled(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode, kind channel.SyncKind) (*SyncJobResponse, error) {
	return s.enqueue(ctx, tenantID, provider, kind, channel.PriorityLow)
}

// enqueue validates connection readiness and hands the job to the scheduler.
func (s *SyncServiceImpl) enqueue(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode, kind channel.SyncKind, priority channel.JobPriority) (*SyncJobResponse, error) {
	conn, err := s.connRepo.FindByTenantAndProvider(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}
	if !conn.CanEnqueue() {
		return nil, channel.ErrConnectionNotReady
	}

	job, err := channel.NewSyncJob(tenantID, provider, kind, priority)
	if err != nil {
		return nil, err
	}

	canonical, coalesced, err := s.scheduler.Enqueue(ctx, job)
	if err != nil {
		return nil, err
	}
	if coalesced {
		s.logger.Debug("sync request coalesced into existing job",
			zap.String("tenant_id", tenantID.String()),
			zap.String("provider", provider.String()),
			zap.String("job_id", canonical.ID.String()),
		)
	}

	resp := ToSyncJobResponse(canonical)
	resp.Coalesced = coalesced
	return resp, nil
}

// ---------------------------------------------------------------------------
// Job queries and cancellation
// ---------------------------------------------------------------------------

// GetJob retrieves a job by id, scoped to the tenant
func (s *SyncServiceImpl) GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*SyncJobResponse, error) {
	job, err := s.jobRepo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.TenantID != tenantID {
		return nil, channel.ErrJobNotFound
	}
	return ToSyncJobResponse(job), nil
}

// ListRecentJobs returns a tenant's jobs inside the retention window
func (s *SyncServiceImpl) ListRecentJobs(ctx context.Context, tenantID uuid.UUID, limit int) ([]*SyncJobResponse, error) {
	if limit <= 0 {
		limit = 20
	}
	jobs, err := s.jobRepo.FindRecent(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}
	responses := make([]*SyncJobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, ToSyncJobResponse(job))
	}
	return responses, nil
}

// CancelJob cancels a job. Queued and retrying jobs are removed from the
// scheduler immediately; a running job is flagged for cooperative
// cancellation and stops between record-level mutations without rolling back
// what it already applied.
func (s *SyncServiceImpl) CancelJob(ctx context.Context, tenantID, jobID uuid.UUID) (*SyncJobResponse, error) {
	job, err := s.jobRepo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.TenantID != tenantID {
		return nil, channel.ErrJobNotFound
	}

	switch job.Status {
	case channel.JobStatusQueued, channel.JobStatusRetrying:
		if err := s.scheduler.Cancel(ctx, job.ID); err != nil {
			return nil, err
		}
		if err := job.Cancel(); err != nil {
			return nil, err
		}
	case channel.JobStatusRunning:
		job.RequestCancel()
	default:
		return nil, channel.ErrJobAlreadyDone
	}

	if err := s.jobRepo.Save(ctx, job); err != nil {
		return nil, err
	}
	return ToSyncJobResponse(job), nil
}
