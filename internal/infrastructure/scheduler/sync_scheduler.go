package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/domain/shared"
	"github.com/channelsync/engine/internal/infrastructure/config"
	"github.com/channelsync/engine/internal/infrastructure/telemetry"
)

// queueEntry is one job waiting in (or dispatched from) the scheduler queue.
// seq preserves FIFO order inside a priority band.
type queueEntry struct {
	job        *channel.SyncJob
	seq        uint64
	dispatched bool
}

// SyncScheduler owns the job queue and the worker pool. Enqueue coalesces
// duplicate requests for the same (tenant, provider, kind), dispatch picks
// the highest-priority runnable job in FIFO order, and a prune loop trims
// terminal jobs past the retention window.
type SyncScheduler struct {
	cfg     config.SyncConfig
	jobRepo channel.SyncJobRepository
	pool    *WorkerPool
	metrics *telemetry.SyncMetrics
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]*queueEntry
	// byKey indexes waiting entries by coalescing key
	byKey     map[string]*queueEntry
	seq       uint64
	isRunning bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncScheduler creates the scheduler and its worker pool.
func NewSyncScheduler(
	cfg config.SyncConfig,
	executor Executor,
	connRepo channel.ConnectionRepository,
	jobRepo channel.SyncJobRepository,
	leases shared.LeaseStore,
	events shared.EventPublisher,
	metrics *telemetry.SyncMetrics,
	logger *zap.Logger,
) *SyncScheduler {
	s := &SyncScheduler{
		cfg:     cfg,
		jobRepo: jobRepo,
		metrics: metrics,
		logger:  logger,
		entries: make(map[uuid.UUID]*queueEntry),
		byKey:   make(map[string]*queueEntry),
	}
	s.pool = NewWorkerPool(cfg, executor, connRepo, jobRepo, leases, events, metrics, logger, s.jobFinished)
	return s
}

// Start starts the worker pool, the dispatch loop and the prune loop
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.pool.Start(ctx); err != nil {
		return err
	}

	s.wg.Add(2)
	go s.dispatchLoop(ctx)
	go s.pruneLoop(ctx)

	s.logger.Info("sync scheduler started",
		zap.Int("queue_capacity", s.cfg.QueueCapacity),
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Duration("history_retention", s.cfg.HistoryRetention),
	)
	return nil
}

// Stop gracefully stops the scheduler and its workers
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("sync scheduler stop timed out")
		return ctx.Err()
	}

	return s.pool.Stop(ctx)
}

// ---------------------------------------------------------------------------
// JobScheduler port
// ---------------------------------------------------------------------------

// Enqueue admits a job into the queue. A queued or retrying job with the
// same (tenant, provider, kind) absorbs the request: the existing job is
// returned with coalesced true and nothing new is created. A high-priority
// request absorbed by a low-priority entry promotes it, so a user never
// waits behind the webhook band for work they asked for explicitly.
func (s *SyncScheduler) Enqueue(ctx context.Context, job *channel.SyncJob) (*channel.SyncJob, bool, error) {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil, false, ErrSchedulerNotRunning
	}

	key := coalesceKey(job.TenantID, job.Provider, job.Kind)
	if existing, ok := s.byKey[key]; ok {
		canonical := existing.job
		promoted := job.Priority > canonical.Priority
		if promoted {
			canonical.Priority = job.Priority
		}
		s.mu.Unlock()
		if promoted {
			if err := s.jobRepo.Save(ctx, canonical); err != nil {
				s.logger.Warn("failed to persist promoted job priority",
					zap.String("job_id", canonical.ID.String()),
					zap.Error(err),
				)
			}
		}
		return canonical, true, nil
	}

	if len(s.entries) >= s.cfg.QueueCapacity {
		s.mu.Unlock()
		return nil, false, ErrJobQueueFull
	}

	s.seq++
	entry := &queueEntry{job: job, seq: s.seq}
	s.entries[job.ID] = entry
	s.byKey[key] = entry
	depth := len(s.entries)
	s.mu.Unlock()

	if err := s.jobRepo.Save(ctx, job); err != nil {
		s.remove(job)
		return nil, false, err
	}

	s.metrics.QueueDepth(ctx, depth)
	s.logger.Debug("sync job enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", job.TenantID.String()),
		zap.String("provider", job.Provider.String()),
		zap.String("kind", string(job.Kind)),
		zap.Int("priority", int(job.Priority)),
	)
	return job, false, nil
}

// Cancel removes a waiting job from the queue. Dispatched jobs are left
// alone; they stop cooperatively via the job's cancel flag.
func (s *SyncScheduler) Cancel(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[jobID]
	if !ok || entry.dispatched {
		return nil
	}
	delete(s.entries, jobID)
	key := coalesceKey(entry.job.TenantID, entry.job.Provider, entry.job.Kind)
	if s.byKey[key] == entry {
		delete(s.byKey, key)
	}
	return nil
}

// QueueDepth returns the number of jobs the scheduler is tracking
func (s *SyncScheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func (s *SyncScheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchReady(ctx)
		}
	}
}

// dispatchReady hands runnable jobs to the pool until the pool refuses or
// nothing runnable remains. Higher priority first, FIFO inside a band.
func (s *SyncScheduler) dispatchReady(ctx context.Context) {
	now := time.Now()
	for {
		entry := s.takeNext(now)
		if entry == nil {
			break
		}
		if !s.pool.TrySubmit(entry.job) {
			s.putBack(entry)
			break
		}
	}

	s.metrics.QueueDepth(ctx, s.QueueDepth())
}

// takeNext picks and marks the best runnable waiting entry
func (s *SyncScheduler) takeNext(now time.Time) *queueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *queueEntry
	for _, e := range s.entries {
		if e.dispatched || !e.job.Runnable(now) {
			continue
		}
		if best == nil ||
			e.job.Priority > best.job.Priority ||
			(e.job.Priority == best.job.Priority && e.seq < best.seq) {
			best = e
		}
	}
	if best == nil {
		return nil
	}

	best.dispatched = true
	key := coalesceKey(best.job.TenantID, best.job.Provider, best.job.Kind)
	if s.byKey[key] == best {
		delete(s.byKey, key)
	}
	return best
}

// putBack returns an entry the pool refused to the waiting set
func (s *SyncScheduler) putBack(entry *queueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.dispatched = false
	key := coalesceKey(entry.job.TenantID, entry.job.Provider, entry.job.Kind)
	if _, occupied := s.byKey[key]; !occupied {
		s.byKey[key] = entry
	}
}

// jobFinished is the pool's callback after every run. Terminal jobs leave
// the queue; retrying ones wait for their backoff; jobs the pool could not
// start (lease busy) go straight back to waiting.
func (s *SyncScheduler) jobFinished(job *channel.SyncJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[job.ID]
	if !ok {
		return
	}

	if job.Status.IsTerminal() {
		delete(s.entries, job.ID)
		key := coalesceKey(job.TenantID, job.Provider, job.Kind)
		if s.byKey[key] == entry {
			delete(s.byKey, key)
		}
		return
	}

	entry.dispatched = false
	key := coalesceKey(job.TenantID, job.Provider, job.Kind)
	if _, occupied := s.byKey[key]; !occupied {
		s.byKey[key] = entry
	}
}

// remove drops an entry after a failed persist
func (s *SyncScheduler) remove(job *channel.SyncJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[job.ID]
	if !ok {
		return
	}
	delete(s.entries, job.ID)
	key := coalesceKey(job.TenantID, job.Provider, job.Kind)
	if s.byKey[key] == entry {
		delete(s.byKey, key)
	}
}

// ---------------------------------------------------------------------------
// Pruning
// ---------------------------------------------------------------------------

// pruneLoop trims terminal jobs older than the retention window. Stats over
// windows with no surviving history degrade to unknown.
func (s *SyncScheduler) pruneLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.cfg.HistoryRetention)
			pruned, err := s.jobRepo.PruneTerminalBefore(ctx, cutoff)
			if err != nil {
				s.logger.Error("job history prune failed", zap.Error(err))
				continue
			}
			if pruned > 0 {
				s.logger.Info("pruned terminal sync jobs",
					zap.Int64("pruned", pruned),
					zap.Time("cutoff", cutoff),
				)
			}
		}
	}
}

// coalesceKey is the dedup key for queued work: one waiting job per
// (tenant, provider, kind).
func coalesceKey(tenantID uuid.UUID, provider channel.ProviderCode, kind channel.SyncKind) string {
	return tenantID.String() + "|" + provider.String() + "|" + string(kind)
}
