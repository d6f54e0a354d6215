package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/domain/shared"
	"github.com/channelsync/engine/internal/infrastructure/config"
	"github.com/channelsync/engine/internal/infrastructure/telemetry"
)

// Executor runs one sync job to completion and returns its result summary.
// A cooperative cancellation surfaces as ErrJobCancelled with the partial
// summary of what was applied before the stop.
type Executor interface {
	Execute(ctx context.Context, job *channel.SyncJob) (channel.ResultSummary, error)
}

// WorkerPool runs sync jobs on a bounded set of workers. Before executing a
// job it takes the per tenant/provider lease, so no two jobs for the same
// pair ever run concurrently, and moves the connection into syncing with a
// compare-and-swap.
type WorkerPool struct {
	cfg      config.SyncConfig
	executor Executor
	connRepo channel.ConnectionRepository
	jobRepo  channel.SyncJobRepository
	leases   shared.LeaseStore
	events   shared.EventPublisher
	metrics  *telemetry.SyncMetrics
	logger   *zap.Logger

	// onFinished hands the job back to the scheduler after every run,
	// terminal or not
	onFinished func(*channel.SyncJob)

	jobs      chan *channel.SyncJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewWorkerPool creates a worker pool with cfg.Workers workers.
func NewWorkerPool(
	cfg config.SyncConfig,
	executor Executor,
	connRepo channel.ConnectionRepository,
	jobRepo channel.SyncJobRepository,
	leases shared.LeaseStore,
	events shared.EventPublisher,
	metrics *telemetry.SyncMetrics,
	logger *zap.Logger,
	onFinished func(*channel.SyncJob),
) *WorkerPool {
	return &WorkerPool{
		cfg:        cfg,
		executor:   executor,
		connRepo:   connRepo,
		jobRepo:    jobRepo,
		leases:     leases,
		events:     events,
		metrics:    metrics,
		logger:     logger,
		onFinished: onFinished,
		jobs:       make(chan *channel.SyncJob, cfg.Workers),
	}
}

// Start starts the workers
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("sync worker pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Duration("job_timeout", p.cfg.JobTimeout),
	)
	return nil
}

// Stop gracefully stops the workers, waiting for in-flight jobs
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	close(p.jobs)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("sync worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("sync worker pool stop timed out")
		return ctx.Err()
	}
}

// TrySubmit hands a job to a worker without blocking. Returns false when all
// workers are busy; the scheduler keeps the job queued and retries.
func (p *WorkerPool) TrySubmit(job *channel.SyncJob) bool {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

func (p *WorkerPool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(ctx, job, workerID)
		}
	}
}

// run executes one job end to end: lease, connection CAS, execution,
// terminal bookkeeping.
func (p *WorkerPool) run(ctx context.Context, job *channel.SyncJob, workerID int) {
	defer p.onFinished(job)

	leaseKey := job.TenantID.String() + "/" + job.Provider.String()
	acquired, err := p.leases.Acquire(ctx, leaseKey, job.ID.String(), p.cfg.LeaseTTL)
	if err != nil {
		p.logger.Error("lease acquisition failed",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
		return
	}
	if !acquired {
		// Another job holds the pair; this one stays queued.
		p.logger.Debug("pair lease busy, job requeued",
			zap.String("job_id", job.ID.String()),
			zap.String("lease_key", leaseKey),
		)
		return
	}
	defer func() {
		if err := p.leases.Release(context.Background(), leaseKey, job.ID.String()); err != nil {
			p.logger.Warn("lease release failed", zap.String("lease_key", leaseKey), zap.Error(err))
		}
	}()

	conn, err := p.connRepo.FindByTenantAndProvider(ctx, job.TenantID, job.Provider)
	if err != nil {
		p.failWithoutConnection(ctx, job, fmt.Sprintf("load connection: %v", err))
		return
	}

	if err := job.Start(); err != nil {
		// Cancelled or otherwise moved on while waiting in the queue.
		p.logger.Debug("job no longer startable",
			zap.String("job_id", job.ID.String()),
			zap.String("status", job.Status.String()),
		)
		return
	}
	if err := p.jobRepo.Save(ctx, job); err != nil {
		p.logger.Error("failed to persist job start", zap.String("job_id", job.ID.String()), zap.Error(err))
	}

	if err := p.connRepo.TransitionStatus(ctx, conn.ID, channel.StatusConnected, channel.StatusSyncing); err != nil {
		_ = job.FailAttempt(fmt.Sprintf("connection not ready for sync: %v", err), false)
		p.saveJob(ctx, job)
		return
	}

	started := time.Now()
	jobCtx, cancelJob := context.WithTimeout(ctx, p.cfg.JobTimeout)
	summary, execErr := p.executor.Execute(jobCtx, job)
	cancelJob()
	duration := time.Since(started)

	switch {
	case execErr == nil:
		p.completeJob(ctx, job, conn, summary, duration, workerID)

	case errors.Is(execErr, ErrJobCancelled):
		_ = job.CancelCooperative(summary)
		p.returnConnection(ctx, conn.ID)
		p.logger.Info("sync job cancelled between records",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.Int("applied", summary.Total()),
		)

	default:
		p.failAttempt(ctx, job, conn, summary, execErr, duration, workerID)
	}

	p.saveJob(ctx, job)
}

// completeJob finishes a successful run: connection back to connected with a
// fresh lastSyncAt, metrics recorded.
func (p *WorkerPool) completeJob(ctx context.Context, job *channel.SyncJob, conn *channel.Connection, summary channel.ResultSummary, duration time.Duration, workerID int) {
	_ = job.Complete(summary)

	fresh, err := p.connRepo.FindByTenantAndProvider(ctx, job.TenantID, job.Provider)
	if err == nil {
		if err := fresh.FinishSync(time.Now()); err == nil {
			if err := p.connRepo.Save(ctx, fresh); err != nil {
				p.logger.Warn("failed to stamp last sync time",
					zap.String("connection_id", conn.ID.String()),
					zap.Error(err),
				)
			}
		}
	} else {
		p.returnConnection(ctx, conn.ID)
	}

	p.metrics.JobCompleted(ctx, job.Provider.String(), string(job.Kind), duration, summary.Total(), summary.Conflicts)
	p.logger.Info("sync job completed",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", job.TenantID.String()),
		zap.String("provider", job.Provider.String()),
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errored", summary.Errored),
		zap.Int("conflicts", summary.Conflicts),
		zap.Duration("duration", duration),
	)
}

// failAttempt records a failed execution: retryable classes back off, the
// rest fail the job, and connection-level classes move the connection to
// error with a reason code.
func (p *WorkerPool) failAttempt(ctx context.Context, job *channel.SyncJob, conn *channel.Connection, summary channel.ResultSummary, execErr error, duration time.Duration, workerID int) {
	class := channel.Classify(execErr)
	job.Summary = summary
	_ = job.FailAttempt(execErr.Error(), class.Retryable())

	if job.Status == channel.JobStatusRetrying {
		p.returnConnection(ctx, conn.ID)
		p.metrics.JobRetried(ctx, job.Provider.String(), string(job.Kind), string(class))
		p.logger.Warn("sync job attempt failed, retry scheduled",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("error_class", string(class)),
			zap.Int("attempt", job.Attempt),
			zap.Timep("next_run_at", job.NextRunAt),
			zap.Error(execErr),
		)
		return
	}

	if class.ConnectionLevel() {
		p.markConnectionError(ctx, job, class, execErr)
	} else {
		p.returnConnection(ctx, conn.ID)
	}

	p.metrics.JobFailed(ctx, job.Provider.String(), string(job.Kind), string(class), duration)
	p.logger.Error("sync job failed",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", job.TenantID.String()),
		zap.String("provider", job.Provider.String()),
		zap.String("error_class", string(class)),
		zap.Int("attempt", job.Attempt),
		zap.Error(execErr),
	)
}

// failWithoutConnection terminally fails a job whose connection disappeared
// between enqueue and execution.
func (p *WorkerPool) failWithoutConnection(ctx context.Context, job *channel.SyncJob, msg string) {
	if err := job.Start(); err != nil {
		return
	}
	_ = job.FailAttempt(msg, false)
	p.saveJob(ctx, job)
}

// returnConnection moves syncing back to connected without touching
// lastSyncAt.
func (p *WorkerPool) returnConnection(ctx context.Context, connID uuid.UUID) {
	if err := p.connRepo.TransitionStatus(ctx, connID, channel.StatusSyncing, channel.StatusConnected); err != nil {
		p.logger.Warn("failed to return connection to connected",
			zap.String("connection_id", connID.String()),
			zap.Error(err),
		)
	}
}

// markConnectionError moves the connection into the error state with the
// failure's reason code.
func (p *WorkerPool) markConnectionError(ctx context.Context, job *channel.SyncJob, class channel.ErrorClass, execErr error) {
	conn, err := p.connRepo.FindByTenantAndProvider(ctx, job.TenantID, job.Provider)
	if err != nil {
		p.logger.Warn("failed to load connection for error marking", zap.Error(err))
		return
	}
	if err := conn.MarkError(class.Reason(), execErr.Error()); err != nil {
		p.logger.Warn("connection refused error transition",
			zap.String("connection_id", conn.ID.String()),
			zap.String("status", conn.Status.String()),
		)
		return
	}
	if err := p.connRepo.Save(ctx, conn); err != nil {
		p.logger.Error("failed to persist connection error state",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err),
		)
		return
	}
	if err := p.events.Publish(ctx, conn.GetDomainEvents()...); err != nil {
		p.logger.Warn("failed to publish connection events", zap.Error(err))
	}
	conn.ClearDomainEvents()
}

func (p *WorkerPool) saveJob(ctx context.Context, job *channel.SyncJob) {
	if err := p.jobRepo.Save(ctx, job); err != nil {
		p.logger.Error("failed to persist job state",
			zap.String("job_id", job.ID.String()),
			zap.String("status", job.Status.String()),
			zap.Error(err),
		)
	}
}
