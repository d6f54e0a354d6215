package channel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/channelsync/engine/internal/domain/shared"
)

// Retry policy for failed sync jobs. Delays grow as base * 2^(attempt-1)
// with additive jitter, capped at MaxRetryDelay, for at most MaxAttempts
// attempts overall.
const (
	MaxAttempts    = 5
	BaseRetryDelay = 30 * time.Second
	MaxRetryDelay  = 30 * time.Minute
	// retryJitterFraction bounds the additive jitter so consecutive delays
	// stay strictly increasing while still spreading thundering herds.
	retryJitterFraction = 0.2
)

// ---------------------------------------------------------------------------
// JobStatus / JobPriority
// ---------------------------------------------------------------------------

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true for states a job never leaves
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of JobStatus
func (s JobStatus) String() string {
	return string(s)
}

// JobPriority orders jobs in the scheduler queue. User-initiated requests
// run before webhook and timer triggered ones but never preempt a running
// job.
type JobPriority int

const (
	// PriorityLow is used by webhook and timer triggered syncs
	PriorityLow JobPriority = 0
	// PriorityHigh is used by user-initiated syncs
	PriorityHigh JobPriority = 10
)

// ---------------------------------------------------------------------------
// ResultSummary
// ---------------------------------------------------------------------------

// ResultSummary counts the per-record outcomes of one job run. A job never
// reports success unless every matched pair was processed or explicitly
// skipped with a recorded reason.
type ResultSummary struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Errored   int `json:"errored"`
	Conflicts int `json:"conflicts"`
	// Failures enumerates record-level validation failures so the user can
	// correct source data without losing applied changes
	Failures []RecordFailure `json:"failures,omitempty"`
}

// Total returns the number of record pairs the job touched
func (s ResultSummary) Total() int {
	return s.Created + s.Updated + s.Skipped + s.Errored
}

// RecordFailure describes one record-level failure inside a job summary.
type RecordFailure struct {
	RecordKey string `json:"record_key"`
	Reason    string `json:"reason"`
}

// ---------------------------------------------------------------------------
// SyncJob
// ---------------------------------------------------------------------------

// SyncJob is one unit of synchronization work for a (tenant, provider)
// pair. No two jobs for the same pair may be running at once, and at most
// one non-terminal job exists per pair (duplicates coalesce in the
// scheduler).
type SyncJob struct {
	shared.BaseEntity
	TenantID uuid.UUID
	Provider ProviderCode
	Kind     SyncKind
	Status   JobStatus
	Priority JobPriority
	// Attempt counts executions, 0 until the job first runs
	Attempt int
	// NextRunAt gates retrying jobs; zero for immediately runnable ones
	NextRunAt *time.Time
	// Fingerprint identifies the intended effect for dedup and for deriving
	// idempotency tokens on remote writes
	Fingerprint string
	// CancelRequested is the cooperative cancellation flag checked between
	// record-level mutations
	CancelRequested bool
	LastError       string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	Summary         ResultSummary
}

// NewSyncJob creates a queued sync job for a tenant/provider pair.
func NewSyncJob(tenantID uuid.UUID, provider ProviderCode, kind SyncKind, priority JobPriority) (*SyncJob, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if !provider.IsValid() {
		return nil, ErrInvalidProvider
	}
	if !kind.IsValid() {
		return nil, ErrInvalidSyncKind
	}

	job := &SyncJob{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		Provider:   provider,
		Kind:       kind,
		Status:     JobStatusQueued,
		Priority:   priority,
	}
	job.Fingerprint = jobFingerprint(tenantID, provider, kind, job.ID)
	return job, nil
}

// jobFingerprint derives the content fingerprint of the job's intended
// effect. The job id participates so re-enqueued work after a terminal job
// gets fresh idempotency tokens.
func jobFingerprint(tenantID uuid.UUID, provider ProviderCode, kind SyncKind, jobID uuid.UUID) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", tenantID, provider, kind, jobID)))
	return hex.EncodeToString(sum[:])
}

// Start marks the job running and bumps the attempt counter.
func (j *SyncJob) Start() error {
	if j.Status != JobStatusQueued && j.Status != JobStatusRetrying {
		return ErrIllegalTransition
	}
	now := time.Now()
	j.Status = JobStatusRunning
	j.Attempt++
	j.StartedAt = &now
	j.NextRunAt = nil
	j.UpdatedAt = now
	return nil
}

// Complete marks the job succeeded with its result summary.
func (j *SyncJob) Complete(summary ResultSummary) error {
	if j.Status != JobStatusRunning {
		return ErrIllegalTransition
	}
	now := time.Now()
	j.Status = JobStatusSucceeded
	j.Summary = summary
	j.CompletedAt = &now
	j.LastError = ""
	j.UpdatedAt = now
	return nil
}

// FailAttempt records a failed execution. Retryable failures below the
// attempt cap move the job to retrying with an exponential backoff delay;
// everything else is terminal.
func (j *SyncJob) FailAttempt(errMsg string, retryable bool) error {
	if j.Status != JobStatusRunning {
		return ErrIllegalTransition
	}
	now := time.Now()
	j.LastError = errMsg
	j.UpdatedAt = now

	if retryable && j.Attempt < MaxAttempts {
		j.Status = JobStatusRetrying
		next := now.Add(RetryDelay(j.Attempt))
		j.NextRunAt = &next
		return nil
	}

	j.Status = JobStatusFailed
	j.CompletedAt = &now
	return nil
}

// Cancel cancels a job that has not started. Running jobs are cancelled
// cooperatively via RequestCancel instead.
func (j *SyncJob) Cancel() error {
	if j.Status != JobStatusQueued && j.Status != JobStatusRetrying {
		return ErrJobNotCancelable
	}
	now := time.Now()
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// RequestCancel sets the cooperative cancellation flag. The worker checks it
// between record-level mutations; applied mutations are not rolled back.
func (j *SyncJob) RequestCancel() {
	j.CancelRequested = true
	j.UpdatedAt = time.Now()
}

// CancelCooperative finishes a cooperative cancellation once the worker has
// observed the flag and stopped between records.
func (j *SyncJob) CancelCooperative(summary ResultSummary) error {
	if j.Status != JobStatusRunning {
		return ErrIllegalTransition
	}
	now := time.Now()
	j.Status = JobStatusCancelled
	j.Summary = summary
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Runnable reports whether the job may be handed to a worker now.
func (j *SyncJob) Runnable(now time.Time) bool {
	if j.Status != JobStatusQueued && j.Status != JobStatusRetrying {
		return false
	}
	return j.NextRunAt == nil || !now.Before(*j.NextRunAt)
}

// RetryDelay returns the backoff delay applied after the given attempt
// number: base * 2^(attempt-1) plus bounded jitter, capped at MaxRetryDelay.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := BaseRetryDelay << (attempt - 1)
	if delay > MaxRetryDelay || delay <= 0 {
		delay = MaxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(float64(delay) * retryJitterFraction)))
	delay += jitter
	if delay > MaxRetryDelay {
		delay = MaxRetryDelay
	}
	return delay
}

// IdempotencyToken derives the deterministic token keying a remote write so
// re-running the same diff after a partial failure cannot double-apply.
func (j *SyncJob) IdempotencyToken(recordKey string) string {
	sum := sha256.Sum256([]byte(j.Fingerprint + "|" + recordKey))
	return hex.EncodeToString(sum[:])
}
