package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when enqueuing into a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is at capacity
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrJobCancelled is returned by the executor when it observes a
	// cooperative cancellation request between record-level mutations
	ErrJobCancelled = errors.New("sync job cancelled cooperatively")
)
