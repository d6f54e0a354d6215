package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Attribute keys for sync metrics.
var (
	AttrProvider   = attribute.Key("provider")
	AttrSyncKind   = attribute.Key("sync_kind")
	AttrErrorClass = attribute.Key("error_class")
)

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// SyncMetrics tracks the engine's job throughput, record volume and conflict
// rate. All recording methods are nil-receiver safe so components can run
// without a meter wired in.
type SyncMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	jobsCompleted *Counter
	jobsFailed    *Counter
	jobsRetried   *Counter
	recordsSynced *Counter
	conflicts     *Counter
	jobDuration   *Histogram
	queueDepth    *Gauge
}

// NewSyncMetrics creates the sync metric instruments on the given meter.
func NewSyncMetrics(meter metric.Meter, logger *zap.Logger) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SyncMetrics{
		meter:  meter,
		logger: logger,
	}

	var err error
	sm.jobsCompleted, err = NewCounter(meter,
		"sync_jobs_completed_total",
		"Total number of sync jobs that succeeded",
		"{jobs}",
	)
	if err != nil {
		return nil, err
	}

	sm.jobsFailed, err = NewCounter(meter,
		"sync_jobs_failed_total",
		"Total number of sync jobs that failed terminally",
		"{jobs}",
	)
	if err != nil {
		return nil, err
	}

	sm.jobsRetried, err = NewCounter(meter,
		"sync_jobs_retried_total",
		"Total number of sync job attempts scheduled for retry",
		"{attempts}",
	)
	if err != nil {
		return nil, err
	}

	sm.recordsSynced, err = NewCounter(meter,
		"sync_records_total",
		"Total number of record pairs touched by sync jobs",
		"{records}",
	)
	if err != nil {
		return nil, err
	}

	sm.conflicts, err = NewCounter(meter,
		"sync_conflicts_total",
		"Total number of record pairs where both sides diverged",
		"{records}",
	)
	if err != nil {
		return nil, err
	}

	sm.jobDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "sync_job_duration_seconds",
		Description: "Wall-clock duration of sync job executions",
		Unit:        "s",
		Boundaries:  []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})
	if err != nil {
		return nil, err
	}

	sm.queueDepth, err = NewGauge(meter,
		"sync_queue_depth",
		"Number of jobs waiting in the scheduler queue",
		"{jobs}",
	)
	if err != nil {
		return nil, err
	}

	return sm, nil
}

// JobCompleted records a successfully finished job.
func (m *SyncMetrics) JobCompleted(ctx context.Context, provider, kind string, duration time.Duration, records, conflicts int) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrProvider.String(provider), AttrSyncKind.String(kind)}
	m.jobsCompleted.Inc(ctx, attrs...)
	m.recordsSynced.Add(ctx, int64(records), attrs...)
	m.conflicts.Add(ctx, int64(conflicts), attrs...)
	m.jobDuration.RecordDuration(ctx, duration, attrs...)
}

// JobFailed records a terminally failed job.
func (m *SyncMetrics) JobFailed(ctx context.Context, provider, kind, errorClass string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsFailed.Inc(ctx,
		AttrProvider.String(provider),
		AttrSyncKind.String(kind),
		AttrErrorClass.String(errorClass),
	)
	m.jobDuration.RecordDuration(ctx, duration,
		AttrProvider.String(provider),
		AttrSyncKind.String(kind),
	)
}

// JobRetried records an attempt that was scheduled for retry.
func (m *SyncMetrics) JobRetried(ctx context.Context, provider, kind, errorClass string) {
	if m == nil {
		return
	}
	m.jobsRetried.Inc(ctx,
		AttrProvider.String(provider),
		AttrSyncKind.String(kind),
		AttrErrorClass.String(errorClass),
	)
}

// QueueDepth records the current scheduler queue depth.
func (m *SyncMetrics) QueueDepth(ctx context.Context, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Record(ctx, int64(depth))
}
