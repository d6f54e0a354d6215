package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/channelsync/engine/internal/domain/channel"
)

// TriggerFunc enqueues one timer-driven sync. Coalescing and readiness
// checks happen downstream; the trigger only fires.
type TriggerFunc func(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode, kind channel.SyncKind) error

// scheduledKinds are the sync kinds the periodic trigger fires for every
// connected pair. Imports and exports stay user-initiated.
var scheduledKinds = []channel.SyncKind{channel.SyncKindStock, channel.SyncKindOrder}

// ScheduledTrigger periodically enqueues low-priority syncs for every
// connected pair. Requests landing on an already queued job coalesce away in
// the scheduler, so firing is always safe.
type ScheduledTrigger struct {
	interval time.Duration
	connRepo channel.ConnectionRepository
	trigger  TriggerFunc
	logger   *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewScheduledTrigger creates a new ScheduledTrigger
func NewScheduledTrigger(interval time.Duration, connRepo channel.ConnectionRepository, trigger TriggerFunc, logger *zap.Logger) *ScheduledTrigger {
	return &ScheduledTrigger{
		interval: interval,
		connRepo: connRepo,
		trigger:  trigger,
		logger:   logger,
	}
}

// Start starts the periodic trigger loop
func (t *ScheduledTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.loop(ctx)

	t.logger.Info("scheduled sync trigger started", zap.Duration("interval", t.interval))
	return nil
}

// Stop stops the trigger loop
func (t *ScheduledTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *ScheduledTrigger) loop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fire(ctx)
		}
	}
}

// fire enqueues the scheduled kinds for every connected pair
func (t *ScheduledTrigger) fire(ctx context.Context) {
	conns, err := t.connRepo.FindByStatus(ctx, channel.StatusConnected)
	if err != nil {
		t.logger.Error("failed to list connected pairs", zap.Error(err))
		return
	}

	for _, conn := range conns {
		for _, kind := range scheduledKinds {
			if err := t.trigger(ctx, conn.TenantID, conn.Provider, kind); err != nil {
				t.logger.Debug("scheduled sync not enqueued",
					zap.String("tenant_id", conn.TenantID.String()),
					zap.String("provider", conn.Provider.String()),
					zap.String("kind", string(kind)),
					zap.Error(err),
				)
			}
		}
	}
}
