package event

import (
	"context"

	"go.uber.org/zap"

	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/domain/shared"
)

// ActivityLogger writes one structured log line per channel lifecycle event.
// It is the audit trail of connection and job state changes.
type ActivityLogger struct {
	logger *zap.Logger
}

// NewActivityLogger creates an ActivityLogger
func NewActivityLogger(logger *zap.Logger) *ActivityLogger {
	return &ActivityLogger{logger: logger.Named("activity")}
}

var _ shared.EventHandler = (*ActivityLogger)(nil)

// EventTypes returns the channel lifecycle events the logger records
func (l *ActivityLogger) EventTypes() []string {
	return []string{
		channel.EventTypeConnectionAuthorized,
		channel.EventTypeConnectionErrored,
		channel.EventTypeConnectionRevoked,
		channel.EventTypeSyncJobCompleted,
		channel.EventTypeSyncJobFailed,
	}
}

// Handle logs the event
func (l *ActivityLogger) Handle(ctx context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_type", event.EventType()),
		zap.String("aggregate_id", event.AggregateID().String()),
		zap.String("tenant_id", event.TenantID().String()),
	}

	switch e := event.(type) {
	case *channel.ConnectionAuthorizedEvent:
		l.logger.Info("connection authorized", append(fields, zap.String("provider", e.Provider.String()))...)
	case *channel.ConnectionErroredEvent:
		l.logger.Warn("connection errored", append(fields,
			zap.String("provider", e.Provider.String()),
			zap.String("reason", string(e.Reason)),
			zap.String("message", e.Message),
		)...)
	case *channel.ConnectionRevokedEvent:
		l.logger.Info("connection revoked", append(fields, zap.String("provider", e.Provider.String()))...)
	case *channel.SyncJobCompletedEvent:
		l.logger.Info("sync job completed", append(fields,
			zap.String("provider", e.Provider.String()),
			zap.String("kind", string(e.Kind)),
			zap.Int("created", e.Summary.Created),
			zap.Int("updated", e.Summary.Updated),
			zap.Int("skipped", e.Summary.Skipped),
			zap.Int("errored", e.Summary.Errored),
			zap.Int("conflicts", e.Summary.Conflicts),
		)...)
	case *channel.SyncJobFailedEvent:
		l.logger.Warn("sync job failed", append(fields,
			zap.String("provider", e.Provider.String()),
			zap.String("kind", string(e.Kind)),
			zap.String("error", e.Error),
		)...)
	default:
		l.logger.Info("channel event", fields...)
	}
	return nil
}
