package channel

import (
	"github.com/google/uuid"

	"github.com/channelsync/engine/internal/domain/shared"
)

// Event type constants for the channel domain
const (
	EventTypeConnectionAuthorized = "channel.connection.authorized"
	EventTypeConnectionErrored    = "channel.connection.errored"
	EventTypeConnectionRevoked    = "channel.connection.revoked"
	EventTypeSyncJobCompleted     = "channel.sync_job.completed"
	EventTypeSyncJobFailed        = "channel.sync_job.failed"
)

const aggregateTypeConnection = "Connection"
const aggregateTypeSyncJob = "SyncJob"

// ConnectionAuthorizedEvent is raised when an authorization handshake
// completes and the connection becomes connected.
type ConnectionAuthorizedEvent struct {
	shared.BaseDomainEvent
	Provider ProviderCode `json:"provider"`
}

// NewConnectionAuthorizedEvent creates a ConnectionAuthorizedEvent
func NewConnectionAuthorizedEvent(c *Connection) *ConnectionAuthorizedEvent {
	return &ConnectionAuthorizedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeConnectionAuthorized, aggregateTypeConnection, c.ID, c.TenantID),
		Provider:        c.Provider,
	}
}

// ConnectionErroredEvent is raised when a connection-level failure moves the
// connection into the error state.
type ConnectionErroredEvent struct {
	shared.BaseDomainEvent
	Provider ProviderCode `json:"provider"`
	Reason   ErrorReason  `json:"reason"`
	Message  string       `json:"message"`
}

// NewConnectionErroredEvent creates a ConnectionErroredEvent
func NewConnectionErroredEvent(c *Connection, reason ErrorReason, msg string) *ConnectionErroredEvent {
	return &ConnectionErroredEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeConnectionErrored, aggregateTypeConnection, c.ID, c.TenantID),
		Provider:        c.Provider,
		Reason:          reason,
		Message:         msg,
	}
}

// ConnectionRevokedEvent is raised on explicit disconnect.
type ConnectionRevokedEvent struct {
	shared.BaseDomainEvent
	Provider ProviderCode `json:"provider"`
}

// NewConnectionRevokedEvent creates a ConnectionRevokedEvent
func NewConnectionRevokedEvent(c *Connection) *ConnectionRevokedEvent {
	return &ConnectionRevokedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeConnectionRevoked, aggregateTypeConnection, c.ID, c.TenantID),
		Provider:        c.Provider,
	}
}

// SyncJobCompletedEvent is raised when a job reaches succeeded.
type SyncJobCompletedEvent struct {
	shared.BaseDomainEvent
	Provider ProviderCode  `json:"provider"`
	Kind     SyncKind      `json:"kind"`
	Summary  ResultSummary `json:"summary"`
}

// NewSyncJobCompletedEvent creates a SyncJobCompletedEvent
func NewSyncJobCompletedEvent(tenantID, jobID uuid.UUID, provider ProviderCode, kind SyncKind, summary ResultSummary) *SyncJobCompletedEvent {
	return &SyncJobCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSyncJobCompleted, aggregateTypeSyncJob, jobID, tenantID),
		Provider:        provider,
		Kind:            kind,
		Summary:         summary,
	}
}

// SyncJobFailedEvent is raised when a job exhausts its retries.
type SyncJobFailedEvent struct {
	shared.BaseDomainEvent
	Provider ProviderCode `json:"provider"`
	Kind     SyncKind     `json:"kind"`
	Error    string       `json:"error"`
}

// NewSyncJobFailedEvent creates a SyncJobFailedEvent
func NewSyncJobFailedEvent(tenantID, jobID uuid.UUID, provider ProviderCode, kind SyncKind, errMsg string) *SyncJobFailedEvent {
	return &SyncJobFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSyncJobFailed, aggregateTypeSyncJob, jobID, tenantID),
		Provider:        provider,
		Kind:            kind,
		Error:           errMsg,
	}
}
