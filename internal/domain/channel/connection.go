package channel

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/channelsync/engine/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// ConnectionStatus state machine
// ---------------------------------------------------------------------------

// ConnectionStatus is the lifecycle state of a tenant's provider connection.
type ConnectionStatus string

const (
	// StatusDisconnected means no authorized relationship exists
	StatusDisconnected ConnectionStatus = "disconnected"
	// StatusAuthorizing means a user-initiated handshake is in flight
	StatusAuthorizing ConnectionStatus = "authorizing"
	// StatusConnected means the connection is healthy and syncable
	StatusConnected ConnectionStatus = "connected"
	// StatusSyncing means a job currently holds the connection; mapping
	// edits are blocked but further jobs may still be queued
	StatusSyncing ConnectionStatus = "syncing"
	// StatusError means the last connection-level operation failed
	StatusError ConnectionStatus = "error"
)

// IsValid returns true if the status is known
func (s ConnectionStatus) IsValid() bool {
	switch s {
	case StatusDisconnected, StatusAuthorizing, StatusConnected, StatusSyncing, StatusError:
		return true
	default:
		return false
	}
}

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	return string(s)
}

// ErrorReason is the reason code carried by every transition into error.
type ErrorReason string

const (
	ErrorReasonAuthExpired ErrorReason = "auth-expired"
	ErrorReasonRateLimited ErrorReason = "rate-limited"
	ErrorReasonValidation  ErrorReason = "permanent-validation"
	ErrorReasonUnknown     ErrorReason = "unknown"
)

// legalTransitions enumerates the permitted state machine edges. Explicit
// revoke to disconnected is legal from every state and handled separately.
var legalTransitions = map[ConnectionStatus][]ConnectionStatus{
	StatusDisconnected: {StatusAuthorizing},
	StatusAuthorizing:  {StatusConnected, StatusDisconnected},
	StatusConnected:    {StatusSyncing, StatusError},
	StatusSyncing:      {StatusConnected, StatusError},
	StatusError:        {StatusAuthorizing},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to ConnectionStatus) bool {
	if to == StatusDisconnected {
		// Explicit revoke is allowed from any state.
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Connection Aggregate
// ---------------------------------------------------------------------------

// Connection is the authorized relationship between one tenant and one
// provider. At most one exists per (tenant, provider) pair. The credential
// itself lives in the vault; the connection only holds the opaque handle.
type Connection struct {
	shared.TenantAggregateRoot
	Provider ProviderCode
	Status   ConnectionStatus
	// Reason is set whenever Status is error
	Reason ErrorReason
	// LastError is the most recent connection-level failure, nil when healthy
	LastError *string
	// CredentialHandle points into the vault; uuid.Nil while disconnected
	CredentialHandle uuid.UUID
	// Mappings is the provider-specific field mapping blob; opaque to the engine
	Mappings json.RawMessage
	// LastSyncAt is when the last job for this connection succeeded
	LastSyncAt *time.Time
}

// NewConnection starts the authorization handshake for a tenant/provider
// pair. The connection is created in the authorizing state and only becomes
// connected once the handshake completes.
func NewConnection(tenantID uuid.UUID, provider ProviderCode) (*Connection, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if !provider.IsValid() {
		return nil, ErrInvalidProvider
	}

	conn := &Connection{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Provider:            provider,
		Status:              StatusAuthorizing,
	}
	return conn, nil
}

// transition applies a CAS-style state change, rejecting illegal edges.
func (c *Connection) transition(to ConnectionStatus) error {
	if !CanTransition(c.Status, to) {
		return ErrIllegalTransition
	}
	c.Status = to
	c.UpdatedAt = time.Now()
	return nil
}

// CompleteAuthorize finishes the handshake and binds the vault handle.
func (c *Connection) CompleteAuthorize(handle uuid.UUID) error {
	if c.Status != StatusAuthorizing {
		return ErrIllegalTransition
	}
	if err := c.transition(StatusConnected); err != nil {
		return err
	}
	c.CredentialHandle = handle
	c.Reason = ""
	c.LastError = nil
	c.AddDomainEvent(NewConnectionAuthorizedEvent(c))
	return nil
}

// AbandonAuthorize handles a denied or abandoned handshake: the connection
// falls back to disconnected.
func (c *Connection) AbandonAuthorize() error {
	if c.Status != StatusAuthorizing {
		return ErrIllegalTransition
	}
	return c.transition(StatusDisconnected)
}

// BeginSync moves connected -> syncing around job execution. It blocks
// concurrent mapping edits, not additional queued jobs.
func (c *Connection) BeginSync() error {
	if c.Status != StatusConnected {
		return ErrConnectionNotReady
	}
	return c.transition(StatusSyncing)
}

// FinishSync returns syncing -> connected after a successful job, stamping
// lastSyncAt and clearing the last error.
func (c *Connection) FinishSync(at time.Time) error {
	if err := c.transition(StatusConnected); err != nil {
		return err
	}
	c.LastSyncAt = &at
	c.Reason = ""
	c.LastError = nil
	return nil
}

// MarkError records a connection-level failure. Every entry into the error
// state carries a reason code.
func (c *Connection) MarkError(reason ErrorReason, msg string) error {
	if err := c.transition(StatusError); err != nil {
		return err
	}
	c.Reason = reason
	c.LastError = &msg
	c.AddDomainEvent(NewConnectionErroredEvent(c, reason, msg))
	return nil
}

// Reconnect begins a fresh authorization from the error state. When the
// error reason is auth-expired a full handshake is required; a token refresh
// is not enough to leave the error state.
func (c *Connection) Reconnect() error {
	if c.Status != StatusError {
		return ErrIllegalTransition
	}
	if err := c.transition(StatusAuthorizing); err != nil {
		return err
	}
	c.CredentialHandle = uuid.Nil
	return nil
}

// Revoke moves the connection to disconnected from any state. Callers are
// responsible for revoking the credential and destroying the record.
func (c *Connection) Revoke() {
	c.Status = StatusDisconnected
	c.CredentialHandle = uuid.Nil
	c.UpdatedAt = time.Now()
	c.AddDomainEvent(NewConnectionRevokedEvent(c))
}

// UpdateMappings replaces the provider field mapping blob. Mappings may only
// be mutated while the connection is connected or errored.
func (c *Connection) UpdateMappings(mappings json.RawMessage) error {
	if c.Status != StatusConnected && c.Status != StatusError {
		return ErrMappingsLocked
	}
	c.Mappings = mappings
	c.UpdatedAt = time.Now()
	return nil
}

// CanEnqueue reports whether sync jobs may currently be enqueued. Jobs may
// queue while a sync is running; they wait in the scheduler.
func (c *Connection) CanEnqueue() bool {
	return c.Status == StatusConnected || c.Status == StatusSyncing
}

// NeedsReauthorization reports whether leaving the error state requires a
// fresh handshake rather than a token refresh.
func (c *Connection) NeedsReauthorization() bool {
	return c.Status == StatusError && c.Reason == ErrorReasonAuthExpired
}
