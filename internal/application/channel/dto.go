package channel

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/channelsync/engine/internal/domain/channel"
)

// ---------------------------------------------------------------------------
// Request DTOs
// ---------------------------------------------------------------------------

// ConnectRequest carries the inputs of an authorization handshake
type ConnectRequest struct {
	Provider    channel.ProviderCode `json:"provider" validate:"required"`
	Code        string               `json:"code" validate:"required"`
	ShopDomain  string               `json:"shop_domain,omitempty"`
	RedirectURI string               `json:"redirect_uri,omitempty"`
}

// SyncRequest asks for a sync job on a connected provider
type SyncRequest struct {
	Provider channel.ProviderCode `json:"provider" validate:"required"`
	Kind     channel.SyncKind     `json:"kind" validate:"required"`
}

// UpdateMappingsRequest replaces the provider field mapping blob
type UpdateMappingsRequest struct {
	Mappings json.RawMessage `json:"mappings" validate:"required"`
}

// ---------------------------------------------------------------------------
// Response DTOs
// ---------------------------------------------------------------------------

// ConnectionResponse represents a connection in API responses
type ConnectionResponse struct {
	ID         uuid.UUID                `json:"id"`
	Provider   channel.ProviderCode     `json:"provider"`
	Category   channel.ProviderCategory `json:"category"`
	Status     channel.ConnectionStatus `json:"status"`
	Reason     channel.ErrorReason      `json:"reason,omitempty"`
	LastError  string                   `json:"last_error,omitempty"`
	Mappings   json.RawMessage          `json:"mappings,omitempty"`
	LastSyncAt *time.Time               `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

// ToConnectionResponse maps a connection aggregate to its API shape
func ToConnectionResponse(c *channel.Connection) *ConnectionResponse {
	resp := &ConnectionResponse{
		ID:         c.ID,
		Provider:   c.Provider,
		Category:   c.Provider.Category(),
		Status:     c.Status,
		Reason:     c.Reason,
		Mappings:   c.Mappings,
		LastSyncAt: c.LastSyncAt,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
	if c.LastError != nil {
		resp.LastError = *c.LastError
	}
	return resp
}

// SyncJobResponse represents a sync job in API responses
type SyncJobResponse struct {
	ID          uuid.UUID             `json:"id"`
	Provider    channel.ProviderCode  `json:"provider"`
	Kind        channel.SyncKind      `json:"kind"`
	Status      channel.JobStatus     `json:"status"`
	Priority    channel.JobPriority   `json:"priority"`
	Attempt     int                   `json:"attempt"`
	NextRunAt   *time.Time            `json:"next_run_at,omitempty"`
	LastError   string                `json:"last_error,omitempty"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Summary     channel.ResultSummary `json:"summary"`
	// Coalesced is true when the request matched an already-queued job and
	// no new job was created
	Coalesced bool `json:"coalesced,omitempty"`
}

// ToSyncJobResponse maps a sync job to its API shape
func ToSyncJobResponse(j *channel.SyncJob) *SyncJobResponse {
	return &SyncJobResponse{
		ID:          j.ID,
		Provider:    j.Provider,
		Kind:        j.Kind,
		Status:      j.Status,
		Priority:    j.Priority,
		Attempt:     j.Attempt,
		NextRunAt:   j.NextRunAt,
		LastError:   j.LastError,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Summary:     j.Summary,
	}
}

// ---------------------------------------------------------------------------
// Stats DTOs
// ---------------------------------------------------------------------------

// SyncOutcome is the dashboard verdict of a provider's most recent sync
type SyncOutcome string

const (
	OutcomeSucceeded SyncOutcome = "succeeded"
	OutcomeFailed    SyncOutcome = "failed"
	OutcomeNever     SyncOutcome = "never"
	// OutcomeUnknown is reported when the connection has synced before but
	// the job history was pruned past the retention window
	OutcomeUnknown SyncOutcome = "unknown"
)

// ProviderStats aggregates one provider's sync activity for a tenant
type ProviderStats struct {
	Provider      channel.ProviderCode     `json:"provider"`
	Category      channel.ProviderCategory `json:"category"`
	Status        channel.ConnectionStatus `json:"status"`
	LastSyncAt    *time.Time               `json:"last_sync_at,omitempty"`
	LastOutcome   SyncOutcome              `json:"last_outcome"`
	JobsSucceeded int                      `json:"jobs_succeeded"`
	JobsFailed    int                      `json:"jobs_failed"`
	Created       int                      `json:"records_created"`
	Updated       int                      `json:"records_updated"`
	Skipped       int                      `json:"records_skipped"`
	Errored       int                      `json:"records_errored"`
	Conflicts     int                      `json:"conflicts"`
}

// TenantSyncStats is the per-tenant sync dashboard payload
type TenantSyncStats struct {
	TenantID  uuid.UUID       `json:"tenant_id"`
	Providers []ProviderStats `json:"providers"`
}
