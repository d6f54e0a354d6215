package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/channelsync/engine/internal/domain/channel"
)

// ---------------------------------------------------------------------------
// ConnectionModel
// ---------------------------------------------------------------------------

// ConnectionModel is the persistence model for the Connection aggregate.
// The unique (tenant_id, provider) index enforces at most one connection per
// pair.
type ConnectionModel struct {
	ID               uuid.UUID            `gorm:"type:uuid;primary_key"`
	TenantID         uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_connection_tenant_provider,priority:1"`
	Provider         channel.ProviderCode `gorm:"type:varchar(20);not null;uniqueIndex:idx_connection_tenant_provider,priority:2"`
	Status           string               `gorm:"type:varchar(20);not null;index"`
	Reason           string               `gorm:"type:varchar(30)"`
	LastError        *string              `gorm:"type:text"`
	CredentialHandle uuid.UUID            `gorm:"type:uuid"`
	Mappings         string               `gorm:"type:jsonb;column:mappings"`
	LastSyncAt       *time.Time           `gorm:""`
	Version          int                  `gorm:"not null;default:1"`
	CreatedAt        time.Time            `gorm:"not null"`
	UpdatedAt        time.Time            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ConnectionModel) TableName() string {
	return "connections"
}

// ToDomain converts the persistence model to a domain Connection aggregate.
func (m *ConnectionModel) ToDomain() *channel.Connection {
	conn := &channel.Connection{
		Provider:         m.Provider,
		Status:           channel.ConnectionStatus(m.Status),
		Reason:           channel.ErrorReason(m.Reason),
		LastError:        m.LastError,
		CredentialHandle: m.CredentialHandle,
		LastSyncAt:       m.LastSyncAt,
	}
	conn.ID = m.ID
	conn.TenantID = m.TenantID
	conn.Version = m.Version
	conn.CreatedAt = m.CreatedAt
	conn.UpdatedAt = m.UpdatedAt
	if m.Mappings != "" {
		conn.Mappings = json.RawMessage(m.Mappings)
	}
	return conn
}

// FromDomain populates the persistence model from a domain Connection.
func (m *ConnectionModel) FromDomain(c *channel.Connection) {
	m.ID = c.ID
	m.TenantID = c.TenantID
	m.Provider = c.Provider
	m.Status = c.Status.String()
	m.Reason = string(c.Reason)
	m.LastError = c.LastError
	m.CredentialHandle = c.CredentialHandle
	m.LastSyncAt = c.LastSyncAt
	m.Version = c.Version
	m.CreatedAt = c.CreatedAt
	m.UpdatedAt = c.UpdatedAt
	if len(c.Mappings) > 0 {
		m.Mappings = string(c.Mappings)
	} else {
		m.Mappings = "{}"
	}
}

// ConnectionModelFromDomain creates a new persistence model from a domain Connection.
func ConnectionModelFromDomain(c *channel.Connection) *ConnectionModel {
	m := &ConnectionModel{}
	m.FromDomain(c)
	return m
}

// ---------------------------------------------------------------------------
// SyncJobModel
// ---------------------------------------------------------------------------

// SyncJobModel is the persistence model for sync jobs. The
// (tenant_id, provider, status) index backs the at-most-one-active-job
// lookup; completed_at is indexed for pruning.
type SyncJobModel struct {
	ID              uuid.UUID            `gorm:"type:uuid;primary_key"`
	TenantID        uuid.UUID            `gorm:"type:uuid;not null;index:idx_sync_job_pair_status,priority:1"`
	Provider        channel.ProviderCode `gorm:"type:varchar(20);not null;index:idx_sync_job_pair_status,priority:2"`
	Kind            channel.SyncKind     `gorm:"type:varchar(20);not null"`
	Status          string               `gorm:"type:varchar(20);not null;index:idx_sync_job_pair_status,priority:3"`
	Priority        int                  `gorm:"not null;default:0"`
	Attempt         int                  `gorm:"not null;default:0"`
	NextRunAt       *time.Time           `gorm:"index"`
	Fingerprint     string               `gorm:"type:varchar(64);not null"`
	CancelRequested bool                 `gorm:"not null;default:false"`
	LastError       string               `gorm:"type:text"`
	StartedAt       *time.Time           `gorm:""`
	CompletedAt     *time.Time           `gorm:"index"`
	SummaryJSON     string               `gorm:"type:jsonb;column:summary"`
	CreatedAt       time.Time            `gorm:"not null"`
	UpdatedAt       time.Time            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncJobModel) TableName() string {
	return "sync_jobs"
}

// ToDomain converts the persistence model to a domain SyncJob.
func (m *SyncJobModel) ToDomain() *channel.SyncJob {
	job := &channel.SyncJob{
		TenantID:        m.TenantID,
		Provider:        m.Provider,
		Kind:            m.Kind,
		Status:          channel.JobStatus(m.Status),
		Priority:        channel.JobPriority(m.Priority),
		Attempt:         m.Attempt,
		NextRunAt:       m.NextRunAt,
		Fingerprint:     m.Fingerprint,
		CancelRequested: m.CancelRequested,
		LastError:       m.LastError,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
	}
	job.ID = m.ID
	job.CreatedAt = m.CreatedAt
	job.UpdatedAt = m.UpdatedAt
	if m.SummaryJSON != "" {
		_ = json.Unmarshal([]byte(m.SummaryJSON), &job.Summary)
	}
	return job
}

// FromDomain populates the persistence model from a domain SyncJob.
func (m *SyncJobModel) FromDomain(j *channel.SyncJob) {
	m.ID = j.ID
	m.TenantID = j.TenantID
	m.Provider = j.Provider
	m.Kind = j.Kind
	m.Status = j.Status.String()
	m.Priority = int(j.Priority)
	m.Attempt = j.Attempt
	m.NextRunAt = j.NextRunAt
	m.Fingerprint = j.Fingerprint
	m.CancelRequested = j.CancelRequested
	m.LastError = j.LastError
	m.StartedAt = j.StartedAt
	m.CompletedAt = j.CompletedAt
	m.CreatedAt = j.CreatedAt
	m.UpdatedAt = j.UpdatedAt
	if data, err := json.Marshal(j.Summary); err == nil {
		m.SummaryJSON = string(data)
	}
}

// SyncJobModelFromDomain creates a new persistence model from a domain SyncJob.
func SyncJobModelFromDomain(j *channel.SyncJob) *SyncJobModel {
	m := &SyncJobModel{}
	m.FromDomain(j)
	return m
}

// ---------------------------------------------------------------------------
// SyncStateModel
// ---------------------------------------------------------------------------

// SyncStateModel is the persistence model for per-provider sync sub-records.
// One row per (tenant, provider, internal record).
type SyncStateModel struct {
	ID                 uuid.UUID            `gorm:"type:uuid;primary_key"`
	TenantID           uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_sync_state_record,priority:1;index:idx_sync_state_pair,priority:1"`
	Provider           channel.ProviderCode `gorm:"type:varchar(20);not null;uniqueIndex:idx_sync_state_record,priority:2;index:idx_sync_state_pair,priority:2"`
	InternalID         uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_sync_state_record,priority:3"`
	Kind               channel.RecordKind   `gorm:"type:varchar(20);not null"`
	NaturalKey         string               `gorm:"type:varchar(100);index"`
	ExternalID         string               `gorm:"type:varchar(100);index"`
	LastSyncedChecksum string               `gorm:"type:varchar(64)"`
	LastSyncedAt       *time.Time           `gorm:""`
	Stock              decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0"`
	Price              decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0"`
	RecordStatus       string               `gorm:"type:varchar(30);column:record_status"`
	InternalUpdatedAt  time.Time            `gorm:""`
	ExportEligible     bool                 `gorm:"not null;default:false"`
	CreatedAt          time.Time            `gorm:"not null"`
	UpdatedAt          time.Time            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncStateModel) TableName() string {
	return "sync_states"
}

// ToDomain converts the persistence model to a domain SyncState.
func (m *SyncStateModel) ToDomain() *channel.SyncState {
	state := &channel.SyncState{
		TenantID:           m.TenantID,
		Provider:           m.Provider,
		InternalID:         m.InternalID,
		Kind:               m.Kind,
		NaturalKey:         m.NaturalKey,
		ExternalID:         m.ExternalID,
		LastSyncedChecksum: m.LastSyncedChecksum,
		LastSyncedAt:       m.LastSyncedAt,
		Stock:              m.Stock,
		Price:              m.Price,
		Status:             m.RecordStatus,
		InternalUpdatedAt:  m.InternalUpdatedAt,
		ExportEligible:     m.ExportEligible,
	}
	state.ID = m.ID
	state.CreatedAt = m.CreatedAt
	state.UpdatedAt = m.UpdatedAt
	return state
}

// FromDomain populates the persistence model from a domain SyncState.
func (m *SyncStateModel) FromDomain(s *channel.SyncState) {
	m.ID = s.ID
	m.TenantID = s.TenantID
	m.Provider = s.Provider
	m.InternalID = s.InternalID
	m.Kind = s.Kind
	m.NaturalKey = s.NaturalKey
	m.ExternalID = s.ExternalID
	m.LastSyncedChecksum = s.LastSyncedChecksum
	m.LastSyncedAt = s.LastSyncedAt
	m.Stock = s.Stock
	m.Price = s.Price
	m.RecordStatus = s.Status
	m.InternalUpdatedAt = s.InternalUpdatedAt
	m.ExportEligible = s.ExportEligible
	m.CreatedAt = s.CreatedAt
	m.UpdatedAt = s.UpdatedAt
}

// SyncStateModelFromDomain creates a new persistence model from a domain SyncState.
func SyncStateModelFromDomain(s *channel.SyncState) *SyncStateModel {
	m := &SyncStateModel{}
	m.FromDomain(s)
	return m
}

// ---------------------------------------------------------------------------
// CredentialRecordModel
// ---------------------------------------------------------------------------

// CredentialRecordModel stores one sealed credential bundle. The ciphertext
// is opaque; version guards concurrent refresh rotation.
type CredentialRecordModel struct {
	ID         uuid.UUID            `gorm:"type:uuid;primary_key"`
	TenantID   uuid.UUID            `gorm:"type:uuid;not null;index"`
	Provider   channel.ProviderCode `gorm:"type:varchar(20);not null"`
	Ciphertext []byte               `gorm:"type:bytea;not null"`
	Nonce      []byte               `gorm:"type:bytea;not null"`
	ExpiresAt  *time.Time           `gorm:""`
	Version    int                  `gorm:"not null;default:1"`
	CreatedAt  time.Time            `gorm:"not null"`
	UpdatedAt  time.Time            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CredentialRecordModel) TableName() string {
	return "credential_records"
}
