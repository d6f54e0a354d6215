package channel

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/channelsync/engine/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// SyncState
// ---------------------------------------------------------------------------

// SyncState is the per-provider sync sub-record of one internal entity. The
// internal record itself is owned by the tenant's catalog subsystem; the
// engine reads a snapshot of its syncable fields and writes only this
// sub-record. LastSyncedChecksum is the common ancestor of the three-way
// diff.
type SyncState struct {
	shared.BaseEntity
	TenantID uuid.UUID
	Provider ProviderCode
	// InternalID identifies the catalog subsystem's record
	InternalID uuid.UUID
	Kind       RecordKind
	// NaturalKey matches never-linked records against remote ones (e.g. SKU)
	NaturalKey string
	// ExternalID is empty until the record is linked to its remote twin
	ExternalID         string
	LastSyncedChecksum string
	LastSyncedAt       *time.Time

	// Snapshot of the internal record's syncable fields, read through the
	// catalog port when the job starts.
	Stock             decimal.Decimal
	Price             decimal.Decimal
	Status            string
	InternalUpdatedAt time.Time
	// ExportEligible marks records the tenant allows to be created remotely
	ExportEligible bool
}

// NewSyncState creates the sync sub-record for an internal entity that has
// never been synced to the given provider.
func NewSyncState(tenantID uuid.UUID, provider ProviderCode, internalID uuid.UUID, kind RecordKind, naturalKey string) *SyncState {
	return &SyncState{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		Provider:   provider,
		InternalID: internalID,
		Kind:       kind,
		NaturalKey: naturalKey,
	}
}

// Linked reports whether the record has a remote twin.
func (s *SyncState) Linked() bool {
	return s.ExternalID != ""
}

// NeverSynced reports whether there is no common ancestor yet.
func (s *SyncState) NeverSynced() bool {
	return s.LastSyncedChecksum == ""
}

// InternalChecksum computes the checksum of the internal snapshot using the
// same derivation the adapters use for remote records.
func (s *SyncState) InternalChecksum() string {
	return RemoteChecksum(s.Stock, s.Price, s.Status)
}

// InternalChanged reports whether the internal side diverged from the last
// synced ancestor. A never-synced record with data counts as changed.
func (s *SyncState) InternalChanged() bool {
	return s.InternalChecksum() != s.LastSyncedChecksum
}

// Link binds the record to its remote twin.
func (s *SyncState) Link(externalID string) {
	s.ExternalID = externalID
	s.UpdatedAt = time.Now()
}

// MarkSynced records a completed reconciliation: the checksum both sides now
// share becomes the new common ancestor.
func (s *SyncState) MarkSynced(checksum string, at time.Time) {
	s.LastSyncedChecksum = checksum
	s.LastSyncedAt = &at
	s.UpdatedAt = at
}

// RecordKey returns the stable key used in summaries, skips and idempotency
// tokens: the external id once linked, otherwise the natural key.
func (s *SyncState) RecordKey() string {
	if s.ExternalID != "" {
		return s.ExternalID
	}
	return s.NaturalKey
}
