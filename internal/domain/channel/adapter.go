package channel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// RemoteRecord
// ---------------------------------------------------------------------------

// RecordKind is the entity class a record represents on either side.
type RecordKind string

const (
	RecordKindProduct RecordKind = "product"
	RecordKindListing RecordKind = "listing"
	RecordKindOrder   RecordKind = "order"
)

// RemoteRecord is the provider's view of one entity, normalized into a
// provider-agnostic shape by the adapter. It is ephemeral and never
// persisted.
type RemoteRecord struct {
	// ExternalID is the provider-side identifier
	ExternalID string
	// NaturalKey is the provider-defined match key (e.g. SKU) used to link
	// records that have never been synced
	NaturalKey string
	Kind       RecordKind
	// LastModifiedAt is the remote clock's modification time
	LastModifiedAt time.Time
	Stock          decimal.Decimal
	Price          decimal.Decimal
	Status         string
	// Checksum covers the normalized payload and drives the three-way diff
	Checksum string
}

// RemoteChecksum computes the diffing checksum over a record's normalized
// syncable fields. Both sides of a sync use the same derivation.
func RemoteChecksum(stock, price decimal.Decimal, status string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", stock.String(), price.String(), status)))
	return hex.EncodeToString(sum[:])
}

// ---------------------------------------------------------------------------
// RemoteMutation
// ---------------------------------------------------------------------------

// MutationOp is the kind of write applied to the provider.
type MutationOp string

const (
	MutationOpCreate MutationOp = "create"
	MutationOpUpdate MutationOp = "update"
)

// RemoteMutation is one idempotent write against the provider. The
// IdempotencyToken is derived from the job fingerprint plus the record key,
// so replaying the same plan after a partial failure cannot double-apply.
type RemoteMutation struct {
	Op         MutationOp
	Kind       RecordKind
	ExternalID string
	NaturalKey string
	Stock      decimal.Decimal
	Price      decimal.Decimal
	Status     string
	// IdempotencyToken keys the write on the provider side
	IdempotencyToken string
}

// Ack is the provider's acknowledgement of an applied mutation.
type Ack struct {
	// ExternalID echoes (or assigns, for creates) the provider-side id
	ExternalID string
	// Duplicate is true when the provider had already applied a write with
	// the same idempotency token
	Duplicate bool
}

// ---------------------------------------------------------------------------
// Authorization types
// ---------------------------------------------------------------------------

// AuthInit carries the provider-agnostic inputs of an authorization
// handshake. Providers interpret the fields they need.
type AuthInit struct {
	// Code is the authorization code returned by the provider's consent flow
	Code string
	// ShopDomain is the tenant's shop or realm identifier where applicable
	ShopDomain string
	// RedirectURI must match the one used during consent
	RedirectURI string
}

// AdapterCapabilities declares which sync directions and mechanisms a
// provider supports. The engine never branches on provider identity; it
// branches on capabilities.
type AdapterCapabilities struct {
	// Import means remote records can be pulled into internal state
	Import bool
	// Export means internal records can be pushed to the provider
	Export bool
	// ChangeCursor means ListRemoteRecords supports incremental paging from
	// an opaque cursor instead of full snapshots
	ChangeCursor bool
	// Webhooks means the provider pushes change notifications
	Webhooks bool
}

// ---------------------------------------------------------------------------
// ProviderAdapter Port Interface
// ---------------------------------------------------------------------------

// ProviderAdapter is the port implemented once per external system. It is
// the only place provider-specific request and response shapes live;
// everything above it speaks RemoteRecord and RemoteMutation.
type ProviderAdapter interface {
	// Provider returns the provider code this adapter handles
	Provider() ProviderCode

	// Capabilities declares the sync directions this provider supports
	Capabilities() AdapterCapabilities

	// Authorize completes the OAuth-style handshake and returns the
	// credential bundle to be vaulted
	Authorize(ctx context.Context, init AuthInit) (*CredentialBundle, error)

	// Refresh rotates an expiring bundle. Returns ErrRefreshDenied when the
	// provider rejects the refresh token.
	Refresh(ctx context.Context, bundle *CredentialBundle) (*CredentialBundle, error)

	// ListRemoteRecords pages through the provider's records. A nil cursor
	// starts from the beginning (or the full snapshot for providers without
	// cursor support); the returned cursor is empty on the last page.
	ListRemoteRecords(ctx context.Context, bundle *CredentialBundle, cursor string) ([]RemoteRecord, string, error)

	// ApplyRemoteMutation applies one idempotent write. Errors are
	// classified via Classify: ErrRateLimited, ErrValidation, ErrTransient,
	// ErrAuthExpired.
	ApplyRemoteMutation(ctx context.Context, bundle *CredentialBundle, mutation RemoteMutation) (*Ack, error)

	// Revoke invalidates the credential on the provider side. Best effort:
	// disconnect proceeds regardless of the outcome.
	Revoke(ctx context.Context, bundle *CredentialBundle) error

	// ParseWebhook translates a provider webhook payload into the sync kind
	// it should trigger. The engine never parses provider payloads directly.
	ParseWebhook(payload []byte) (SyncKind, error)
}

// AdapterRegistry provides access to the configured provider adapters.
type AdapterRegistry interface {
	// Get returns the adapter for the given provider code
	Get(provider ProviderCode) (ProviderAdapter, error)

	// List returns all registered adapters
	List() []ProviderAdapter
}
