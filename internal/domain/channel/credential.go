package channel

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// CredentialBundle
// ---------------------------------------------------------------------------

// CredentialBundle is the opaque per-connection credential material an
// adapter needs to call its provider. The engine never inspects tokens; it
// only moves bundles between the vault and adapters.
type CredentialBundle struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	TokenType    string            `json:"token_type,omitempty"`
	ExpiresAt    time.Time         `json:"expires_at,omitzero"`
	Scopes       []string          `json:"scopes,omitempty"`
	// AccountID is the provider-side account or shop the bundle belongs to
	AccountID string `json:"account_id,omitempty"`
	// Extra carries provider-specific material (realm ids, API domains)
	Extra map[string]string `json:"extra,omitempty"`
}

// Expired reports whether the access token is past its expiry. Bundles
// without an expiry never expire locally.
func (b *CredentialBundle) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt)
}

// Refreshable reports whether the bundle carries a refresh token.
func (b *CredentialBundle) Refreshable() bool {
	return b.RefreshToken != ""
}

// ---------------------------------------------------------------------------
// Vault Port Interface
// ---------------------------------------------------------------------------

// Vault stores and rotates credential bundles. Connections hold only the
// opaque handle, never the raw secret. Rotation is guarded by a monotonic
// version so concurrent refreshers converge on one winner; losers receive
// ErrVersionConflict and retry with the winner's handle.
type Vault interface {
	// Store seals and persists a bundle, returning its handle
	Store(ctx context.Context, tenantID uuid.UUID, provider ProviderCode, bundle *CredentialBundle) (uuid.UUID, error)

	// Fetch opens the bundle behind a handle. Returns ErrCredentialExpired
	// for bundles past their expiry with no refresh token.
	Fetch(ctx context.Context, handle uuid.UUID) (*CredentialBundle, error)

	// Refresh rotates the bundle via the provider adapter and returns the
	// handle of the rotated credential (the same handle, at a new version).
	// Returns ErrRefreshDenied when the provider rejects the refresh token
	// and ErrVersionConflict when a concurrent refresh won the rotation.
	Refresh(ctx context.Context, handle uuid.UUID) (uuid.UUID, error)

	// Delete destroys a stored bundle. Used on disconnect after best-effort
	// provider-side revocation.
	Delete(ctx context.Context, handle uuid.UUID) error
}
