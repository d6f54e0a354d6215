package vault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"gorm.io/gorm"

	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/infrastructure/persistence/models"
)

// SealedVault stores credential bundles encrypted at rest with
// ChaCha20-Poly1305 under a single master key. Connections only ever see the
// opaque record id; raw tokens exist in memory just long enough to hand to
// an adapter.
type SealedVault struct {
	db       *gorm.DB
	aead     cipher.AEAD
	adapters channel.AdapterRegistry
	logger   *zap.Logger
}

// NewSealedVault creates a vault sealing bundles under the given 32-byte key
func NewSealedVault(db *gorm.DB, key []byte, adapters channel.AdapterRegistry, logger *zap.Logger) (*SealedVault, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("vault: invalid master key: %w", err)
	}
	return &SealedVault{
		db:       db,
		aead:     aead,
		adapters: adapters,
		logger:   logger,
	}, nil
}

var _ channel.Vault = (*SealedVault)(nil)

// Store seals and persists a bundle, returning its handle
func (v *SealedVault) Store(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode, bundle *channel.CredentialBundle) (uuid.UUID, error) {
	ciphertext, nonce, err := v.seal(bundle)
	if err != nil {
		return uuid.Nil, err
	}

	now := time.Now()
	record := &models.CredentialRecordModel{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Provider:   provider,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if !bundle.ExpiresAt.IsZero() {
		record.ExpiresAt = &bundle.ExpiresAt
	}

	if err := v.db.WithContext(ctx).Create(record).Error; err != nil {
		return uuid.Nil, err
	}
	return record.ID, nil
}

// Fetch opens the bundle behind a handle. A bundle past its expiry with no
// refresh token is unusable and reported as expired.
func (v *SealedVault) Fetch(ctx context.Context, handle uuid.UUID) (*channel.CredentialBundle, error) {
	record, err := v.load(ctx, handle)
	if err != nil {
		return nil, err
	}

	bundle, err := v.open(record.Ciphertext, record.Nonce)
	if err != nil {
		return nil, err
	}
	if bundle.Expired(time.Now()) && !bundle.Refreshable() {
		return nil, channel.ErrCredentialExpired
	}
	return bundle, nil
}

// Refresh rotates the bundle via the provider adapter. The rotation is an
// optimistic compare-and-swap on the record version: of N concurrent
// refreshers exactly one wins; losers get ErrVersionConflict and re-fetch
// the rotated bundle under the same handle.
func (v *SealedVault) Refresh(ctx context.Context, handle uuid.UUID) (uuid.UUID, error) {
	record, err := v.load(ctx, handle)
	if err != nil {
		return uuid.Nil, err
	}

	bundle, err := v.open(record.Ciphertext, record.Nonce)
	if err != nil {
		return uuid.Nil, err
	}
	if !bundle.Refreshable() {
		return uuid.Nil, channel.ErrRefreshDenied
	}

	adapter, err := v.adapters.Get(record.Provider)
	if err != nil {
		return uuid.Nil, err
	}
	rotated, err := adapter.Refresh(ctx, bundle)
	if err != nil {
		return uuid.Nil, err
	}

	ciphertext, nonce, err := v.seal(rotated)
	if err != nil {
		return uuid.Nil, err
	}

	updates := map[string]interface{}{
		"ciphertext": ciphertext,
		"nonce":      nonce,
		"version":    record.Version + 1,
		"updated_at": time.Now(),
	}
	if !rotated.ExpiresAt.IsZero() {
		updates["expires_at"] = rotated.ExpiresAt
	}

	result := v.db.WithContext(ctx).Model(&models.CredentialRecordModel{}).
		Where("id = ? AND version = ?", handle, record.Version).
		Updates(updates)
	if result.Error != nil {
		return uuid.Nil, result.Error
	}
	if result.RowsAffected == 0 {
		// A concurrent refresher rotated first; its bundle is the live one.
		v.logger.Debug("credential rotation lost the version race",
			zap.String("handle", handle.String()),
		)
		return uuid.Nil, channel.ErrVersionConflict
	}

	return handle, nil
}

// Delete destroys a stored bundle
func (v *SealedVault) Delete(ctx context.Context, handle uuid.UUID) error {
	result := v.db.WithContext(ctx).Delete(&models.CredentialRecordModel{}, "id = ?", handle)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return channel.ErrCredentialNotFound
	}
	return nil
}

func (v *SealedVault) load(ctx context.Context, handle uuid.UUID) (*models.CredentialRecordModel, error) {
	var record models.CredentialRecordModel
	if err := v.db.WithContext(ctx).First(&record, "id = ?", handle).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, channel.ErrCredentialNotFound
		}
		return nil, err
	}
	return &record, nil
}

// seal encrypts a bundle with a fresh random nonce
func (v *SealedVault) seal(bundle *channel.CredentialBundle) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return v.aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// open decrypts a sealed bundle
func (v *SealedVault) open(ciphertext, nonce []byte) (*channel.CredentialBundle, error) {
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to open sealed bundle: %w", err)
	}
	var bundle channel.CredentialBundle
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}
