package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/domain/shared"
	"github.com/channelsync/engine/internal/infrastructure/persistence/models"
	"github.com/channelsync/engine/internal/infrastructure/persistence/tenant"
)

// GormSyncStateRepository implements SyncStateRepository using GORM
type GormSyncStateRepository struct {
	db *gorm.DB
}

// NewGormSyncStateRepository creates a new GormSyncStateRepository
func NewGormSyncStateRepository(db *gorm.DB) *GormSyncStateRepository {
	return &GormSyncStateRepository{db: db}
}

var _ channel.SyncStateRepository = (*GormSyncStateRepository)(nil)

// ListForPair returns all sync states for a tenant/provider pair
func (r *GormSyncStateRepository) ListForPair(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode) ([]*channel.SyncState, error) {
	var stateModels []models.SyncStateModel
	if err := tenant.TenantScope(tenantID)(r.db.WithContext(ctx)).
		Where("provider = ?", provider).
		Order("internal_id ASC").
		Find(&stateModels).Error; err != nil {
		return nil, err
	}

	states := make([]*channel.SyncState, len(stateModels))
	for i := range stateModels {
		states[i] = stateModels[i].ToDomain()
	}
	return states, nil
}

// Save persists one sync state
func (r *GormSyncStateRepository) Save(ctx context.Context, state *channel.SyncState) error {
	model := models.SyncStateModelFromDomain(state)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// ApplyInternal applies one internal mutation inside a transaction. The
// write is checksum-gated: a target that already carries the mutation's
// checksum is left untouched and applied is false, which is what makes a
// replayed plan harmless.
func (r *GormSyncStateRepository) ApplyInternal(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode, m channel.InternalMutation) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch m.Op {
		case channel.InternalOpCreate:
			var err error
			applied, err = r.applyCreate(tx, tenantID, provider, m)
			return err
		case channel.InternalOpUpdate:
			var err error
			applied, err = r.applyUpdate(tx, tenantID, provider, m)
			return err
		case channel.InternalOpLink:
			var err error
			applied, err = r.applyLink(tx, tenantID, provider, m)
			return err
		default:
			return shared.ErrInvalidInput
		}
	})
	return applied, err
}

// applyCreate imports a remote record that has no internal twin yet. A
// replay finds the row created by the first apply and does nothing.
func (r *GormSyncStateRepository) applyCreate(tx *gorm.DB, tenantID uuid.UUID, provider channel.ProviderCode, m channel.InternalMutation) (bool, error) {
	var count int64
	if err := tx.Model(&models.SyncStateModel{}).
		Where("tenant_id = ? AND provider = ? AND external_id = ?", tenantID, provider, m.ExternalID).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	now := time.Now()
	state := channel.NewSyncState(tenantID, provider, uuid.New(), m.Kind, m.NaturalKey)
	state.ExternalID = m.ExternalID
	state.Stock = m.Stock
	state.Price = m.Price
	state.Status = m.Status
	state.InternalUpdatedAt = now
	state.MarkSynced(m.Checksum, now)

	return true, tx.Create(models.SyncStateModelFromDomain(state)).Error
}

// applyUpdate writes remote field values onto the internal snapshot.
func (r *GormSyncStateRepository) applyUpdate(tx *gorm.DB, tenantID uuid.UUID, provider channel.ProviderCode, m channel.InternalMutation) (bool, error) {
	var model models.SyncStateModel
	if err := tx.
		Where("tenant_id = ? AND provider = ? AND internal_id = ?", tenantID, provider, m.InternalID).
		First(&model).Error; err != nil {
		return false, err
	}

	state := model.ToDomain()
	if state.InternalChecksum() == m.Checksum {
		// Already applied by a previous run of the same plan.
		return false, nil
	}

	now := time.Now()
	result := tx.Model(&models.SyncStateModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]interface{}{
			"stock":               m.Stock,
			"price":               m.Price,
			"record_status":       m.Status,
			"internal_updated_at": now,
			"updated_at":          now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// applyLink binds an external id to a never-linked record.
func (r *GormSyncStateRepository) applyLink(tx *gorm.DB, tenantID uuid.UUID, provider channel.ProviderCode, m channel.InternalMutation) (bool, error) {
	result := tx.Model(&models.SyncStateModel{}).
		Where("tenant_id = ? AND provider = ? AND internal_id = ? AND external_id = ''", tenantID, provider, m.InternalID).
		Updates(map[string]interface{}{
			"external_id": m.ExternalID,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
