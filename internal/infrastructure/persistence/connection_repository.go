package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/domain/shared"
	"github.com/channelsync/engine/internal/infrastructure/persistence/models"
	"github.com/channelsync/engine/internal/infrastructure/persistence/tenant"
)

// GormConnectionRepository implements ConnectionRepository using GORM
type GormConnectionRepository struct {
	db *gorm.DB
}

// NewGormConnectionRepository creates a new GormConnectionRepository
func NewGormConnectionRepository(db *gorm.DB) *GormConnectionRepository {
	return &GormConnectionRepository{db: db}
}

var _ channel.ConnectionRepository = (*GormConnectionRepository)(nil)

// FindByTenantAndProvider finds the unique connection for a pair. The tenant
// scope is applied up front so the tenant condition always leads the clause.
func (r *GormConnectionRepository) FindByTenantAndProvider(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode) (*channel.Connection, error) {
	var model models.ConnectionModel
	if err := tenant.TenantScope(tenantID)(r.db.WithContext(ctx)).
		Where("provider = ?", provider).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, channel.ErrConnectionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByTenant returns all of a tenant's connections
func (r *GormConnectionRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*channel.Connection, error) {
	var connectionModels []models.ConnectionModel
	if err := tenant.TenantScope(tenantID)(r.db.WithContext(ctx)).
		Order("provider ASC").
		Find(&connectionModels).Error; err != nil {
		return nil, err
	}

	connections := make([]*channel.Connection, len(connectionModels))
	for i := range connectionModels {
		connections[i] = connectionModels[i].ToDomain()
	}
	return connections, nil
}

// FindByStatus returns all connections currently in the given status
func (r *GormConnectionRepository) FindByStatus(ctx context.Context, status channel.ConnectionStatus) ([]*channel.Connection, error) {
	var connectionModels []models.ConnectionModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", status.String()).
		Find(&connectionModels).Error; err != nil {
		return nil, err
	}

	connections := make([]*channel.Connection, len(connectionModels))
	for i := range connectionModels {
		connections[i] = connectionModels[i].ToDomain()
	}
	return connections, nil
}

// Save creates or updates a connection under an optimistic version check.
// A lost race returns shared.ErrConcurrencyConflict; the caller reloads and
// retries against the winner's state.
func (r *GormConnectionRepository) Save(ctx context.Context, conn *channel.Connection) error {
	model := models.ConnectionModelFromDomain(conn)

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ConnectionModel{}).
		Where("id = ?", conn.ID).
		Count(&count).Error; err != nil {
		return err
	}

	if count == 0 {
		return r.db.WithContext(ctx).Create(model).Error
	}

	result := r.db.WithContext(ctx).Model(&models.ConnectionModel{}).
		Where("id = ? AND version = ?", conn.ID, conn.Version).
		Updates(map[string]interface{}{
			"status":            model.Status,
			"reason":            model.Reason,
			"last_error":        model.LastError,
			"credential_handle": model.CredentialHandle,
			"mappings":          model.Mappings,
			"last_sync_at":      model.LastSyncAt,
			"version":           conn.Version + 1,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	conn.IncrementVersion()
	return nil
}

// TransitionStatus performs a compare-and-swap status change directly in the
// store. The row-level CAS is what serializes racing workers: only one of
// two concurrent connected -> syncing transitions can win.
func (r *GormConnectionRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to channel.ConnectionStatus) error {
	if !channel.CanTransition(from, to) {
		return channel.ErrIllegalTransition
	}

	result := r.db.WithContext(ctx).Model(&models.ConnectionModel{}).
		Where("id = ? AND status = ?", id, from.String()).
		Updates(map[string]interface{}{
			"status":     to.String(),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.ConnectionModel{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return channel.ErrConnectionNotFound
		}
		return channel.ErrIllegalTransition
	}
	return nil
}

// Delete destroys a connection record. Disconnect is a hard delete.
func (r *GormConnectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.ConnectionModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return channel.ErrConnectionNotFound
	}
	return nil
}
