package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/infrastructure/persistence/models"
	"github.com/channelsync/engine/internal/infrastructure/persistence/tenant"
)

// terminalStatuses enumerates the job states a job never leaves.
var terminalStatuses = []string{
	channel.JobStatusSucceeded.String(),
	channel.JobStatusFailed.String(),
	channel.JobStatusCancelled.String(),
}

// GormSyncJobRepository implements SyncJobRepository using GORM
type GormSyncJobRepository struct {
	db *gorm.DB
}

// NewGormSyncJobRepository creates a new GormSyncJobRepository
func NewGormSyncJobRepository(db *gorm.DB) *GormSyncJobRepository {
	return &GormSyncJobRepository{db: db}
}

var _ channel.SyncJobRepository = (*GormSyncJobRepository)(nil)

// FindByID finds a job by id
func (r *GormSyncJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*channel.SyncJob, error) {
	var model models.SyncJobModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, channel.ErrJobNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindActive returns the non-terminal job for a pair. At most one exists;
// duplicates coalesce in the scheduler before they reach the store.
func (r *GormSyncJobRepository) FindActive(ctx context.Context, tenantID uuid.UUID, provider channel.ProviderCode) (*channel.SyncJob, error) {
	var model models.SyncJobModel
	if err := tenant.TenantScope(tenantID)(r.db.WithContext(ctx)).
		Where("provider = ?", provider).
		Where("status NOT IN ?", terminalStatuses).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, channel.ErrJobNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindRecent returns a tenant's jobs newest first
func (r *GormSyncJobRepository) FindRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]*channel.SyncJob, error) {
	var jobModels []models.SyncJobModel
	if err := tenant.TenantScope(tenantID)(r.db.WithContext(ctx)).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobModels).Error; err != nil {
		return nil, err
	}

	jobs := make([]*channel.SyncJob, len(jobModels))
	for i := range jobModels {
		jobs[i] = jobModels[i].ToDomain()
	}
	return jobs, nil
}

// Save creates or updates a job
func (r *GormSyncJobRepository) Save(ctx context.Context, job *channel.SyncJob) error {
	model := models.SyncJobModelFromDomain(job)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// PruneTerminalBefore removes terminal jobs whose completion predates the
// cutoff. Stats over pruned windows degrade to unknown rather than lying.
func (r *GormSyncJobRepository) PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN ? AND completed_at < ?", terminalStatuses, cutoff).
		Delete(&models.SyncJobModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
