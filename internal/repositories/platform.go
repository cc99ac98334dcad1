package repositories

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
)

// PlatformRepository provides access to the platform catalogue
type PlatformRepository interface {
	GetByCode(ctx context.Context, code string) (*models.Platform, error)
	List(ctx context.Context) ([]models.Platform, error)
	Create(ctx context.Context, platform *models.Platform) error
	Upsert(ctx context.Context, platform *models.Platform) error
	Update(ctx context.Context, platform *models.Platform) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type platformRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewPlatformRepository creates a new platform repository
func NewPlatformRepository(db, readOnlyDB *gorm.DB) PlatformRepository {
	return &platformRepository{db: db, readOnlyDB: readOnlyDB}
}

func (r *platformRepository) GetByCode(ctx context.Context, code string) (*models.Platform, error) {
	var platform models.Platform
	err := r.readOnlyDB.WithContext(ctx).Where("code = ?", code).First(&platform).Error
	if err != nil {
		return nil, translate(err, "failed to get platform by code")
	}
	return &platform, nil
}

// List returns platforms ordered by tier, most critical first
func (r *platformRepository) List(ctx context.Context) ([]models.Platform, error) {
	var platforms []models.Platform
	err := r.readOnlyDB.WithContext(ctx).Order("tier").Order("code").Find(&platforms).Error
	if err != nil {
		return nil, translate(err, "failed to list platforms")
	}
	return platforms, nil
}

func (r *platformRepository) Create(ctx context.Context, platform *models.Platform) error {
	return translate(r.db.WithContext(ctx).Create(platform).Error, "failed to create platform")
}

// Upsert inserts the platform or refreshes the catalogue fields of an existing code.
// The active flag of an existing row is left alone.
func (r *platformRepository) Upsert(ctx context.Context, platform *models.Platform) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "category", "tier", "auth_type", "api_base_url", "updated_at"}),
	}).Create(platform).Error
	return translate(err, "failed to upsert platform")
}

func (r *platformRepository) Update(ctx context.Context, platform *models.Platform) error {
	return translate(r.db.WithContext(ctx).Save(platform).Error, "failed to update platform")
}

func (r *platformRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Platform{})
	if res.Error != nil {
		return translate(res.Error, "failed to delete platform")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
