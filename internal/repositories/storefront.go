package repositories

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
)

// StorefrontRepository provides access to storefronts
type StorefrontRepository interface {
	GetByCode(ctx context.Context, code string) (*models.Storefront, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Storefront, error)
	List(ctx context.Context, activeOnly bool) ([]models.Storefront, error)
	Create(ctx context.Context, storefront *models.Storefront) error
	Update(ctx context.Context, storefront *models.Storefront) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type storefrontRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewStorefrontRepository creates a new storefront repository
func NewStorefrontRepository(db, readOnlyDB *gorm.DB) StorefrontRepository {
	return &storefrontRepository{db: db, readOnlyDB: readOnlyDB}
}

// GetByCode looks a storefront up by its external code
func (r *storefrontRepository) GetByCode(ctx context.Context, code string) (*models.Storefront, error) {
	var storefront models.Storefront
	err := r.readOnlyDB.WithContext(ctx).Where("code = ?", code).First(&storefront).Error
	if err != nil {
		return nil, translate(err, "failed to get storefront by code")
	}
	return &storefront, nil
}

func (r *storefrontRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Storefront, error) {
	var storefront models.Storefront
	err := r.readOnlyDB.WithContext(ctx).Where("id = ?", id).First(&storefront).Error
	if err != nil {
		return nil, translate(err, "failed to get storefront by ID")
	}
	return &storefront, nil
}

func (r *storefrontRepository) List(ctx context.Context, activeOnly bool) ([]models.Storefront, error) {
	var storefronts []models.Storefront
	query := r.readOnlyDB.WithContext(ctx).Order("code")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Find(&storefronts).Error; err != nil {
		return nil, translate(err, "failed to list storefronts")
	}
	return storefronts, nil
}

func (r *storefrontRepository) Create(ctx context.Context, storefront *models.Storefront) error {
	return translate(r.db.WithContext(ctx).Create(storefront).Error, "failed to create storefront")
}

func (r *storefrontRepository) Update(ctx context.Context, storefront *models.Storefront) error {
	return translate(r.db.WithContext(ctx).Save(storefront).Error, "failed to update storefront")
}

func (r *storefrontRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Storefront{})
	if res.Error != nil {
		return translate(res.Error, "failed to delete storefront")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
