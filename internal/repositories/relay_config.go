package repositories

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
)

// RelayConfigRepository provides access to per-storefront sGTM configurations
type RelayConfigRepository interface {
	GetByStorefrontID(ctx context.Context, storefrontID uuid.UUID) (*models.SgtmConfig, error)
	Create(ctx context.Context, cfg *models.SgtmConfig) error
	Update(ctx context.Context, cfg *models.SgtmConfig) error
}

type relayConfigRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewRelayConfigRepository creates a new relay config repository
func NewRelayConfigRepository(db, readOnlyDB *gorm.DB) RelayConfigRepository {
	return &relayConfigRepository{db: db, readOnlyDB: readOnlyDB}
}

func (r *relayConfigRepository) GetByStorefrontID(ctx context.Context, storefrontID uuid.UUID) (*models.SgtmConfig, error) {
	var cfg models.SgtmConfig
	err := r.readOnlyDB.WithContext(ctx).Where("storefront_id = ?", storefrontID).First(&cfg).Error
	if err != nil {
		return nil, translate(err, "failed to get sGTM config")
	}
	return &cfg, nil
}

func (r *relayConfigRepository) Create(ctx context.Context, cfg *models.SgtmConfig) error {
	err := r.db.WithContext(ctx).Omit(clause.Associations).Create(cfg).Error
	return translate(err, "failed to create sGTM config")
}

func (r *relayConfigRepository) Update(ctx context.Context, cfg *models.SgtmConfig) error {
	err := r.db.WithContext(ctx).Omit(clause.Associations).Save(cfg).Error
	return translate(err, "failed to update sGTM config")
}
