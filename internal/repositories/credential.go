package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
)

// CredentialRepository provides access to platform credentials
type CredentialRepository interface {
	GetActiveForStorefront(ctx context.Context, storefrontID uuid.UUID) ([]models.Credential, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error)
	Create(ctx context.Context, credential *models.Credential) error
	UpdateLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time, lastError *string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type credentialRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db, readOnlyDB *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db, readOnlyDB: readOnlyDB}
}

// GetActiveForStorefront returns the deliverable credentials of a storefront: the
// credential, its platform and the storefront itself must all be active. Ordered by
// platform tier, then creation time.
func (r *credentialRepository) GetActiveForStorefront(ctx context.Context, storefrontID uuid.UUID) ([]models.Credential, error) {
	var credentials []models.Credential
	err := r.readOnlyDB.WithContext(ctx).
		Joins("JOIN platforms ON platforms.id = platform_credentials.platform_id").
		Joins("JOIN storefronts ON storefronts.id = platform_credentials.storefront_id").
		Where("platform_credentials.storefront_id = ?", storefrontID).
		Where("platform_credentials.is_active = ? AND platforms.is_active = ? AND storefronts.is_active = ?", true, true, true).
		Order("platforms.tier ASC").
		Order("platform_credentials.created_at ASC").
		Preload("Platform").
		Preload("Storefront").
		Find(&credentials).Error
	if err != nil {
		return nil, translate(err, "failed to get active credentials")
	}
	return credentials, nil
}

func (r *credentialRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	var credential models.Credential
	err := r.readOnlyDB.WithContext(ctx).Preload("Platform").Where("id = ?", id).First(&credential).Error
	if err != nil {
		return nil, translate(err, "failed to get credential by ID")
	}
	return &credential, nil
}

func (r *credentialRepository) Create(ctx context.Context, credential *models.Credential) error {
	err := r.db.WithContext(ctx).Omit(clause.Associations).Create(credential).Error
	return translate(err, "failed to create credential")
}

// UpdateLastUsed stamps the credential after a delivery attempt. A nil lastError clears it.
func (r *credentialRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time, lastError *string) error {
	err := r.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_used_at": usedAt,
			"last_error":   lastError,
		}).Error
	return translate(err, "failed to update credential usage")
}

func (r *credentialRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Credential{})
	if res.Error != nil {
		return translate(res.Error, "failed to delete credential")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
