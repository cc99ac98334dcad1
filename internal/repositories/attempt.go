package repositories

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
)

// AttemptRepository stores the append-only delivery audit trail
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.Attempt) error
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Attempt, error)
}

type attemptRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewAttemptRepository creates a new attempt repository
func NewAttemptRepository(db, readOnlyDB *gorm.DB) AttemptRepository {
	return &attemptRepository{db: db, readOnlyDB: readOnlyDB}
}

func (r *attemptRepository) Create(ctx context.Context, attempt *models.Attempt) error {
	return translate(r.db.WithContext(ctx).Create(attempt).Error, "failed to create event attempt")
}

func (r *attemptRepository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Attempt, error) {
	var attempts []models.Attempt
	err := r.readOnlyDB.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("attempted_at ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, translate(err, "failed to list event attempts")
	}
	return attempts, nil
}
