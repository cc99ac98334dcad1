package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
)

// EventRepository provides access to marketing events and their lifecycle columns
type EventRepository interface {
	ExistsByEventID(ctx context.Context, eventID string) (bool, error)
	CreateBatch(ctx context.Context, events []*models.Event) error
	GetPending(ctx context.Context, limit int) ([]models.Event, error)
	GetDueRetries(ctx context.Context, now time.Time, limit int) ([]models.Event, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateStatus(ctx context.Context, event *models.Event) error
	GetByEventID(ctx context.Context, eventID string) (*models.Event, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	CountByStatus(ctx context.Context) (map[models.EventStatus]int64, error)
}

type eventRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db, readOnlyDB *gorm.DB) EventRepository {
	return &eventRepository{db: db, readOnlyDB: readOnlyDB}
}

// ExistsByEventID reads from the primary; a lagging replica would let duplicates through
func (r *eventRepository) ExistsByEventID(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Event{}).Where("event_id = ?", eventID).Count(&count).Error
	if err != nil {
		return false, translate(err, "failed to check event existence")
	}
	return count > 0, nil
}

// CreateBatch inserts all events in one transaction
func (r *eventRepository) CreateBatch(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit("Attempts").Create(events).Error
	})
	return translate(err, "failed to insert events")
}

// GetPending returns the oldest pending events
func (r *eventRepository) GetPending(ctx context.Context, limit int) ([]models.Event, error) {
	var events []models.Event
	err := r.db.WithContext(ctx).
		Where("status = ?", models.EventStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, translate(err, "failed to get pending events")
	}
	return events, nil
}

// GetDueRetries returns retrying events whose retry time has passed
func (r *eventRepository) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]models.Event, error) {
	var events []models.Event
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", models.EventStatusRetrying, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, translate(err, "failed to get due retries")
	}
	return events, nil
}

// Claim moves an event from pending or retrying to processing. It reports false
// when another worker got there first or the event is no longer eligible.
func (r *eventRepository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ? AND status IN ?", id, []models.EventStatus{models.EventStatusPending, models.EventStatusRetrying}).
		Update("status", models.EventStatusProcessing)
	if res.Error != nil {
		return false, translate(res.Error, "failed to claim event")
	}
	return res.RowsAffected == 1, nil
}

// UpdateStatus persists the lifecycle columns of the event
func (r *eventRepository) UpdateStatus(ctx context.Context, event *models.Event) error {
	err := r.db.WithContext(ctx).
		Model(event).
		Select("status", "retry_count", "next_retry_at", "processed_at", "error_message", "updated_at").
		Updates(event).Error
	return translate(err, "failed to update event status")
}

func (r *eventRepository) GetByEventID(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := r.readOnlyDB.WithContext(ctx).
		Preload("Attempts", func(db *gorm.DB) *gorm.DB { return db.Order("attempted_at ASC") }).
		Where("event_id = ?", eventID).
		First(&event).Error
	if err != nil {
		return nil, translate(err, "failed to get event by event ID")
	}
	return &event, nil
}

func (r *eventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := r.readOnlyDB.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if err != nil {
		return nil, translate(err, "failed to get event by ID")
	}
	return &event, nil
}

// CountByStatus returns the number of events in each lifecycle state
func (r *eventRepository) CountByStatus(ctx context.Context) (map[models.EventStatus]int64, error) {
	var rows []struct {
		Status models.EventStatus
		Count  int64
	}
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Event{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, "failed to count events by status")
	}

	counts := make(map[models.EventStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
