package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
)

// Mock repositories for testing
type MockStorefrontRepository struct {
	mock.Mock
}

func (m *MockStorefrontRepository) GetByCode(ctx context.Context, code string) (*models.Storefront, error) {
	args := m.Called(ctx, code)
	storefront, _ := args.Get(0).(*models.Storefront)
	return storefront, args.Error(1)
}

func (m *MockStorefrontRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Storefront, error) {
	args := m.Called(ctx, id)
	storefront, _ := args.Get(0).(*models.Storefront)
	return storefront, args.Error(1)
}

func (m *MockStorefrontRepository) List(ctx context.Context, activeOnly bool) ([]models.Storefront, error) {
	args := m.Called(ctx, activeOnly)
	return args.Get(0).([]models.Storefront), args.Error(1)
}

func (m *MockStorefrontRepository) Create(ctx context.Context, storefront *models.Storefront) error {
	return m.Called(ctx, storefront).Error(0)
}

func (m *MockStorefrontRepository) Update(ctx context.Context, storefront *models.Storefront) error {
	return m.Called(ctx, storefront).Error(0)
}

func (m *MockStorefrontRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) ExistsByEventID(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventRepository) CreateBatch(ctx context.Context, events []*models.Event) error {
	return m.Called(ctx, events).Error(0)
}

func (m *MockEventRepository) GetPending(ctx context.Context, limit int) ([]models.Event, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.Event), args.Error(1)
}

func (m *MockEventRepository) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]models.Event, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]models.Event), args.Error(1)
}

func (m *MockEventRepository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventRepository) UpdateStatus(ctx context.Context, event *models.Event) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockEventRepository) GetByEventID(ctx context.Context, eventID string) (*models.Event, error) {
	args := m.Called(ctx, eventID)
	event, _ := args.Get(0).(*models.Event)
	return event, args.Error(1)
}

func (m *MockEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	args := m.Called(ctx, id)
	event, _ := args.Get(0).(*models.Event)
	return event, args.Error(1)
}

func (m *MockEventRepository) CountByStatus(ctx context.Context) (map[models.EventStatus]int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[models.EventStatus]int64), args.Error(1)
}

// Mock event cache for testing
type MockEventCache struct {
	mock.Mock
}

func (m *MockEventCache) Seen(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventCache) Remember(ctx context.Context, eventIDs []string) error {
	return m.Called(ctx, eventIDs).Error(0)
}
