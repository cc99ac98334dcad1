package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/apperrors"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/metrics"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/repositories"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/tracing"
)

const rejectEventExists = "Event already exists"

// EventCache is a positive cache of event identifiers already accepted
type EventCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventIDs []string) error
}

// IngestionService validates, deduplicates and stores upstream event batches
type IngestionService struct {
	storefronts repositories.StorefrontRepository
	events      repositories.EventRepository
	cache       EventCache
	metrics     *metrics.Metrics
	tracer      tracing.Tracer
}

// NewIngestionService creates a new ingestion service. cache may be nil.
func NewIngestionService(
	storefronts repositories.StorefrontRepository,
	events repositories.EventRepository,
	cache EventCache,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
) *IngestionService {
	return &IngestionService{
		storefronts: storefronts,
		events:      events,
		cache:       cache,
		metrics:     metricsCollector,
		tracer:      tracer,
	}
}

type storefrontRef struct {
	id     uuid.UUID
	active bool
	found  bool
}

// storefrontLookup resolves storefront codes for one batch call. A fresh
// lookup is built per call so kill-switch state never outlives a batch.
type storefrontLookup struct {
	repo    repositories.StorefrontRepository
	entries map[string]storefrontRef
}

func newStorefrontLookup(repo repositories.StorefrontRepository) *storefrontLookup {
	return &storefrontLookup{repo: repo, entries: make(map[string]storefrontRef)}
}

func (l *storefrontLookup) resolve(ctx context.Context, code string) (storefrontRef, error) {
	if ref, ok := l.entries[code]; ok {
		return ref, nil
	}

	storefront, err := l.repo.GetByCode(ctx, code)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		l.entries[code] = storefrontRef{}
	case err != nil:
		return storefrontRef{}, err
	default:
		l.entries[code] = storefrontRef{id: storefront.ID, active: storefront.IsActive, found: true}
	}
	return l.entries[code], nil
}

// IngestBatch processes every item of the batch in order. Per-item problems are
// reported as rejections; only a malformed batch or a storage failure returns an error.
func (s *IngestionService) IngestBatch(ctx context.Context, batch *models.EventBatch) (*models.IngestResult, error) {
	if err := batch.Validate(); err != nil {
		if errors.Is(err, models.ErrEmptyBatch) {
			return nil, apperrors.Validation("Batch has no events and no error", "data")
		}
		return nil, apperrors.Validation(err.Error(), "")
	}

	// HTTP requests arrive with the middleware's transaction; queue batches open their own
	txn := s.tracer.TransactionFromContext(ctx)
	if txn == nil {
		txn = s.tracer.StartTransaction("ingest-batch")
		defer s.tracer.EndTransaction(txn)
		ctx = s.tracer.NewContext(ctx, txn)
	}
	s.tracer.AddAttribute(txn, "batch_size", len(batch.Data))

	if batch.Error != "" {
		log.Warn().
			Str("upstream_error", batch.Error).
			Int("items", len(batch.Data)).
			Msg("Upstream reported an error with this batch")
	}

	result := &models.IngestResult{
		EventIDs: []string{},
		Errors:   []models.RejectedEvent{},
	}
	lookup := newStorefrontLookup(s.storefronts)
	staged := make([]*models.Event, 0, len(batch.Data))
	stagedIDs := make(map[string]struct{}, len(batch.Data))

	reject := func(eventID, reason string) {
		result.Errors = append(result.Errors, models.RejectedEvent{EventID: eventID, Error: reason})
	}

	span := s.tracer.StartSpan("stage-events", txn)
	for _, item := range batch.Data {
		eventID := item.OrderID

		ref, err := lookup.resolve(ctx, item.StorefrontID)
		if err != nil {
			span.End()
			s.tracer.RecordError(txn, err)
			return nil, errors.Wrap(err, "failed to resolve storefront")
		}
		if !ref.found {
			reject(eventID, fmt.Sprintf("Storefront '%s' not found", item.StorefrontID))
			continue
		}
		if !ref.active {
			reject(eventID, fmt.Sprintf("Storefront '%s' is disabled", item.StorefrontID))
			continue
		}

		if _, dup := stagedIDs[eventID]; dup {
			reject(eventID, rejectEventExists)
			continue
		}
		exists, err := s.exists(ctx, eventID)
		if err != nil {
			span.End()
			s.tracer.RecordError(txn, err)
			return nil, err
		}
		if exists {
			reject(eventID, rejectEventExists)
			continue
		}

		payload, err := json.Marshal(item.Payload())
		if err != nil {
			reject(eventID, fmt.Sprintf("Invalid event payload: %s", err.Error()))
			continue
		}

		storefrontID := ref.id
		code := item.StorefrontID
		staged = append(staged, &models.Event{
			EventID:        eventID,
			StorefrontID:   &storefrontID,
			StorefrontCode: &code,
			EventType:      item.EventType(),
			EventPayload:   string(payload),
			SourceSystem:   models.DefaultSourceSystem,
			Status:         models.EventStatusPending,
		})
		stagedIDs[eventID] = struct{}{}
		result.EventIDs = append(result.EventIDs, eventID)
	}
	span.End()

	if len(staged) > 0 {
		storeSpan := s.tracer.StartSpan("store-events", txn)
		err := s.events.CreateBatch(ctx, staged)
		storeSpan.End()
		if err != nil {
			s.tracer.RecordError(txn, err)
			return nil, errors.Wrap(err, "failed to store event batch")
		}
		s.remember(ctx, result.EventIDs)
	}

	result.Accepted = len(result.EventIDs)
	result.Rejected = len(result.Errors)
	s.metrics.RecordIngest(result.Accepted, result.Rejected)
	s.tracer.AddAttribute(txn, "accepted", result.Accepted)
	s.tracer.AddAttribute(txn, "rejected", result.Rejected)

	log.Info().
		Int("accepted", result.Accepted).
		Int("rejected", result.Rejected).
		Msg("Event batch ingested")

	return result, nil
}

// exists checks the cache first; the store stays the source of truth on a miss
func (s *IngestionService) exists(ctx context.Context, eventID string) (bool, error) {
	if s.cache != nil {
		seen, err := s.cache.Seen(ctx, eventID)
		if err != nil {
			log.Warn().Err(err).Str("event_id", eventID).Msg("Event cache lookup failed, falling back to the store")
		} else if seen {
			return true, nil
		}
	}

	exists, err := s.events.ExistsByEventID(ctx, eventID)
	if err != nil {
		return false, errors.Wrap(err, "failed to check event existence")
	}
	return exists, nil
}

func (s *IngestionService) remember(ctx context.Context, eventIDs []string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Remember(ctx, eventIDs); err != nil {
		log.Warn().Err(err).Int("events", len(eventIDs)).Msg("Failed to cache accepted events")
	}
}
