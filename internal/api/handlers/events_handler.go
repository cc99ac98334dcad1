package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/apperrors"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/repositories"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/tracing"
)

// BatchIngester stores upstream event batches
type BatchIngester interface {
	IngestBatch(ctx context.Context, batch *models.EventBatch) (*models.IngestResult, error)
}

// EventReader exposes event status for operators
type EventReader interface {
	GetByEventID(ctx context.Context, eventID string) (*models.Event, error)
	CountByStatus(ctx context.Context) (map[models.EventStatus]int64, error)
}

// EventsHandler handles event ingestion and lookup requests
type EventsHandler struct {
	ingester BatchIngester
	events   EventReader
	tracer   tracing.Tracer
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(ingester BatchIngester, events EventReader, tracer tracing.Tracer) *EventsHandler {
	return &EventsHandler{
		ingester: ingester,
		events:   events,
		tracer:   tracer,
	}
}

// HandleIngest accepts a batch and replies 202 with per-item outcomes
func (h *EventsHandler) HandleIngest(c *gin.Context) {
	txn := h.tracer.TransactionFromContext(c.Request.Context())

	var batch models.EventBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		log.Warn().Err(err).Msg("Invalid batch body")
		h.tracer.RecordError(txn, err)
		writeError(c, apperrors.Validation(err.Error(), ""))
		return
	}
	h.tracer.AddAttribute(txn, "count", batch.Count)

	result, err := h.ingester.IngestBatch(c.Request.Context(), &batch)
	if err != nil {
		h.tracer.RecordError(txn, err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, result)
}

// HandleGetEvent returns an event with its delivery attempts
func (h *EventsHandler) HandleGetEvent(c *gin.Context) {
	eventID := c.Param("event_id")

	event, err := h.events.GetByEventID(c.Request.Context(), eventID)
	if errors.Is(err, repositories.ErrNotFound) {
		writeError(c, apperrors.NotFound("Event", eventID))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// HandleStats returns event counts per status
func (h *EventsHandler) HandleStats(c *gin.Context) {
	counts, err := h.events.CountByStatus(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": counts})
}

// RegisterRoutes registers the handler's routes
func (h *EventsHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/events", h.HandleIngest)
	group.GET("/events/stats", h.HandleStats)
	group.GET("/events/:event_id", h.HandleGetEvent)
}
