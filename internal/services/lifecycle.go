package services

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/repositories"
)

// EventLifecycle applies the terminal and retry transitions of an event
type EventLifecycle struct {
	events      repositories.EventRepository
	maxAttempts int
	backoffBase time.Duration
	now         func() time.Time
}

// NewEventLifecycle creates the lifecycle from relay settings
func NewEventLifecycle(events repositories.EventRepository, cfg config.RelayConfig) *EventLifecycle {
	return &EventLifecycle{
		events:      events,
		maxAttempts: cfg.MaxRetryAttempts,
		backoffBase: cfg.RetryBackoffBase,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RetryDelay is the wait before the retry that follows retryCount earlier retries
func RetryDelay(base time.Duration, retryCount int) time.Duration {
	return base << uint(retryCount)
}

// MarkDelivered records that at least one destination accepted the event
func (l *EventLifecycle) MarkDelivered(ctx context.Context, event *models.Event) error {
	now := l.now()
	event.Status = models.EventStatusDelivered
	event.ProcessedAt = &now
	event.NextRetryAt = nil

	return errors.Wrap(l.events.UpdateStatus(ctx, event), "failed to mark event delivered")
}

// MarkFailed schedules a retry while the budget lasts, otherwise fails the event
// for good. Non-retryable failures skip the budget entirely.
func (l *EventLifecycle) MarkFailed(ctx context.Context, event *models.Event, reason string, retryable bool) error {
	now := l.now()
	event.ErrorMessage = &reason

	if retryable && event.RetryCount < l.maxAttempts {
		next := now.Add(RetryDelay(l.backoffBase, event.RetryCount))
		event.Status = models.EventStatusRetrying
		event.NextRetryAt = &next
		event.RetryCount++
	} else {
		event.Status = models.EventStatusFailed
		event.ProcessedAt = &now
		event.NextRetryAt = nil
	}

	return errors.Wrap(l.events.UpdateStatus(ctx, event), "failed to mark event failed")
}
