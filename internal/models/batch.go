package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// EventBatchItem is a single event in an upstream OMS batch
type EventBatchItem struct {
	TValue           *string    `json:"t-value,omitempty"`
	StorefrontID     string     `json:"storefront_id" validate:"required,max=100"`
	EventName        string     `json:"event_name" validate:"required,max=100"`
	EventTime        time.Time  `json:"event_time" validate:"required"`
	OrderID          string     `json:"order_id" validate:"required,max=100"`
	SessionID        *string    `json:"session_id,omitempty"`
	UTMSource        *string    `json:"utm_source,omitempty"`
	UTMMedium        *string    `json:"utm_medium,omitempty"`
	UTMCampaign      *string    `json:"utm_campaign,omitempty"`
	OrderCreatedDate *time.Time `json:"order_created_date,omitempty"`
	OrderShipDate    *time.Time `json:"order_ship_date,omitempty"`
	OrderRevenue     *float64   `json:"order_revenue,omitempty"`
}

// EventBatch is the upstream batch descriptor
type EventBatch struct {
	Count         int              `json:"count"`
	Data          []EventBatchItem `json:"data" validate:"dive"`
	Error         string           `json:"error"`
	NextIndex     *int             `json:"next_index,omitempty"`
	NextURL       *string          `json:"next_url,omitempty"`
	PreviousIndex *string          `json:"previous_index,omitempty"`
	PreviousURL   *string          `json:"previous_url,omitempty"`
}

// Validate checks the batch shape. An empty data list is valid only when the
// upstream reported an error.
func (b *EventBatch) Validate() error {
	if len(b.Data) == 0 && strings.TrimSpace(b.Error) == "" {
		return ErrEmptyBatch
	}
	return validate.Struct(b)
}

// EventType is the normalized event type stored on the event
func (i EventBatchItem) EventType() string {
	return strings.ToLower(i.EventName)
}

// EventPayload is the canonical payload stored with each event
type EventPayload struct {
	EventTime        string   `json:"event_time"`
	OrderID          string   `json:"order_id"`
	TValue           string   `json:"t_value,omitempty"`
	SessionID        string   `json:"session_id,omitempty"`
	UTMSource        string   `json:"utm_source,omitempty"`
	UTMMedium        string   `json:"utm_medium,omitempty"`
	UTMCampaign      string   `json:"utm_campaign,omitempty"`
	OrderCreatedDate string   `json:"order_created_date,omitempty"`
	OrderShipDate    string   `json:"order_ship_date,omitempty"`
	OrderRevenue     *float64 `json:"order_revenue,omitempty"`
	Value            *float64 `json:"value,omitempty"`
}

// Payload builds the canonical payload. Revenue is duplicated into value for
// platforms that read a generic value field.
func (i EventBatchItem) Payload() EventPayload {
	p := EventPayload{
		EventTime: i.EventTime.Format(time.RFC3339),
		OrderID:   i.OrderID,
	}
	p.TValue = deref(i.TValue)
	p.SessionID = deref(i.SessionID)
	p.UTMSource = deref(i.UTMSource)
	p.UTMMedium = deref(i.UTMMedium)
	p.UTMCampaign = deref(i.UTMCampaign)
	if i.OrderCreatedDate != nil {
		p.OrderCreatedDate = i.OrderCreatedDate.Format(time.RFC3339)
	}
	if i.OrderShipDate != nil {
		p.OrderShipDate = i.OrderShipDate.Format(time.RFC3339)
	}
	if i.OrderRevenue != nil {
		revenue := *i.OrderRevenue
		p.OrderRevenue = &revenue
		p.Value = &revenue
	}
	return p
}

// RejectedEvent is a per-item ingestion rejection
type RejectedEvent struct {
	EventID string `json:"event_id"`
	Error   string `json:"error"`
}

// IngestResult reports per-item batch outcomes
type IngestResult struct {
	Accepted int             `json:"accepted"`
	Rejected int             `json:"rejected"`
	EventIDs []string        `json:"event_ids"`
	Errors   []RejectedEvent `json:"errors"`
}

// ProcessStats accumulates forwarding outcomes for one worker iteration
type ProcessStats struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
