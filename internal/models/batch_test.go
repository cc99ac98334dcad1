package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventBatchValidate(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 25, 0, 0, time.UTC)

	empty := &EventBatch{}
	require.ErrorIs(t, empty.Validate(), ErrEmptyBatch)

	upstreamError := &EventBatch{Error: "upstream export failed"}
	require.NoError(t, upstreamError.Validate())

	missingOrder := &EventBatch{Data: []EventBatchItem{{StorefrontID: "acme", EventName: "purchase", EventTime: now}}}
	require.Error(t, missingOrder.Validate())

	ok := &EventBatch{Count: 1, Data: []EventBatchItem{{StorefrontID: "acme", EventName: "purchase", EventTime: now, OrderID: "o-1"}}}
	require.NoError(t, ok.Validate())
}

func TestBatchDecodesHyphenatedTrackingValue(t *testing.T) {
	raw := `{"count":1,"data":[{"t-value":"aff_0123","storefront_id":"bosley","event_name":"Purchase_Completed",
		"event_time":"2026-01-15T10:25:00Z","order_id":"2025020100003333","order_revenue":80.79}],"error":"","next_index":1000}`

	var batch EventBatch
	require.NoError(t, json.Unmarshal([]byte(raw), &batch))
	require.NoError(t, batch.Validate())

	item := batch.Data[0]
	require.Equal(t, "purchase_completed", item.EventType())
	require.Equal(t, "aff_0123", *item.TValue)
}

func TestPayloadDuplicatesRevenueIntoValue(t *testing.T) {
	revenue := 80.79
	session := "sess_456"
	created := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	item := EventBatchItem{
		StorefrontID:     "bosley",
		EventName:        "purchase",
		EventTime:        time.Date(2026, 1, 15, 10, 25, 0, 0, time.UTC),
		OrderID:          "o-1",
		SessionID:        &session,
		OrderCreatedDate: &created,
		OrderRevenue:     &revenue,
	}

	data, err := json.Marshal(item.Payload())
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "2026-01-15T10:25:00Z", decoded["event_time"])
	require.Equal(t, "o-1", decoded["order_id"])
	require.Equal(t, "sess_456", decoded["session_id"])
	require.Equal(t, "2026-01-15T10:00:00Z", decoded["order_created_date"])
	require.Equal(t, 80.79, decoded["order_revenue"])
	require.Equal(t, 80.79, decoded["value"])
	require.NotContains(t, decoded, "utm_source")
	require.NotContains(t, decoded, "t_value")
}

func TestZeroRevenueIsKept(t *testing.T) {
	zero := 0.0
	item := EventBatchItem{OrderID: "o-2", EventTime: time.Now(), OrderRevenue: &zero}

	data, err := json.Marshal(item.Payload())
	require.NoError(t, err)
	require.Contains(t, string(data), `"order_revenue":0`)
	require.Contains(t, string(data), `"value":0`)
}

func TestEventStatusTerminal(t *testing.T) {
	require.True(t, EventStatusDelivered.IsTerminal())
	require.True(t, EventStatusFailed.IsTerminal())
	require.False(t, EventStatusRetrying.IsTerminal())
	require.False(t, EventStatusPending.IsTerminal())
}
