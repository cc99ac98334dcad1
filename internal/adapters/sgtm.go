package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
)

const defaultCustomEndpointPath = "/collect"

var sgtmEventNames = map[string]string{
	"purchase":           "purchase",
	"purchase_completed": "purchase",
	"add_to_cart":        "add_to_cart",
	"remove_from_cart":   "remove_from_cart",
	"begin_checkout":     "begin_checkout",
	"add_payment_info":   "add_payment_info",
	"add_shipping_info":  "add_shipping_info",
	"view_item":          "view_item",
	"view_item_list":     "view_item_list",
	"select_item":        "select_item",
	"view_cart":          "view_cart",

	"lead":                  "generate_lead",
	"generate_lead":         "generate_lead",
	"sign_up":               "sign_up",
	"complete_registration": "sign_up",
	"login":                 "login",

	"rx_issued":         "rx_issued",
	"consult_started":   "consult_started",
	"consult_completed": "consult_completed",

	"search":    "search",
	"share":     "share",
	"subscribe": "subscribe",
	"refund":    "refund",
}

// keys already surfaced as standard GA4 params
var sgtmExcludedKeys = map[string]struct{}{
	"currency": {}, "value": {}, "transaction_id": {}, "items": {}, "user_data": {},
	"client_id": {}, "session_id": {}, "user_id": {}, "order_revenue": {}, "order_id": {},
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {}, "utm_content": {},
	"storefront_id": {}, "event_time": {}, "t_value": {},
}

var utmFields = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

// SgtmAdapter delivers events through a storefront's server-side tag manager
type SgtmAdapter struct {
	client *http.Client
}

// NewSgtmAdapter creates the relay adapter
func NewSgtmAdapter(client *http.Client) *SgtmAdapter {
	return &SgtmAdapter{client: client}
}

func (a *SgtmAdapter) PlatformCode() string { return CodeSgtm }

func (a *SgtmAdapter) ValidateCredentials(creds map[string]interface{}) bool {
	return defaultValidate(creds)
}

// Send posts the event in the shape the relay's client type expects
func (a *SgtmAdapter) Send(ctx context.Context, sc *SendContext) Result {
	relay := sc.Relay
	if relay == nil {
		return Fail("No sGTM configuration found")
	}
	if !relay.IsActive {
		return Fail("sGTM configuration is disabled")
	}

	if relay.ClientType == models.SgtmClientCustom {
		return a.sendCustom(ctx, relay, sc)
	}
	return a.sendGA4(ctx, relay, sc)
}

func (a *SgtmAdapter) sendGA4(ctx context.Context, relay *RelayTarget, sc *SendContext) Result {
	body, err := BuildSgtmGA4Payload(sc)
	if err != nil {
		return Fail(fmt.Sprintf("Unexpected error: %s", err.Error()))
	}

	query := url.Values{}
	if relay.MeasurementID != "" {
		query.Set("measurement_id", relay.MeasurementID)
	}
	if relay.APISecret != "" {
		query.Set("api_secret", relay.APISecret)
	}

	return a.post(ctx, joinURL(relay.URL, "/mp/collect"), query, nil, body)
}

func (a *SgtmAdapter) sendCustom(ctx context.Context, relay *RelayTarget, sc *SendContext) Result {
	body := BuildSgtmCustomPayload(sc)

	path := relay.CustomEndpointPath
	if path == "" {
		path = defaultCustomEndpointPath
	}

	headers := map[string]string{}
	if relay.CustomHeaders != "" {
		var custom map[string]interface{}
		if err := json.Unmarshal([]byte(relay.CustomHeaders), &custom); err != nil {
			log.Warn().Err(err).Msg("Failed to parse custom_headers, ignoring")
		} else {
			for k, v := range custom {
				headers[k] = stringify(v)
			}
		}
	}

	return a.post(ctx, joinURL(relay.URL, path), nil, headers, body)
}

func (a *SgtmAdapter) post(ctx context.Context, endpoint string, query url.Values, headers map[string]string, body interface{}) Result {
	res, err := postJSON(ctx, a.client, endpoint, query, headers, body)
	if err != nil {
		return transportFailure("sGTM", err)
	}

	if statusIn(res.StatusCode, http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent) {
		return OK(res.StatusCode, res.Body)
	}
	return FailWithResponse(
		fmt.Sprintf("sGTM returned %d: %s", res.StatusCode, truncate(res.Body, 500)),
		res.StatusCode,
		res.Body,
	)
}

// BuildSgtmGA4Payload builds a Measurement Protocol body for the relay's GA4 client
func BuildSgtmGA4Payload(sc *SendContext) (map[string]interface{}, error) {
	payload := sc.Payload
	ud := userData(payload)

	clientID := "anonymous"
	for _, candidate := range []interface{}{payload["client_id"], payload["session_id"], ud["client_id"]} {
		if truthy(candidate) {
			clientID = stringify(candidate)
			break
		}
	}

	params, err := sgtmParams(payload, sc.StorefrontCode)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"client_id": clientID,
		"events": []map[string]interface{}{
			{"name": MapSgtmEventName(sc.EventType), "params": params},
		},
	}

	if userID := payload["user_id"]; truthy(userID) {
		body["user_id"] = stringify(userID)
	} else if userID := ud["user_id"]; truthy(userID) {
		body["user_id"] = stringify(userID)
	}

	return body, nil
}

func sgtmParams(payload map[string]interface{}, storefrontCode string) (map[string]interface{}, error) {
	params := map[string]interface{}{}

	_, hasRevenue := payload["order_revenue"]
	if currency, ok := payload["currency"]; ok {
		params["currency"] = currency
	} else if hasRevenue {
		params["currency"] = "USD"
	}

	if value, ok := payload["value"]; ok {
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		params["value"] = f
	} else if hasRevenue {
		f, err := toFloat(payload["order_revenue"])
		if err != nil {
			return nil, err
		}
		params["value"] = f
	}

	if txn, ok := firstPresent(payload, "transaction_id", "order_id"); ok {
		params["transaction_id"] = txn
	}

	if list, ok := payload["items"]; ok {
		params["items"] = list
	}

	for _, field := range utmFields {
		if v, ok := payload[field]; ok {
			params[field] = v
		}
	}

	if storefrontCode != "" {
		params["storefront_id"] = storefrontCode
	} else if sf, ok := payload["storefront_id"]; ok && truthy(sf) {
		params["storefront_id"] = sf
	}

	if tv, ok := payload["t_value"]; ok {
		params["t_value"] = tv
	}

	for k, v := range payload {
		if _, excluded := sgtmExcludedKeys[k]; excluded || strings.HasPrefix(k, "_") {
			continue
		}
		params[k] = v
	}

	return params, nil
}

// BuildSgtmCustomPayload builds the passthrough body for the relay's custom client
func BuildSgtmCustomPayload(sc *SendContext) map[string]interface{} {
	body := map[string]interface{}{"event_name": sc.EventType}
	if sc.StorefrontCode != "" {
		body["storefront_id"] = sc.StorefrontCode
	}
	for k, v := range sc.Payload {
		if _, exists := body[k]; !exists {
			body[k] = v
		}
	}
	return body
}

// MapSgtmEventName maps an event type to its GA4 name; unknown types pass through lower-cased
func MapSgtmEventName(eventType string) string {
	lower := strings.ToLower(eventType)
	if name, ok := sgtmEventNames[lower]; ok {
		return name
	}
	return lower
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
