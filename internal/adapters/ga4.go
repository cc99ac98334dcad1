package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultGA4URL is the Measurement Protocol collection endpoint
const DefaultGA4URL = "https://www.google-analytics.com/mp/collect"

var ga4EventNames = map[string]string{
	"purchase":              "purchase",
	"add_to_cart":           "add_to_cart",
	"begin_checkout":        "begin_checkout",
	"add_payment_info":      "add_payment_info",
	"view_item":             "view_item",
	"search":                "search",
	"lead":                  "generate_lead",
	"complete_registration": "sign_up",
	"subscribe":             "subscribe",
}

// GA4Adapter sends events to the GA4 Measurement Protocol
type GA4Adapter struct {
	direct
}

func NewGA4Adapter(client *http.Client, endpoint string, relay *SgtmAdapter, now func() time.Time) *GA4Adapter {
	return &GA4Adapter{direct{code: CodeGA4, client: client, endpoint: endpoint, relay: relay, now: now}}
}

func (a *GA4Adapter) PlatformCode() string { return CodeGA4 }

func (a *GA4Adapter) ValidateCredentials(creds map[string]interface{}) bool {
	return hasKeys(creds, "measurement_id", "api_secret")
}

func (a *GA4Adapter) Send(ctx context.Context, sc *SendContext) Result {
	if r, routed := a.viaRelay(ctx, sc); routed {
		return r
	}

	measurementID := credString(sc.Credentials, "measurement_id")
	apiSecret := credString(sc.Credentials, "api_secret")
	if measurementID == "" {
		return Fail("Missing measurement_id in credentials")
	}
	if apiSecret == "" {
		return Fail("Missing api_secret in credentials")
	}

	body, err := BuildGA4Payload(sc)
	if err != nil {
		return unexpected(err)
	}

	query := url.Values{"measurement_id": {measurementID}, "api_secret": {apiSecret}}
	res, err := postJSON(ctx, a.client, a.endpoint, query, nil, body)
	if err != nil {
		return transportFailure("GA4", err)
	}
	if statusIn(res.StatusCode, http.StatusOK, http.StatusNoContent) {
		return OK(res.StatusCode, res.Body)
	}
	return FailWithResponse(fmt.Sprintf("GA4 returned %d", res.StatusCode), res.StatusCode, res.Body)
}

// BuildGA4Payload builds a Measurement Protocol body
func BuildGA4Payload(sc *SendContext) (map[string]interface{}, error) {
	payload := sc.Payload

	name, ok := ga4EventNames[sc.EventType]
	if !ok {
		name = sc.EventType
	}

	params := map[string]interface{}{}
	if currency, ok := payload["currency"]; ok {
		params["currency"] = currency
	}
	if value, ok := payload["value"]; ok {
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		params["value"] = f
	}
	if txn, ok := payload["transaction_id"]; ok {
		params["transaction_id"] = txn
	}
	if list, ok := items(payload); ok {
		out := make([]map[string]interface{}, 0, len(list))
		for _, item := range list {
			out = append(out, map[string]interface{}{
				"item_id":   itemID(item),
				"item_name": itemName(item),
				"quantity":  quantity(item),
				"price":     item["price"],
			})
		}
		params["items"] = out
	}

	ud := userData(payload)
	clientID := interface{}("anonymous")
	if truthy(payload["client_id"]) {
		clientID = payload["client_id"]
	} else if truthy(ud["client_id"]) {
		clientID = ud["client_id"]
	}

	body := map[string]interface{}{
		"client_id": clientID,
		"events":    []map[string]interface{}{{"name": name, "params": params}},
	}
	if userID := ud["user_id"]; truthy(userID) {
		body["user_id"] = userID
	}
	return body, nil
}
