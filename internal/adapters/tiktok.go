package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultTikTokURL is the TikTok Events API pixel tracking endpoint
const DefaultTikTokURL = "https://business-api.tiktok.com/open_api/v1.3/pixel/track"

var tiktokEventNames = map[string]string{
	"purchase":              "CompletePayment",
	"add_to_cart":           "AddToCart",
	"begin_checkout":        "InitiateCheckout",
	"add_payment_info":      "AddPaymentInfo",
	"view_item":             "ViewContent",
	"search":                "Search",
	"lead":                  "SubmitForm",
	"complete_registration": "CompleteRegistration",
	"subscribe":             "Subscribe",
}

// TikTokAdapter sends events to the TikTok Events API
type TikTokAdapter struct {
	direct
}

func NewTikTokAdapter(client *http.Client, endpoint string, relay *SgtmAdapter, now func() time.Time) *TikTokAdapter {
	return &TikTokAdapter{direct{code: CodeTikTok, client: client, endpoint: endpoint, relay: relay, now: now}}
}

func (a *TikTokAdapter) PlatformCode() string { return CodeTikTok }

func (a *TikTokAdapter) ValidateCredentials(creds map[string]interface{}) bool {
	return hasKeys(creds, "access_token")
}

type tiktokResponse struct {
	Code    *int   `json:"code"`
	Message string `json:"message"`
}

func (a *TikTokAdapter) Send(ctx context.Context, sc *SendContext) Result {
	if r, routed := a.viaRelay(ctx, sc); routed {
		return r
	}

	accessToken := credString(sc.Credentials, "access_token")
	pixelCode := firstNonEmpty(sc.PixelID, credString(sc.Credentials, "pixel_code"))
	if accessToken == "" {
		return Fail("Missing access_token in credentials")
	}
	if pixelCode == "" {
		return Fail("Missing pixel_code")
	}

	event, err := BuildTikTokEvent(sc, pixelCode, a.now())
	if err != nil {
		return unexpected(err)
	}

	headers := map[string]string{"Access-Token": accessToken}
	res, err := postJSON(ctx, a.client, a.endpoint, nil, headers, event)
	if err != nil {
		return transportFailure("TikTok", err)
	}

	// HTTP 200 alone is not success; the body must carry code 0
	var body tiktokResponse
	_ = json.Unmarshal([]byte(res.Body), &body)
	if res.StatusCode == http.StatusOK && body.Code != nil && *body.Code == 0 {
		return OK(res.StatusCode, res.Body)
	}

	message := body.Message
	if message == "" {
		message = fmt.Sprintf("Status %d", res.StatusCode)
	}
	return FailWithResponse("TikTok API error: "+message, res.StatusCode, res.Body)
}

// BuildTikTokEvent builds one Events API pixel event
func BuildTikTokEvent(sc *SendContext, pixelCode string, now time.Time) (map[string]interface{}, error) {
	payload := sc.Payload

	name, ok := tiktokEventNames[sc.EventType]
	if !ok {
		name = sc.EventType
	}

	properties := map[string]interface{}{}
	if currency, ok := payload["currency"]; ok {
		properties["currency"] = currency
	}
	if value, ok := payload["value"]; ok {
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		properties["value"] = f
	}
	if txn, ok := payload["transaction_id"]; ok {
		properties["order_id"] = txn
	}
	if list, ok := items(payload); ok {
		contents := make([]map[string]interface{}, 0, len(list))
		for _, item := range list {
			contents = append(contents, map[string]interface{}{
				"content_id":   itemID(item),
				"content_name": itemName(item),
				"quantity":     quantity(item),
				"price":        item["price"],
			})
		}
		properties["contents"] = contents
	}

	ud := userData(payload)
	user := map[string]interface{}{}
	for _, field := range []string{"email", "phone", "external_id"} {
		if v := ud[field]; truthy(v) {
			user[field] = HashPII(stringify(v))
		}
	}

	event := map[string]interface{}{
		"pixel_code": pixelCode,
		"event":      name,
		"event_id":   eventIDOrNow(payload, now),
		"timestamp":  fmt.Sprintf("%d", now.Unix()),
		"properties": properties,
	}
	if len(user) > 0 {
		event["user"] = user
	}
	return event, nil
}
