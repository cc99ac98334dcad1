package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultSnapchatURL is the Snapchat Conversions API endpoint
const DefaultSnapchatURL = "https://tr.snapchat.com/v2/conversion"

var snapchatEventNames = map[string]string{
	"purchase":              "PURCHASE",
	"add_to_cart":           "ADD_CART",
	"begin_checkout":        "START_CHECKOUT",
	"add_payment_info":      "ADD_BILLING",
	"view_item":             "VIEW_CONTENT",
	"search":                "SEARCH",
	"lead":                  "SIGN_UP",
	"complete_registration": "SIGN_UP",
	"subscribe":             "SUBSCRIBE",
}

// SnapchatAdapter sends events to the Snapchat Conversions API
type SnapchatAdapter struct {
	direct
}

func NewSnapchatAdapter(client *http.Client, endpoint string, relay *SgtmAdapter, now func() time.Time) *SnapchatAdapter {
	return &SnapchatAdapter{direct{code: CodeSnapchat, client: client, endpoint: endpoint, relay: relay, now: now}}
}

func (a *SnapchatAdapter) PlatformCode() string { return CodeSnapchat }

func (a *SnapchatAdapter) ValidateCredentials(creds map[string]interface{}) bool {
	return hasKeys(creds, "access_token")
}

func (a *SnapchatAdapter) Send(ctx context.Context, sc *SendContext) Result {
	if r, routed := a.viaRelay(ctx, sc); routed {
		return r
	}

	accessToken := credString(sc.Credentials, "access_token")
	pixelID := firstNonEmpty(sc.PixelID, credString(sc.Credentials, "pixel_id"))
	if accessToken == "" {
		return Fail("Missing access_token in credentials")
	}
	if pixelID == "" {
		return Fail("Missing pixel_id")
	}

	event, err := BuildSnapchatEvent(sc, pixelID, a.now())
	if err != nil {
		return unexpected(err)
	}

	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	res, err := postJSON(ctx, a.client, a.endpoint, nil, headers, event)
	if err != nil {
		return transportFailure("Snapchat", err)
	}
	if statusIn(res.StatusCode, http.StatusOK, http.StatusAccepted) {
		return OK(res.StatusCode, res.Body)
	}
	return FailWithResponse(fmt.Sprintf("Snapchat CAPI returned %d", res.StatusCode), res.StatusCode, res.Body)
}

// BuildSnapchatEvent builds one Snapchat conversion. Email and phone are
// hashed; IP address and user agent are sent as-is.
func BuildSnapchatEvent(sc *SendContext, pixelID string, now time.Time) (map[string]interface{}, error) {
	payload := sc.Payload

	name, ok := snapchatEventNames[sc.EventType]
	if !ok {
		name = strings.ToUpper(sc.EventType)
	}

	event := map[string]interface{}{
		"event_type":            name,
		"event_conversion_type": "WEB",
		"timestamp":             fmt.Sprintf("%d", now.UnixMilli()),
		"pixel_id":              pixelID,
	}

	if value, ok := payload["value"]; ok {
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		event["price"] = f
	}
	if currency, ok := payload["currency"]; ok {
		event["currency"] = currency
	}
	if txn, ok := payload["transaction_id"]; ok {
		event["transaction_id"] = txn
	}
	if list, ok := items(payload); ok {
		ids := make([]interface{}, 0, len(list))
		for _, item := range list {
			ids = append(ids, itemID(item))
		}
		total, err := totalQuantity(list)
		if err != nil {
			return nil, err
		}
		event["item_ids"] = ids
		event["number_items"] = total
	}

	ud := userData(payload)
	if v := ud["email"]; truthy(v) {
		event["hashed_email"] = HashPII(stringify(v))
	}
	if v := ud["phone"]; truthy(v) {
		event["hashed_phone_number"] = HashPII(stringify(v))
	}
	if v := ud["client_ip_address"]; truthy(v) {
		event["ip_address"] = v
	}
	if v := ud["client_user_agent"]; truthy(v) {
		event["user_agent"] = v
	}
	return event, nil
}
