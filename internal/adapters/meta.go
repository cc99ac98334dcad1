package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultMetaBaseURL is the Graph API host for the Conversions API
const DefaultMetaBaseURL = "https://graph.facebook.com"

const metaAPIVersion = "v18.0"

var metaEventNames = map[string]string{
	"purchase":              "Purchase",
	"add_to_cart":           "AddToCart",
	"begin_checkout":        "InitiateCheckout",
	"add_payment_info":      "AddPaymentInfo",
	"view_item":             "ViewContent",
	"search":                "Search",
	"lead":                  "Lead",
	"complete_registration": "CompleteRegistration",
	"subscribe":             "Subscribe",
}

var metaHashedFields = []struct{ source, target string }{
	{"email", "em"},
	{"phone", "ph"},
	{"first_name", "fn"},
	{"last_name", "ln"},
	{"city", "ct"},
	{"state", "st"},
	{"zip", "zp"},
	{"country", "country"},
}

var metaPassthroughFields = []string{"client_ip_address", "client_user_agent", "fbc", "fbp"}

// MetaAdapter sends events to the Meta Conversions API
type MetaAdapter struct {
	direct
}

func NewMetaAdapter(client *http.Client, baseURL string, relay *SgtmAdapter, now func() time.Time) *MetaAdapter {
	return &MetaAdapter{direct{code: CodeMeta, client: client, endpoint: baseURL, relay: relay, now: now}}
}

func (a *MetaAdapter) PlatformCode() string { return CodeMeta }

func (a *MetaAdapter) ValidateCredentials(creds map[string]interface{}) bool {
	return hasKeys(creds, "access_token")
}

func (a *MetaAdapter) Send(ctx context.Context, sc *SendContext) Result {
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

	event, err := BuildMetaEvent(sc, a.now())
	if err != nil {
		return unexpected(err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/events", a.endpoint, metaAPIVersion, url.PathEscape(pixelID))
	query := url.Values{"access_token": {accessToken}}

	res, err := postJSON(ctx, a.client, endpoint, query, nil, map[string]interface{}{"data": []interface{}{event}})
	if err != nil {
		return transportFailure("Meta CAPI", err)
	}
	if res.StatusCode == http.StatusOK {
		return OK(res.StatusCode, res.Body)
	}
	return FailWithResponse(fmt.Sprintf("Meta CAPI returned %d", res.StatusCode), res.StatusCode, res.Body)
}

// BuildMetaEvent builds one Conversions API event
func BuildMetaEvent(sc *SendContext, now time.Time) (map[string]interface{}, error) {
	payload := sc.Payload

	name, ok := metaEventNames[sc.EventType]
	if !ok {
		name = sc.EventType
	}

	event := map[string]interface{}{
		"event_name":    name,
		"event_time":    now.Unix(),
		"action_source": "website",
	}

	if ud := userData(payload); len(ud) > 0 {
		event["user_data"] = metaUserData(ud)
	}

	custom := map[string]interface{}{}
	if currency, ok := payload["currency"]; ok {
		custom["currency"] = currency
	}
	if value, ok := payload["value"]; ok {
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		custom["value"] = f
	}
	if txn, ok := payload["transaction_id"]; ok {
		event["event_id"] = txn
	}

	if list, ok := items(payload); ok {
		contents := make([]map[string]interface{}, 0, len(list))
		for _, item := range list {
			contents = append(contents, map[string]interface{}{
				"id":         itemID(item),
				"quantity":   quantity(item),
				"item_price": item["price"],
			})
		}
		total, err := totalQuantity(list)
		if err != nil {
			return nil, err
		}
		custom["contents"] = contents
		custom["num_items"] = total
	}

	if len(custom) > 0 {
		event["custom_data"] = custom
	}
	return event, nil
}

func metaUserData(ud map[string]interface{}) map[string]interface{} {
	hashed := map[string]interface{}{}
	for _, f := range metaHashedFields {
		if v, ok := ud[f.source]; ok && truthy(v) {
			hashed[f.target] = HashPII(stringify(v))
		}
	}
	for _, f := range metaPassthroughFields {
		if v, ok := ud[f]; ok {
			hashed[f] = v
		}
	}
	return hashed
}
