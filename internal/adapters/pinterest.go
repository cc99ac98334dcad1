package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultPinterestBaseURL is the ad accounts collection of the Pinterest v5 API
const DefaultPinterestBaseURL = "https://api.pinterest.com/v5/ad_accounts"

var pinterestEventNames = map[string]string{
	"purchase":              "checkout",
	"add_to_cart":           "add_to_cart",
	"begin_checkout":        "checkout",
	"add_payment_info":      "checkout",
	"view_item":             "page_visit",
	"search":                "search",
	"lead":                  "lead",
	"complete_registration": "signup",
	"subscribe":             "signup",
}

var pinterestHashedFields = []struct{ source, target string }{
	{"email", "em"},
	{"phone", "ph"},
	{"first_name", "fn"},
	{"last_name", "ln"},
	{"city", "ct"},
	{"state", "st"},
	{"zip", "zp"},
	{"country", "country"},
	{"external_id", "external_id"},
}

// PinterestAdapter sends events to the Pinterest Conversions API
type PinterestAdapter struct {
	direct
}

func NewPinterestAdapter(client *http.Client, baseURL string, relay *SgtmAdapter, now func() time.Time) *PinterestAdapter {
	return &PinterestAdapter{direct{code: CodePinterest, client: client, endpoint: baseURL, relay: relay, now: now}}
}

func (a *PinterestAdapter) PlatformCode() string { return CodePinterest }

func (a *PinterestAdapter) ValidateCredentials(creds map[string]interface{}) bool {
	return hasKeys(creds, "access_token", "ad_account_id")
}

func (a *PinterestAdapter) Send(ctx context.Context, sc *SendContext) Result {
	if r, routed := a.viaRelay(ctx, sc); routed {
		return r
	}

	accessToken := credString(sc.Credentials, "access_token")
	adAccountID := firstNonEmpty(sc.AccountID, credString(sc.Credentials, "ad_account_id"))
	if accessToken == "" {
		return Fail("Missing access_token in credentials")
	}
	if adAccountID == "" {
		return Fail("Missing ad_account_id")
	}

	event, err := BuildPinterestEvent(sc, a.now())
	if err != nil {
		return unexpected(err)
	}

	endpoint := fmt.Sprintf("%s/%s/events", a.endpoint, url.PathEscape(adAccountID))
	headers := map[string]string{"Authorization": "Bearer " + accessToken}

	res, err := postJSON(ctx, a.client, endpoint, nil, headers, map[string]interface{}{"data": []interface{}{event}})
	if err != nil {
		return transportFailure("Pinterest", err)
	}
	if statusIn(res.StatusCode, http.StatusOK, http.StatusAccepted) {
		return OK(res.StatusCode, res.Body)
	}
	return FailWithResponse(fmt.Sprintf("Pinterest CAPI returned %d", res.StatusCode), res.StatusCode, res.Body)
}

// BuildPinterestEvent builds one Pinterest conversion event
func BuildPinterestEvent(sc *SendContext, now time.Time) (map[string]interface{}, error) {
	payload := sc.Payload

	name, ok := pinterestEventNames[sc.EventType]
	if !ok {
		name = "custom"
	}

	event := map[string]interface{}{
		"event_name":    name,
		"action_source": "web",
		"event_time":    now.Unix(),
		"event_id":      eventIDOrNow(payload, now),
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
		custom["value"] = floatString(f)
	}
	if txn, ok := payload["transaction_id"]; ok {
		custom["order_id"] = txn
	}
	if list, ok := items(payload); ok {
		contents := make([]map[string]interface{}, 0, len(list))
		for _, item := range list {
			price, hasPrice := item["price"]
			if !hasPrice {
				price = 0
			}
			contents = append(contents, map[string]interface{}{
				"id":         itemID(item),
				"item_name":  itemName(item),
				"quantity":   quantity(item),
				"item_price": stringify(price),
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

	ud := userData(payload)
	user := map[string]interface{}{}
	for _, f := range pinterestHashedFields {
		if v := ud[f.source]; truthy(v) {
			user[f.target] = []string{HashPII(stringify(v))}
		}
	}
	if len(user) > 0 {
		event["user_data"] = user
	}
	return event, nil
}
