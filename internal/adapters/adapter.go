package adapters

import (
	"context"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
)

// Platform codes with a dedicated adapter
const (
	CodeGA4       = "ga4"
	CodeMeta      = "meta_capi"
	CodePinterest = "pinterest_capi"
	CodeSnapchat  = "snapchat_capi"
	CodeTikTok    = "tiktok_events"
	CodeSgtm      = "sgtm"
)

// platformCodeKey tags the originating platform when a direct adapter routes through the relay
const platformCodeKey = "_platform_code"

// Adapter delivers one event to one destination
type Adapter interface {
	PlatformCode() string
	Send(ctx context.Context, sc *SendContext) Result
	ValidateCredentials(creds map[string]interface{}) bool
}

// RelayTarget is a storefront's sGTM configuration with its secret already decrypted
type RelayTarget struct {
	URL                string
	ClientType         models.SgtmClientType
	MeasurementID      string
	APISecret          string
	CustomEndpointPath string
	CustomHeaders      string
	IsActive           bool
}

// SendContext bundles everything an adapter needs for one delivery
type SendContext struct {
	EventType       string
	Payload         map[string]interface{}
	Credentials     map[string]interface{}
	PixelID         string
	AccountID       string
	StorefrontCode  string
	Relay           *RelayTarget
	DestinationType models.DestinationType
}

// Result is the normalized outcome of a delivery
type Result struct {
	Success      bool
	StatusCode   *int
	ResponseBody *string
	ErrorMessage *string
	Timeout      bool
}

// OK builds a successful result
func OK(statusCode int, body string) Result {
	return Result{Success: true, StatusCode: &statusCode, ResponseBody: optional(truncate(body, maxResponseLength))}
}

// Fail builds a failed result with no response
func Fail(message string) Result {
	return Result{Success: false, ErrorMessage: &message}
}

// FailWithResponse builds a failed result carrying the destination's response
func FailWithResponse(message string, statusCode int, body string) Result {
	return Result{
		Success:      false,
		StatusCode:   &statusCode,
		ResponseBody: optional(truncate(body, maxResponseLength)),
		ErrorMessage: &message,
	}
}

// Error returns the error message or an empty string
func (r Result) Error() string {
	if r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}

// defaultValidate accepts any credential map
func defaultValidate(map[string]interface{}) bool {
	return true
}

// hasKeys reports whether every key is present in creds
func hasKeys(creds map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if _, ok := creds[k]; !ok {
			return false
		}
	}
	return true
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
