package adapters

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
)

// direct holds what every platform-direct adapter shares
type direct struct {
	code     string
	client   *http.Client
	endpoint string
	relay    *SgtmAdapter
	now      func() time.Time
}

// viaRelay routes an sGTM-destined credential through the relay adapter
func (d direct) viaRelay(ctx context.Context, sc *SendContext) (Result, bool) {
	if sc.DestinationType != models.DestinationSgtm {
		return Result{}, false
	}

	if sc.Credentials == nil {
		sc.Credentials = map[string]interface{}{}
	}
	sc.Credentials[platformCodeKey] = d.code

	return d.relay.Send(ctx, sc), true
}

func unexpected(err error) Result {
	return Fail(fmt.Sprintf("Unexpected error: %s", err.Error()))
}

// eventIDOrNow returns the payload's transaction id, or the current time in milliseconds
func eventIDOrNow(payload map[string]interface{}, now time.Time) interface{} {
	if v, ok := payload["transaction_id"]; ok {
		return v
	}
	return fmt.Sprintf("%d", now.UnixMilli())
}
