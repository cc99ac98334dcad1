package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
)

// NewHTTPClient builds the shared outbound client. The transport records New
// Relic external segments when the request context carries a transaction.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newrelic.NewRoundTripper(http.DefaultTransport),
	}
}

type response struct {
	StatusCode int
	Body       string
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, query url.Values, headers map[string]string, body interface{}) (*response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request body")
	}

	if len(query) > 0 {
		endpoint = endpoint + "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	return &response{StatusCode: res.StatusCode, Body: string(raw)}, nil
}

// transportFailure converts a client error into a result, flagging timeouts
func transportFailure(name string, err error) Result {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		r := Fail(fmt.Sprintf("%s request timed out", name))
		r.Timeout = true
		return r
	}
	return Fail(fmt.Sprintf("%s request failed: %s", name, err.Error()))
}

func statusIn(code int, accepted ...int) bool {
	for _, c := range accepted {
		if code == c {
			return true
		}
	}
	return false
}
