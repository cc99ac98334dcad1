package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
)

type esStub struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]interface{}
	status int
}

func (s *esStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodGet && r.URL.Path == "/" {
		_, _ = w.Write([]byte(`{"version":{"number":"7.17.10","build_flavor":"default"},"tagline":"You Know, for Search"}`))
		return
	}

	raw, _ := io.ReadAll(r.Body)
	var body map[string]interface{}
	_ = json.Unmarshal(raw, &body)

	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.bodies = append(s.bodies, body)
	s.mu.Unlock()

	w.WriteHeader(s.status)
	if s.status >= 400 {
		_, _ = w.Write([]byte(`{"error":{"type":"mapper_parsing_exception"},"status":400}`))
		return
	}
	_, _ = w.Write([]byte(`{"result":"created"}`))
}

func newClient(t *testing.T, stub *esStub) *ElasticClient {
	t.Helper()
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)

	client, err := NewElasticClient(config.ElasticConfig{URL: server.URL, Prefix: "relay", Index: "attempts"})
	require.NoError(t, err)
	return client
}

func TestIndexAttempt(t *testing.T) {
	stub := &esStub{status: http.StatusCreated}
	client := newClient(t, stub)

	status := 502
	err := client.IndexAttempt(context.Background(), AttemptDocument{
		AttemptID:       "att-1",
		EventID:         "evt-1",
		ExternalEventID: "ORD-1",
		EventType:       "purchase",
		PlatformCode:    "meta_capi",
		DestinationType: "direct",
		Status:          "failed",
		HTTPStatusCode:  &status,
		DurationMs:      42,
		AttemptedAt:     time.Date(2026, 1, 15, 10, 25, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Equal(t, []string{"/relay-attempts/_doc/att-1"}, stub.paths)
	require.Equal(t, "meta_capi", stub.bodies[0]["platform_code"])
	require.Equal(t, 502.0, stub.bodies[0]["http_status_code"])
	require.NotContains(t, stub.bodies[0], "credential_id")
}

func TestIndexAttemptError(t *testing.T) {
	client := newClient(t, &esStub{status: http.StatusBadRequest})

	err := client.IndexAttempt(context.Background(), AttemptDocument{AttemptID: "att-2"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Elasticsearch index error")
}
