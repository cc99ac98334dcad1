package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/adapters"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/database"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/metrics"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/repositories"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/search"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/tracing"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/vault"
)

// stubAdapter records every delivery and answers with a canned result
type stubAdapter struct {
	code  string
	reply func(sc *adapters.SendContext) adapters.Result

	mu    sync.Mutex
	calls []*adapters.SendContext
}

func (a *stubAdapter) PlatformCode() string { return a.code }

func (a *stubAdapter) ValidateCredentials(map[string]interface{}) bool { return true }

func (a *stubAdapter) Send(_ context.Context, sc *adapters.SendContext) adapters.Result {
	a.mu.Lock()
	a.calls = append(a.calls, sc)
	a.mu.Unlock()
	return a.reply(sc)
}

func (a *stubAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type stubResolver map[string]adapters.Adapter

func (r stubResolver) Get(code string) adapters.Adapter {
	if a, ok := r[code]; ok {
		return a
	}
	return r[adapters.CodeSgtm]
}

type recordingIndexer struct {
	mu   sync.Mutex
	docs []search.AttemptDocument
}

func (i *recordingIndexer) IndexAttempt(_ context.Context, doc search.AttemptDocument) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.docs = append(i.docs, doc)
	return nil
}

func succeed(code int) func(*adapters.SendContext) adapters.Result {
	return func(*adapters.SendContext) adapters.Result { return adapters.OK(code, `{"ok":true}`) }
}

func failWith(msg string, code int) func(*adapters.SendContext) adapters.Result {
	return func(*adapters.SendContext) adapters.Result { return adapters.FailWithResponse(msg, code, "error body") }
}

type forwardingFixture struct {
	repos      *repositories.Repositories
	vault      *vault.Vault
	engine     *ForwardingEngine
	resolver   stubResolver
	indexer    *recordingIndexer
	storefront *models.Storefront
	now        time.Time
}

func newForwardingFixture(t *testing.T) *forwardingFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.SetupModels(db))

	key, err := vault.GenerateKey()
	require.NoError(t, err)
	v, err := vault.New(key)
	require.NoError(t, err)

	repos := repositories.New(database.FromGorm(db))
	now := time.Date(2026, 1, 15, 10, 25, 0, 0, time.UTC)
	cfg := config.RelayConfig{MaxRetryAttempts: 5, RetryBackoffBase: time.Minute, DispatchConcurrency: 4}

	lifecycle := NewEventLifecycle(repos.Events, cfg)
	lifecycle.now = func() time.Time { return now }

	resolver := stubResolver{}
	indexer := &recordingIndexer{}
	engine := NewForwardingEngine(ForwardingDeps{
		Storefronts:  repos.Storefronts,
		Events:       repos.Events,
		Credentials:  repos.Credentials,
		RelayConfigs: repos.RelayConfigs,
		Attempts:     repos.Attempts,
		Lifecycle:    lifecycle,
		Adapters:     resolver,
		Vault:        v,
		Indexer:      indexer,
		Metrics:      metrics.NewMetrics(),
		Tracer:       tracing.Disabled(),
	}, cfg)
	engine.now = func() time.Time { return now }

	storefront := &models.Storefront{Code: "acme", Name: "Acme", IsActive: true}
	require.NoError(t, repos.Storefronts.Create(context.Background(), storefront))

	return &forwardingFixture{
		repos:      repos,
		vault:      v,
		engine:     engine,
		resolver:   resolver,
		indexer:    indexer,
		storefront: storefront,
		now:        now,
	}
}

func (f *forwardingFixture) addDestination(t *testing.T, code string, tier int, dest models.DestinationType, reply func(*adapters.SendContext) adapters.Result) (*models.Credential, *stubAdapter) {
	t.Helper()
	ctx := context.Background()

	platform := &models.Platform{Code: code, Name: code, Tier: tier, AuthType: models.AuthTypeAccessToken, IsActive: true}
	require.NoError(t, f.repos.Platforms.Create(ctx, platform))

	sealed, err := f.vault.Encrypt(map[string]interface{}{"access_token": "tok-" + code})
	require.NoError(t, err)

	pixel := "px-" + code
	credential := &models.Credential{
		StorefrontID:         f.storefront.ID,
		PlatformID:           platform.ID,
		CredentialsEncrypted: sealed,
		DestinationType:      dest,
		PixelID:              &pixel,
		IsActive:             true,
	}
	require.NoError(t, f.repos.Credentials.Create(ctx, credential))

	adapter := &stubAdapter{code: code, reply: reply}
	f.resolver[code] = adapter
	return credential, adapter
}

func (f *forwardingFixture) addEvent(t *testing.T, eventID string) *models.Event {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{"order_id": eventID, "value": 49.99})
	require.NoError(t, err)

	storefrontID := f.storefront.ID
	event := &models.Event{
		EventID:      eventID,
		StorefrontID: &storefrontID,
		EventType:    "purchase",
		EventPayload: string(payload),
	}
	require.NoError(t, f.repos.Events.CreateBatch(context.Background(), []*models.Event{event}))
	return event
}

func (f *forwardingFixture) reload(t *testing.T, eventID string) *models.Event {
	t.Helper()
	event, err := f.repos.Events.GetByEventID(context.Background(), eventID)
	require.NoError(t, err)
	return event
}

func TestFanOutDeliversWhenAnyDestinationSucceeds(t *testing.T) {
	f := newForwardingFixture(t)
	ctx := context.Background()

	_, meta := f.addDestination(t, "meta_capi", 1, models.DestinationDirect, succeed(200))
	_, tiktok := f.addDestination(t, "tiktok_events", 2, models.DestinationDirect, failWith("TikTok API error: Invalid pixel", 200))
	f.addEvent(t, "o-1")

	stats, err := f.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, models.ProcessStats{Processed: 1, Succeeded: 1}, stats)
	require.Equal(t, 1, meta.callCount())
	require.Equal(t, 1, tiktok.callCount())

	event := f.reload(t, "o-1")
	require.Equal(t, models.EventStatusDelivered, event.Status)
	require.NotNil(t, event.ProcessedAt)
	require.Len(t, event.Attempts, 2)

	statuses := map[models.AttemptStatus]int{}
	for _, a := range event.Attempts {
		statuses[a.Status]++
	}
	require.Equal(t, map[models.AttemptStatus]int{models.AttemptStatusSuccess: 1, models.AttemptStatusFailed: 1}, statuses)
	require.Len(t, f.indexer.docs, 2)

	sc := meta.calls[0]
	require.Equal(t, "purchase", sc.EventType)
	require.Equal(t, "px-meta_capi", sc.PixelID)
	require.Equal(t, "tok-meta_capi", sc.Credentials["access_token"])
	require.Equal(t, "acme", sc.StorefrontCode)
}

func TestAllDestinationsFailingSchedulesRetry(t *testing.T) {
	f := newForwardingFixture(t)
	ctx := context.Background()

	metaCred, _ := f.addDestination(t, "meta_capi", 1, models.DestinationDirect, failWith("Status 500", 500))
	f.addDestination(t, "pinterest_capi", 2, models.DestinationDirect, failWith("Status 429", 429))
	f.addEvent(t, "o-1")

	stats, err := f.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, models.ProcessStats{Processed: 1, Failed: 1}, stats)

	event := f.reload(t, "o-1")
	require.Equal(t, models.EventStatusRetrying, event.Status)
	require.Equal(t, 1, event.RetryCount)
	require.Equal(t, "Status 429", *event.ErrorMessage)
	require.WithinDuration(t, f.now.Add(time.Minute), *event.NextRetryAt, time.Second)

	var rateLimited int
	for _, a := range event.Attempts {
		if a.Status == models.AttemptStatusRateLimited {
			rateLimited++
		}
	}
	require.Equal(t, 1, rateLimited)

	cred, err := f.repos.Credentials.GetByID(ctx, metaCred.ID)
	require.NoError(t, err)
	require.NotNil(t, cred.LastUsedAt)
	require.Equal(t, "Status 500", *cred.LastError)
}

func TestEventWithoutCredentialsFailsImmediately(t *testing.T) {
	f := newForwardingFixture(t)
	event := f.addEvent(t, "o-1")

	delivered, err := f.engine.Process(context.Background(), event)
	require.NoError(t, err)
	require.False(t, delivered)

	stored := f.reload(t, "o-1")
	require.Equal(t, models.EventStatusFailed, stored.Status)
	require.Equal(t, "No active credentials configured", *stored.ErrorMessage)
	require.Equal(t, 0, stored.RetryCount)
	require.NotNil(t, stored.ProcessedAt)
	require.Empty(t, stored.Attempts)
}

func TestInvalidPayloadFailsImmediately(t *testing.T) {
	f := newForwardingFixture(t)
	_, meta := f.addDestination(t, "meta_capi", 1, models.DestinationDirect, succeed(200))

	storefrontID := f.storefront.ID
	event := &models.Event{EventID: "o-bad", StorefrontID: &storefrontID, EventType: "purchase", EventPayload: "{not json"}
	require.NoError(t, f.repos.Events.CreateBatch(context.Background(), []*models.Event{event}))

	delivered, err := f.engine.Process(context.Background(), event)
	require.NoError(t, err)
	require.False(t, delivered)
	require.Equal(t, 0, meta.callCount())

	stored := f.reload(t, "o-bad")
	require.Equal(t, models.EventStatusFailed, stored.Status)
	require.Contains(t, *stored.ErrorMessage, "Invalid JSON payload: ")
}

func TestRelayKillSwitch(t *testing.T) {
	f := newForwardingFixture(t)
	ctx := context.Background()

	_, relayed := f.addDestination(t, "meta_capi", 1, models.DestinationSgtm, succeed(200))
	event := f.addEvent(t, "o-1")

	// no relay configuration at all
	delivered, err := f.engine.Process(ctx, event)
	require.NoError(t, err)
	require.False(t, delivered)
	require.Equal(t, 0, relayed.callCount())

	stored := f.reload(t, "o-1")
	require.Equal(t, models.EventStatusRetrying, stored.Status)
	want := "sGTM Config '" + f.storefront.ID.String() + "' is disabled (kill switch active)"
	require.Equal(t, want, *stored.ErrorMessage)
	require.Len(t, stored.Attempts, 1)
	require.Equal(t, want, *stored.Attempts[0].ErrorMessage)

	// a disabled configuration behaves the same way
	secret, err := f.vault.EncryptString("relay-secret")
	require.NoError(t, err)
	measurement := "G-TEST"
	cfg := &models.SgtmConfig{
		StorefrontID:       f.storefront.ID,
		SgtmURL:            "https://sgtm.acme.test",
		ClientType:         models.SgtmClientGA4,
		MeasurementID:      &measurement,
		APISecretEncrypted: &secret,
		IsActive:           false,
	}
	require.NoError(t, f.repos.RelayConfigs.Create(ctx, cfg))

	second := f.addEvent(t, "o-2")
	delivered, err = f.engine.Process(ctx, second)
	require.NoError(t, err)
	require.False(t, delivered)
	require.Equal(t, 0, relayed.callCount())

	// once enabled the decrypted relay target reaches the adapter
	cfg.IsActive = true
	require.NoError(t, f.repos.RelayConfigs.Update(ctx, cfg))

	third := f.addEvent(t, "o-3")
	delivered, err = f.engine.Process(ctx, third)
	require.NoError(t, err)
	require.True(t, delivered)
	require.Equal(t, 1, relayed.callCount())

	relay := relayed.calls[0].Relay
	require.NotNil(t, relay)
	require.Equal(t, "https://sgtm.acme.test", relay.URL)
	require.Equal(t, "G-TEST", relay.MeasurementID)
	require.Equal(t, "relay-secret", relay.APISecret)
	require.Equal(t, models.DestinationSgtm, relayed.calls[0].DestinationType)
}

func TestAdapterPanicDoesNotAbortSiblings(t *testing.T) {
	f := newForwardingFixture(t)

	_, broken := f.addDestination(t, "meta_capi", 1, models.DestinationDirect, func(*adapters.SendContext) adapters.Result {
		panic("nil map write")
	})
	_, healthy := f.addDestination(t, "snapchat_capi", 2, models.DestinationDirect, succeed(200))
	event := f.addEvent(t, "o-1")

	delivered, err := f.engine.Process(context.Background(), event)
	require.NoError(t, err)
	require.True(t, delivered)
	require.Equal(t, 1, broken.callCount())
	require.Equal(t, 1, healthy.callCount())

	stored := f.reload(t, "o-1")
	require.Equal(t, models.EventStatusDelivered, stored.Status)
	require.Len(t, stored.Attempts, 2)
}

func TestUndecryptableCredentialIsRecorded(t *testing.T) {
	f := newForwardingFixture(t)
	ctx := context.Background()

	credential, adapter := f.addDestination(t, "meta_capi", 1, models.DestinationDirect, succeed(200))
	other, err := vault.GenerateKey()
	require.NoError(t, err)
	otherVault, err := vault.New(other)
	require.NoError(t, err)
	sealed, err := otherVault.Encrypt(map[string]interface{}{"access_token": "x"})
	require.NoError(t, err)
	require.NoError(t, f.repos.Credentials.Delete(ctx, credential.ID))
	require.NoError(t, f.repos.Credentials.Create(ctx, &models.Credential{
		StorefrontID:         f.storefront.ID,
		PlatformID:           credential.PlatformID,
		CredentialsEncrypted: sealed,
		DestinationType:      models.DestinationDirect,
		IsActive:             true,
	}))
	event := f.addEvent(t, "o-1")

	delivered, err := f.engine.Process(ctx, event)
	require.NoError(t, err)
	require.False(t, delivered)
	require.Equal(t, 0, adapter.callCount())

	stored := f.reload(t, "o-1")
	require.Equal(t, models.EventStatusRetrying, stored.Status)
	require.Equal(t, "Invalid encryption token - key may have changed", *stored.ErrorMessage)
}

func TestClaimedEventsAreSkipped(t *testing.T) {
	f := newForwardingFixture(t)
	ctx := context.Background()

	_, meta := f.addDestination(t, "meta_capi", 1, models.DestinationDirect, succeed(200))
	event := f.addEvent(t, "o-1")

	claimed, err := f.repos.Events.Claim(ctx, event.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = f.engine.Process(ctx, event)
	require.ErrorIs(t, err, ErrNotClaimed)
	require.Equal(t, 0, meta.callCount())
}

func TestProcessRetriesPicksDueEvents(t *testing.T) {
	f := newForwardingFixture(t)
	ctx := context.Background()

	calls := 0
	f.addDestination(t, "ga4", 1, models.DestinationDirect, func(*adapters.SendContext) adapters.Result {
		calls++
		if calls == 1 {
			return adapters.FailWithResponse("Status 503", 503, "")
		}
		return adapters.OK(204, "")
	})
	f.addEvent(t, "o-1")

	stats, err := f.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)

	// not yet due
	stats, err = f.engine.ProcessRetries(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, models.ProcessStats{}, stats)

	f.engine.now = func() time.Time { return f.now.Add(2 * time.Minute) }
	stats, err = f.engine.ProcessRetries(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, models.ProcessStats{Processed: 1, Succeeded: 1}, stats)

	event := f.reload(t, "o-1")
	require.Equal(t, models.EventStatusDelivered, event.Status)
	require.Equal(t, 1, event.RetryCount)
	require.Len(t, event.Attempts, 2)
}

func TestAttemptStatusClassification(t *testing.T) {
	require.Equal(t, models.AttemptStatusSuccess, AttemptStatus(adapters.OK(200, "")))
	require.Equal(t, models.AttemptStatusRateLimited, AttemptStatus(adapters.FailWithResponse("Status 429", 429, "")))
	require.Equal(t, models.AttemptStatusFailed, AttemptStatus(adapters.FailWithResponse("Status 500", 500, "")))
	require.Equal(t, models.AttemptStatusTimeout, AttemptStatus(adapters.Result{Timeout: true}))

	long := make([]byte, models.MaxResponseBodyLength+10)
	for i := range long {
		long[i] = 'x'
	}
	body := string(long)
	require.Len(t, *truncateBody(&body), models.MaxResponseBodyLength)
	require.Nil(t, truncateBody(nil))
}

func TestTruncateBodyKeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("é", models.MaxResponseBodyLength+10)
	truncated := truncateBody(&body)
	require.True(t, utf8.ValidString(*truncated))
	require.Equal(t, models.MaxResponseBodyLength, utf8.RuneCountInString(*truncated))

	short := strings.Repeat("é", models.MaxResponseBodyLength)
	require.Equal(t, &short, truncateBody(&short))
}

func TestCancelledBatchSettlesClaimedEventOnly(t *testing.T) {
	f := newForwardingFixture(t)
	f.engine.concurrency = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, meta := f.addDestination(t, "meta_capi", 1, models.DestinationDirect, func(*adapters.SendContext) adapters.Result {
		cancel()
		return adapters.OK(200, `{"ok":true}`)
	})
	for _, id := range []string{"o-1", "o-2", "o-3"} {
		f.addEvent(t, id)
	}

	stats, err := f.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, models.ProcessStats{Processed: 1, Succeeded: 1}, stats)
	require.Equal(t, 1, meta.callCount())

	counts, err := f.repos.Events.CountByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[models.EventStatusDelivered])
	require.Equal(t, int64(2), counts[models.EventStatusPending])
	require.Zero(t, counts[models.EventStatusProcessing])
}
