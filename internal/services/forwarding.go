package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/adapters"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/apperrors"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/metrics"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/repositories"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/search"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/tracing"
)

const (
	reasonNoCredentials   = "No active credentials configured"
	reasonAllAttemptsFail = "All delivery attempts failed"
	relayConfigResource   = "sGTM Config"
)

// ErrNotClaimed is returned when another worker already owns the event
var ErrNotClaimed = errors.New("event already claimed")

// AdapterResolver maps a platform code to its adapter
type AdapterResolver interface {
	Get(platformCode string) adapters.Adapter
}

// CredentialOpener decrypts vault tokens
type CredentialOpener interface {
	Decrypt(token string) (map[string]interface{}, error)
	DecryptString(token string) (string, error)
}

// AttemptIndexer publishes attempts for search
type AttemptIndexer interface {
	IndexAttempt(ctx context.Context, doc search.AttemptDocument) error
}

// ForwardingDeps are the collaborators of the forwarding engine. Indexer may be nil.
type ForwardingDeps struct {
	Storefronts  repositories.StorefrontRepository
	Events       repositories.EventRepository
	Credentials  repositories.CredentialRepository
	RelayConfigs repositories.RelayConfigRepository
	Attempts     repositories.AttemptRepository
	Lifecycle    *EventLifecycle
	Adapters     AdapterResolver
	Vault        CredentialOpener
	Indexer      AttemptIndexer
	Metrics      *metrics.Metrics
	Tracer       tracing.Tracer
}

// ForwardingEngine fans each event out to every active credential of its storefront
type ForwardingEngine struct {
	ForwardingDeps
	concurrency int
	now         func() time.Time
}

// NewForwardingEngine creates a new forwarding engine
func NewForwardingEngine(deps ForwardingDeps, cfg config.RelayConfig) *ForwardingEngine {
	concurrency := cfg.DispatchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &ForwardingEngine{
		ForwardingDeps: deps,
		concurrency:    concurrency,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Process delivers one event. It returns true when at least one destination
// accepted it. Delivery failures are recorded on the event, not returned.
func (e *ForwardingEngine) Process(ctx context.Context, event *models.Event) (bool, error) {
	claimed, err := e.Events.Claim(ctx, event.ID)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim event")
	}
	if !claimed {
		return false, ErrNotClaimed
	}
	event.Status = models.EventStatusProcessing

	txn := e.Tracer.StartTransaction("forward-event")
	defer e.Tracer.EndTransaction(txn)
	e.Tracer.AddAttribute(txn, "event_id", event.EventID)
	e.Tracer.AddAttribute(txn, "event_type", event.EventType)
	ctx = e.Tracer.NewContext(ctx, txn)

	delivered, err := e.fanOut(ctx, event)
	if err != nil {
		e.Tracer.RecordError(txn, err)
		e.release(ctx, event, err)
		return false, err
	}

	e.Metrics.RecordEventOutcome(string(event.Status))
	return delivered, nil
}

func (e *ForwardingEngine) fanOut(ctx context.Context, event *models.Event) (bool, error) {
	credentials, err := e.credentialsFor(ctx, event)
	if err != nil {
		return false, err
	}
	if len(credentials) == 0 {
		return false, e.Lifecycle.MarkFailed(ctx, event, reasonNoCredentials, false)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(event.EventPayload), &payload); err != nil {
		return false, e.Lifecycle.MarkFailed(ctx, event, fmt.Sprintf("Invalid JSON payload: %s", err.Error()), false)
	}

	delivered := false
	lastError := ""
	for i := range credentials {
		ok, msg := e.deliverSafely(ctx, event, &credentials[i], payload)
		if ok {
			delivered = true
		} else if msg != "" {
			lastError = msg
		}
	}

	if delivered {
		return true, e.Lifecycle.MarkDelivered(ctx, event)
	}
	if lastError == "" {
		lastError = reasonAllAttemptsFail
	}
	return false, e.Lifecycle.MarkFailed(ctx, event, lastError, true)
}

// credentialsFor resolves the event's storefront when only the code was stored
func (e *ForwardingEngine) credentialsFor(ctx context.Context, event *models.Event) ([]models.Credential, error) {
	storefrontID := event.StorefrontID
	if storefrontID == nil && event.StorefrontCode != nil && e.Storefronts != nil {
		storefront, err := e.Storefronts.GetByCode(ctx, *event.StorefrontCode)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			return nil, nil
		case err != nil:
			return nil, errors.Wrap(err, "failed to resolve storefront")
		}
		if !storefront.IsActive {
			return nil, nil
		}
		storefrontID = &storefront.ID
	}
	if storefrontID == nil {
		return nil, nil
	}

	credentials, err := e.Credentials.GetActiveForStorefront(ctx, *storefrontID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load credentials")
	}
	return credentials, nil
}

// deliverSafely turns a panicking adapter into a failed attempt so the
// remaining credentials still run
func (e *ForwardingEngine) deliverSafely(ctx context.Context, event *models.Event, credential *models.Credential, payload map[string]interface{}) (ok bool, msg string) {
	started := e.now()
	defer func() {
		if r := recover(); r != nil {
			msg = fmt.Sprintf("Unexpected error: %v", r)
			ok = false
			log.Error().
				Str("event_id", event.EventID).
				Str("credential_id", credential.ID.String()).
				Interface("panic", r).
				Msg("Adapter panicked during delivery")
			e.record(ctx, event, credential, adapters.Fail(msg), started)
		}
	}()
	return e.deliver(ctx, event, credential, payload, started)
}

func (e *ForwardingEngine) deliver(ctx context.Context, event *models.Event, credential *models.Credential, payload map[string]interface{}, started time.Time) (bool, string) {
	creds, err := e.Vault.Decrypt(credential.CredentialsEncrypted)
	if err != nil {
		e.record(ctx, event, credential, adapters.Fail(err.Error()), started)
		return false, err.Error()
	}

	adapter := e.Adapters.Get(credential.Platform.Code)

	var relay *adapters.RelayTarget
	if credential.DestinationType == models.DestinationSgtm || adapter.PlatformCode() == adapters.CodeSgtm {
		relay, err = e.relayTarget(ctx, credential.StorefrontID)
		if err != nil {
			e.record(ctx, event, credential, adapters.Fail(err.Error()), started)
			return false, err.Error()
		}
	}

	sc := &adapters.SendContext{
		EventType:       event.EventType,
		Payload:         payload,
		Credentials:     creds,
		PixelID:         deref(credential.PixelID),
		AccountID:       deref(credential.AccountID),
		StorefrontCode:  storefrontCode(event, credential),
		Relay:           relay,
		DestinationType: credential.DestinationType,
	}

	result := adapter.Send(ctx, sc)
	e.record(ctx, event, credential, result, started)

	var lastError *string
	if !result.Success {
		msg := result.Error()
		lastError = &msg
	}
	if err := e.Credentials.UpdateLastUsed(ctx, credential.ID, e.now(), lastError); err != nil {
		log.Warn().Err(err).Str("credential_id", credential.ID.String()).Msg("Failed to update credential usage")
	}

	if !result.Success {
		log.Warn().
			Str("event_id", event.EventID).
			Str("platform", credential.Platform.Code).
			Str("error", result.Error()).
			Msg("Delivery attempt failed")
	}
	return result.Success, result.Error()
}

// relayTarget loads the storefront's relay configuration. A missing or
// disabled configuration is the relay kill switch.
func (e *ForwardingEngine) relayTarget(ctx context.Context, storefrontID uuid.UUID) (*adapters.RelayTarget, error) {
	cfg, err := e.RelayConfigs.GetByStorefrontID(ctx, storefrontID)
	if errors.Is(err, repositories.ErrNotFound) || (err == nil && !cfg.IsActive) {
		return nil, apperrors.KillSwitch(relayConfigResource, storefrontID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load sGTM config")
	}

	secret := ""
	if cfg.APISecretEncrypted != nil && *cfg.APISecretEncrypted != "" {
		secret, err = e.Vault.DecryptString(*cfg.APISecretEncrypted)
		if err != nil {
			return nil, err
		}
	}

	return &adapters.RelayTarget{
		URL:                cfg.SgtmURL,
		ClientType:         cfg.ClientType,
		MeasurementID:      deref(cfg.MeasurementID),
		APISecret:          secret,
		CustomEndpointPath: deref(cfg.CustomEndpointPath),
		CustomHeaders:      deref(cfg.CustomHeaders),
		IsActive:           cfg.IsActive,
	}, nil
}

// record appends the attempt to the audit trail and publishes it
func (e *ForwardingEngine) record(ctx context.Context, event *models.Event, credential *models.Credential, result adapters.Result, started time.Time) {
	elapsed := e.now().Sub(started)
	durationMs := int(elapsed.Milliseconds())
	credentialID := credential.ID

	attempt := &models.Attempt{
		ID:              uuid.New(),
		EventID:         event.ID,
		CredentialID:    &credentialID,
		DestinationType: credential.DestinationType,
		Status:          AttemptStatus(result),
		HTTPStatusCode:  result.StatusCode,
		ResponseBody:    truncateBody(result.ResponseBody),
		ErrorMessage:    result.ErrorMessage,
		DurationMs:      &durationMs,
		AttemptedAt:     started,
	}
	if err := e.Attempts.Create(ctx, attempt); err != nil {
		log.Error().Err(err).Str("event_id", event.EventID).Msg("Failed to record delivery attempt")
	}

	platformCode := credential.Platform.Code
	e.Metrics.RecordAttempt(platformCode, string(attempt.Status), elapsed)

	if e.Indexer == nil {
		return
	}
	doc := search.AttemptDocument{
		AttemptID:       attempt.ID.String(),
		EventID:         event.ID.String(),
		ExternalEventID: event.EventID,
		EventType:       event.EventType,
		StorefrontID:    credential.StorefrontID.String(),
		CredentialID:    credentialID.String(),
		PlatformCode:    platformCode,
		DestinationType: string(credential.DestinationType),
		Status:          string(attempt.Status),
		HTTPStatusCode:  attempt.HTTPStatusCode,
		ErrorMessage:    attempt.ErrorMessage,
		DurationMs:      durationMs,
		AttemptedAt:     started,
	}
	if err := e.Indexer.IndexAttempt(ctx, doc); err != nil {
		log.Warn().Err(err).Str("attempt_id", doc.AttemptID).Msg("Failed to index delivery attempt")
	}
}

// release hands an event back to the retry loop after an infrastructure failure
func (e *ForwardingEngine) release(ctx context.Context, event *models.Event, cause error) {
	if event.Status != models.EventStatusProcessing {
		return
	}
	if err := e.Lifecycle.MarkFailed(ctx, event, cause.Error(), true); err != nil {
		log.Error().Err(err).Str("event_id", event.EventID).Msg("Failed to release event after processing error")
	}
}

// ProcessBatch forwards up to limit pending events
func (e *ForwardingEngine) ProcessBatch(ctx context.Context, limit int) (models.ProcessStats, error) {
	events, err := e.Events.GetPending(ctx, limit)
	if err != nil {
		return models.ProcessStats{}, errors.Wrap(err, "failed to fetch pending events")
	}
	return e.run(ctx, events), nil
}

// ProcessRetries forwards up to limit retrying events whose next attempt is due
func (e *ForwardingEngine) ProcessRetries(ctx context.Context, limit int) (models.ProcessStats, error) {
	events, err := e.Events.GetDueRetries(ctx, e.now(), limit)
	if err != nil {
		return models.ProcessStats{}, errors.Wrap(err, "failed to fetch due retries")
	}
	return e.run(ctx, events), nil
}

func (e *ForwardingEngine) run(ctx context.Context, events []models.Event) models.ProcessStats {
	var (
		mu    sync.Mutex
		stats models.ProcessStats
		g     errgroup.Group
	)
	g.SetLimit(e.concurrency)

	// a claimed event is always settled, so only the claim honours cancellation
	settle := context.WithoutCancel(ctx)
	for i := range events {
		if ctx.Err() != nil {
			log.Info().Int("remaining", len(events)-i).Msg("Forwarding stopped, leaving remaining events queued")
			break
		}
		event := &events[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			delivered, err := e.processSafely(settle, event)

			mu.Lock()
			defer mu.Unlock()
			stats.Processed++
			switch {
			case errors.Is(err, ErrNotClaimed):
				stats.Skipped++
			case err != nil:
				stats.Failed++
				log.Error().Err(err).Str("event_id", event.EventID).Msg("Failed to process event")
			case delivered:
				stats.Succeeded++
			default:
				stats.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	return stats
}

func (e *ForwardingEngine) processSafely(ctx context.Context, event *models.Event) (delivered bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic while processing event: %v", r)
		}
	}()
	return e.Process(ctx, event)
}

// AttemptStatus classifies an adapter result for the audit trail
func AttemptStatus(result adapters.Result) models.AttemptStatus {
	switch {
	case result.Success:
		return models.AttemptStatusSuccess
	case result.Timeout:
		return models.AttemptStatusTimeout
	case result.StatusCode != nil && *result.StatusCode == 429:
		return models.AttemptStatusRateLimited
	default:
		return models.AttemptStatusFailed
	}
}

func truncateBody(body *string) *string {
	if body == nil || utf8.RuneCountInString(*body) <= models.MaxResponseBodyLength {
		return body
	}
	truncated := string([]rune(*body)[:models.MaxResponseBodyLength])
	return &truncated
}

func storefrontCode(event *models.Event, credential *models.Credential) string {
	if credential.Storefront.Code != "" {
		return credential.Storefront.Code
	}
	return deref(event.StorefrontCode)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
