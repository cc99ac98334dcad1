package cmd

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/adapters"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/cache"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/database"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/metrics"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/repositories"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/search"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/services"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/tracing"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/vault"
)

// app holds the components shared by the api and worker commands
type app struct {
	cfg        config.Config
	db         *database.Database
	repos      *repositories.Repositories
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
	cache      *cache.RedisCache
	ingestion  *services.IngestionService
	forwarding *services.ForwardingEngine
}

func newApp(cfg config.Config) (*app, error) {
	if cfg.Vault.EncryptionKey == "" {
		return nil, errors.New("vault.encryption_key is required; generate one with `relay keygen`")
	}
	credentialVault, err := vault.New(cfg.Vault.EncryptionKey)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		db:      db,
		repos:   repositories.New(db),
		metrics: metrics.NewMetrics(),
	}
	a.metrics.SetHealth("database", true)

	a.tracer, err = tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		a.tracer = tracing.Disabled()
	}

	a.cache, err = cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		a.metrics.SetHealth("redis", false)
		a.cache = nil
	} else if a.cache.Enabled() {
		a.metrics.SetHealth("redis", true)
	}

	var indexer services.AttemptIndexer
	if cfg.Elastic.Enabled {
		elasticClient, err := search.NewElasticClient(cfg.Elastic)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without attempt indexing")
		} else {
			indexer = elasticClient
		}
	}

	var eventCache services.EventCache
	if a.cache.Enabled() {
		eventCache = a.cache
	}
	a.ingestion = services.NewIngestionService(a.repos.Storefronts, a.repos.Events, eventCache, a.metrics, a.tracer)

	registry := adapters.NewRegistry(adapters.Deps{
		Client:    adapters.NewHTTPClient(cfg.Relay.HTTPTimeout),
		Endpoints: adapters.DefaultEndpoints(),
	})
	a.forwarding = services.NewForwardingEngine(services.ForwardingDeps{
		Storefronts:  a.repos.Storefronts,
		Events:       a.repos.Events,
		Credentials:  a.repos.Credentials,
		RelayConfigs: a.repos.RelayConfigs,
		Attempts:     a.repos.Attempts,
		Lifecycle:    services.NewEventLifecycle(a.repos.Events, cfg.Relay),
		Adapters:     registry,
		Vault:        credentialVault,
		Indexer:      indexer,
		Metrics:      a.metrics,
		Tracer:       a.tracer,
	}, cfg.Relay)

	return a, nil
}

func (a *app) close() {
	a.tracer.Close()
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis cache")
		}
	}
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
}
