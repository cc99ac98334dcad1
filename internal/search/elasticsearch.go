package search

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
)

// AttemptDocument is the searchable projection of one delivery attempt
type AttemptDocument struct {
	AttemptID       string    `json:"attempt_id"`
	EventID         string    `json:"event_id"`
	ExternalEventID string    `json:"external_event_id"`
	EventType       string    `json:"event_type"`
	StorefrontID    string    `json:"storefront_id,omitempty"`
	CredentialID    string    `json:"credential_id,omitempty"`
	PlatformCode    string    `json:"platform_code"`
	DestinationType string    `json:"destination_type"`
	Status          string    `json:"status"`
	HTTPStatusCode  *int      `json:"http_status_code,omitempty"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	DurationMs      int       `json:"duration_ms"`
	AttemptedAt     time.Time `json:"attempted_at"`
}

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexAttempt indexes one delivery attempt, keyed by the attempt id
func (c *ElasticClient) IndexAttempt(ctx context.Context, doc AttemptDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal attempt document")
	}

	req := esapi.IndexRequest{
		Index:      config.FormatIndex(c.config, c.config.Index),
		DocumentID: doc.AttemptID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().Str("attempt_id", doc.AttemptID).Str("status", doc.Status).Msg("attempt indexed")
	return nil
}
