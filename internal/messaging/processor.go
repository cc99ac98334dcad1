package messaging

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/apperrors"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
)

// ErrUnprocessable marks a message that can never succeed and should be dead-lettered
var ErrUnprocessable = errors.New("unprocessable message")

// MessageProcessor handles one received message
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// Ingester stores an upstream batch
type Ingester interface {
	IngestBatch(ctx context.Context, batch *models.EventBatch) (*models.IngestResult, error)
}

// BatchProcessor decodes queue messages as event batches and ingests them
type BatchProcessor struct {
	ingester Ingester
}

func NewBatchProcessor(ingester Ingester) *BatchProcessor {
	return &BatchProcessor{ingester: ingester}
}

func (p *BatchProcessor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var batch models.EventBatch
	if err := json.Unmarshal(message.Body, &batch); err != nil {
		return errors.Wrapf(ErrUnprocessable, "error unmarshalling message: %v", err)
	}

	result, err := p.ingester.IngestBatch(ctx, &batch)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindValidation) {
			return errors.Wrapf(ErrUnprocessable, "invalid batch: %v", err)
		}
		return err
	}

	log.Info().
		Str("message_id", message.MessageID).
		Int("accepted", result.Accepted).
		Int("rejected", result.Rejected).
		Msg("Processed event batch message")

	for _, rejected := range result.Errors {
		log.Debug().Str("event_id", rejected.EventID).Str("reason", rejected.Error).Msg("Event rejected")
	}
	return nil
}
