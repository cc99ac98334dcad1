package messaging

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
)

const (
	defaultReceiveBatch = 10
	receiveBackoff      = 2 * time.Second
	deadLetterReason    = "UnprocessableBatch"
)

// Settler finalizes received messages. *azservicebus.Receiver implements it.
type Settler interface {
	CompleteMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.CompleteMessageOptions) error
	AbandonMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.AbandonMessageOptions) error
	DeadLetterMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.DeadLetterOptions) error
}

// Consumer reads event batches from an Azure Service Bus queue
type Consumer struct {
	client    *azservicebus.Client
	queueName string
	batchSize int
}

// NewConsumer creates a queue consumer
func NewConsumer(cfg config.AzureConfig) (*Consumer, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultReceiveBatch
	}

	return &Consumer{client: client, queueName: cfg.QueueName, batchSize: batchSize}, nil
}

// Run receives messages until ctx is cancelled
func (c *Consumer) Run(ctx context.Context, processor MessageProcessor) error {
	receiver, err := c.client.NewReceiverForQueue(c.queueName, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create Service Bus receiver")
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error closing Service Bus receiver")
		}
	}()

	log.Info().Str("queue", c.queueName).Msg("Starting event batch consumer")

	for {
		messages, err := receiver.ReceiveMessages(ctx, c.batchSize, nil)
		if ctx.Err() != nil {
			log.Info().Msg("Event batch consumer stopped")
			return nil
		}
		if err != nil {
			log.Error().Err(err).Str("queue", c.queueName).Msg("Error receiving messages")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveBackoff):
			}
			continue
		}

		for _, message := range messages {
			Settle(context.WithoutCancel(ctx), receiver, processor, message)
		}
	}
}

// Settle processes one message and completes, abandons or dead-letters it
func Settle(ctx context.Context, settler Settler, processor MessageProcessor, message *azservicebus.ReceivedMessage) {
	err := processor.ProcessMessage(ctx, message)

	switch {
	case err == nil:
		if err := settler.CompleteMessage(ctx, message, nil); err != nil {
			log.Error().Err(err).Str("message_id", message.MessageID).Msg("(CompleteMessage) failed")
		}

	case errors.Is(err, ErrUnprocessable):
		log.Warn().Err(err).Str("message_id", message.MessageID).Msg("Dead-lettering unprocessable message")
		reason := deadLetterReason
		description := err.Error()
		opts := &azservicebus.DeadLetterOptions{Reason: &reason, ErrorDescription: &description}
		if err := settler.DeadLetterMessage(ctx, message, opts); err != nil {
			log.Error().Err(err).Str("message_id", message.MessageID).Msg("(DeadLetterMessage) failed")
		}

	default:
		log.Error().Err(err).Str("message_id", message.MessageID).Msg("Error processing message")
		if err := settler.AbandonMessage(ctx, message, nil); err != nil {
			log.Error().Err(err).Str("message_id", message.MessageID).Msg("(AbandonMessage) failed")
		}
	}
}

// Close releases the Service Bus connection
func (c *Consumer) Close(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Close(ctx)
}
