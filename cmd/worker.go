package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/messaging"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/metrics"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long: `Start the forwarding scheduler that delivers pending events and due retries,
and the Azure Service Bus consumer when a queue connection string is configured`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := runWorkerLoops(ctx, cfg, a.forwarding, a.ingestion, a.metrics); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

// runWorkerLoops runs the scheduler and, when configured, the Service Bus
// consumer until ctx is cancelled. The consumer is created before either
// loop starts.
func runWorkerLoops(ctx context.Context, cfg config.Config, forwarder worker.Forwarder, ingester messaging.Ingester, m *metrics.Metrics) error {
	var consumer *messaging.Consumer
	if cfg.Azure.QueueConnStr != "" {
		var err error
		consumer, err = messaging.NewConsumer(cfg.Azure)
		if err != nil {
			return err
		}
		defer func() {
			if err := consumer.Close(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to close Service Bus client")
			}
		}()
	} else {
		log.Info().Msg("No Service Bus connection configured, batches arrive over HTTP only")
	}

	g, ctx := errgroup.WithContext(ctx)

	scheduler := worker.NewScheduler(forwarder, m, cfg.Relay)
	g.Go(func() error {
		return scheduler.Run(ctx)
	})

	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(ctx, messaging.NewBatchProcessor(ingester))
		})
	}

	return g.Wait()
}
