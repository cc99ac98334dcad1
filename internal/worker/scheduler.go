package worker

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/metrics"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
)

// Forwarder drains the pending and retry queues
type Forwarder interface {
	ProcessBatch(ctx context.Context, limit int) (models.ProcessStats, error)
	ProcessRetries(ctx context.Context, limit int) (models.ProcessStats, error)
}

// Scheduler runs the pending and retry loops on fixed intervals
type Scheduler struct {
	forwarder Forwarder
	metrics   *metrics.Metrics
	cfg       config.RelayConfig
	options   []gocron.SchedulerOption
}

// NewScheduler creates the worker scheduler
func NewScheduler(forwarder Forwarder, metricsCollector *metrics.Metrics, cfg config.RelayConfig) *Scheduler {
	return &Scheduler{forwarder: forwarder, metrics: metricsCollector, cfg: cfg}
}

// Run starts both loops and blocks until ctx is cancelled. Cancellation stops
// iterations from claiming further events; Run returns only after the events
// already in flight have been settled.
func (s *Scheduler) Run(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler(s.options...)
	if err != nil {
		return errors.Wrap(err, "failed to create scheduler")
	}

	var (
		mu       sync.Mutex
		stopping bool
		inflight sync.WaitGroup
	)
	// begin registers an iteration unless shutdown has started
	begin := func() bool {
		mu.Lock()
		defer mu.Unlock()
		if stopping || ctx.Err() != nil {
			return false
		}
		inflight.Add(1)
		return true
	}

	jobs := []struct {
		loop     string
		interval time.Duration
		run      func(context.Context, int) (models.ProcessStats, error)
	}{
		{metrics.LoopPending, s.cfg.PollInterval, s.forwarder.ProcessBatch},
		{metrics.LoopRetries, s.cfg.RetryInterval, s.forwarder.ProcessRetries},
	}

	for _, job := range jobs {
		_, err = scheduler.NewJob(
			gocron.DurationJob(job.interval),
			gocron.NewTask(func() {
				if !begin() {
					return
				}
				defer inflight.Done()
				s.iterate(ctx, job.loop, job.run)
			}),
			gocron.WithName(job.loop),
			gocron.WithStartAt(gocron.WithStartImmediately()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return errors.Wrapf(err, "failed to schedule %s loop", job.loop)
		}
	}

	log.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Dur("retry_interval", s.cfg.RetryInterval).
		Int("batch_size", s.cfg.EventBatchSize).
		Msg("Starting forwarding scheduler")
	scheduler.Start()

	<-ctx.Done()

	log.Info().Msg("Stopping forwarding scheduler")
	mu.Lock()
	stopping = true
	mu.Unlock()

	err = scheduler.Shutdown()
	if stopTimedOut(err) {
		log.Warn().Msg("Waiting for in-flight forwarding iterations to settle")
		err = nil
	}
	inflight.Wait()

	if err != nil {
		return errors.Wrap(err, "failed to stop scheduler")
	}
	log.Info().Msg("Forwarding scheduler stopped")
	return nil
}

// stopTimedOut reports whether gocron gave up waiting on a running job. The
// scheduler still waits for those jobs itself.
func stopTimedOut(err error) bool {
	return errors.Is(err, gocron.ErrStopJobsTimedOut) ||
		errors.Is(err, gocron.ErrStopExecutorTimedOut) ||
		errors.Is(err, gocron.ErrStopSchedulerTimedOut)
}

// iterate runs one pass of a loop. Errors are logged and the next tick retries.
func (s *Scheduler) iterate(ctx context.Context, loop string, run func(context.Context, int) (models.ProcessStats, error)) models.ProcessStats {
	started := time.Now()
	stats, err := run(ctx, s.cfg.EventBatchSize)
	s.metrics.RecordWorkerRun(loop, stats.Succeeded, stats.Failed, err)

	if err != nil {
		log.Error().Err(err).Str("loop", loop).Msg("Forwarding iteration failed")
		return stats
	}
	if stats.Processed > 0 {
		log.Info().
			Str("loop", loop).
			Int("processed", stats.Processed).
			Int("succeeded", stats.Succeeded).
			Int("failed", stats.Failed).
			Int("skipped", stats.Skipped).
			Dur("took", time.Since(started)).
			Msg("Forwarding iteration complete")
	}
	return stats
}
