package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/metrics"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/models"
)

type countingForwarder struct {
	pending  atomic.Int32
	retries  atomic.Int32
	limit    atomic.Int32
	failNext atomic.Bool
}

func (f *countingForwarder) ProcessBatch(_ context.Context, limit int) (models.ProcessStats, error) {
	f.pending.Add(1)
	f.limit.Store(int32(limit))
	if f.failNext.CompareAndSwap(true, false) {
		return models.ProcessStats{}, errors.New("database unavailable")
	}
	return models.ProcessStats{Processed: 2, Succeeded: 1, Failed: 1}, nil
}

func (f *countingForwarder) ProcessRetries(_ context.Context, _ int) (models.ProcessStats, error) {
	f.retries.Add(1)
	return models.ProcessStats{}, nil
}

func testRelayConfig() config.RelayConfig {
	return config.RelayConfig{
		EventBatchSize: 25,
		PollInterval:   20 * time.Millisecond,
		RetryInterval:  20 * time.Millisecond,
	}
}

func TestSchedulerRunsBothLoops(t *testing.T) {
	forwarder := &countingForwarder{}
	forwarder.failNext.Store(true)
	s := NewScheduler(forwarder, metrics.NewMetrics(), testRelayConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// the first pending pass fails and the loop keeps going
	require.Eventually(t, func() bool {
		return forwarder.pending.Load() >= 3 && forwarder.retries.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.Equal(t, int32(25), forwarder.limit.Load())
}

func TestIterationRecordsStats(t *testing.T) {
	forwarder := &countingForwarder{}
	m := metrics.NewMetrics()
	s := NewScheduler(forwarder, m, testRelayConfig())

	stats := s.iterate(context.Background(), metrics.LoopPending, forwarder.ProcessBatch)
	require.Equal(t, models.ProcessStats{Processed: 2, Succeeded: 1, Failed: 1}, stats)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var runs float64
	for _, family := range families {
		if family.GetName() != "relay_worker_iterations_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			runs += metric.GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(1), runs)
}

// slowForwarder holds its first pending pass open until released
type slowForwarder struct {
	started  chan struct{}
	hold     time.Duration
	calls    atomic.Int32
	finished atomic.Bool
}

func (f *slowForwarder) ProcessBatch(_ context.Context, _ int) (models.ProcessStats, error) {
	if f.calls.Add(1) == 1 {
		close(f.started)
		time.Sleep(f.hold)
		f.finished.Store(true)
	}
	return models.ProcessStats{Processed: 1, Succeeded: 1}, nil
}

func (f *slowForwarder) ProcessRetries(_ context.Context, _ int) (models.ProcessStats, error) {
	return models.ProcessStats{}, nil
}

func TestShutdownWaitsForIterationInFlight(t *testing.T) {
	forwarder := &slowForwarder{started: make(chan struct{}), hold: 600 * time.Millisecond}
	s := NewScheduler(forwarder, metrics.NewMetrics(), testRelayConfig())
	s.options = []gocron.SchedulerOption{gocron.WithStopTimeout(100 * time.Millisecond)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-forwarder.started:
	case <-time.After(2 * time.Second):
		t.Fatal("pending loop never started")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.True(t, forwarder.finished.Load())

	calls := forwarder.calls.Load()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, calls, forwarder.calls.Load())
}
