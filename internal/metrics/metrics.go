package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Worker loop names used as the "loop" label
const (
	LoopPending = "pending"
	LoopRetries = "retries"
)

// Metrics is the relay's Prometheus collector set plus the component health map
type Metrics struct {
	registry *prometheus.Registry

	eventsIngested   *prometheus.CounterVec
	attemptsTotal    *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	eventOutcomes    *prometheus.CounterVec
	workerRuns       *prometheus.CounterVec
	workerProcessed  *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	componentHealthy *prometheus.GaugeVec

	mu           sync.RWMutex
	healthChecks map[string]bool
	startTime    time.Time
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_events_ingested_total",
				Help: "Ingested event items by outcome",
			},
			[]string{"outcome"},
		),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_delivery_attempts_total",
				Help: "Delivery attempts by platform and attempt status",
			},
			[]string{"platform", "status"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_delivery_attempt_duration_seconds",
				Help:    "Duration of outbound delivery calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"platform"},
		),
		eventOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_event_outcomes_total",
				Help: "Events by state reached after processing",
			},
			[]string{"status"},
		),
		workerRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_worker_iterations_total",
				Help: "Scheduler loop iterations by loop and result",
			},
			[]string{"loop", "result"},
		),
		workerProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_worker_events_total",
				Help: "Events handled by the scheduler loops",
			},
			[]string{"loop", "outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		componentHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relay_component_healthy",
				Help: "Component health (1 healthy, 0 unhealthy)",
			},
			[]string{"component"},
		),
		healthChecks: make(map[string]bool),
		startTime:    time.Now(),
	}

	m.registry.MustRegister(
		m.eventsIngested,
		m.attemptsTotal,
		m.attemptDuration,
		m.eventOutcomes,
		m.workerRuns,
		m.workerProcessed,
		m.httpRequests,
		m.httpDuration,
		m.componentHealthy,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordIngest counts the accepted and rejected items of one batch
func (m *Metrics) RecordIngest(accepted, rejected int) {
	m.eventsIngested.WithLabelValues("accepted").Add(float64(accepted))
	m.eventsIngested.WithLabelValues("rejected").Add(float64(rejected))
}

// RecordAttempt counts one delivery attempt and its latency
func (m *Metrics) RecordAttempt(platform, status string, duration time.Duration) {
	m.attemptsTotal.WithLabelValues(platform, status).Inc()
	m.attemptDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

// RecordEventOutcome counts the state an event reached after processing
func (m *Metrics) RecordEventOutcome(status string) {
	m.eventOutcomes.WithLabelValues(status).Inc()
}

// RecordWorkerRun counts one loop iteration and the events it handled
func (m *Metrics) RecordWorkerRun(loop string, succeeded, failed int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.workerRuns.WithLabelValues(loop, result).Inc()
	m.workerProcessed.WithLabelValues(loop, "succeeded").Add(float64(succeeded))
	m.workerProcessed.WithLabelValues(loop, "failed").Add(float64(failed))
}

// RecordHTTPRequest counts one served request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetHealth sets the health status of a component
func (m *Metrics) SetHealth(component string, isHealthy bool) {
	m.mu.Lock()
	m.healthChecks[component] = isHealthy
	m.mu.Unlock()

	value := 0.0
	if isHealthy {
		value = 1
	}
	m.componentHealthy.WithLabelValues(component).Set(value)
}

// GetHealthChecks returns a copy of all health checks
func (m *Metrics) GetHealthChecks() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checks := make(map[string]bool, len(m.healthChecks))
	for name, healthy := range m.healthChecks {
		checks[name] = healthy
	}
	return checks
}

// GetUptimeSeconds returns the service uptime in seconds
func (m *Metrics) GetUptimeSeconds() int64 {
	return int64(time.Since(m.startTime).Seconds())
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
