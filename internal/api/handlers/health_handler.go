package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/metrics"
)

const readinessTimeout = 2 * time.Second

// Pinger reports whether a backing store accepts connections
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness, readiness and Prometheus metrics
type HealthHandler struct {
	metrics     *metrics.Metrics
	db          Pinger
	environment string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(metricsCollector *metrics.Metrics, db Pinger, environment string) *HealthHandler {
	return &HealthHandler{metrics: metricsCollector, db: db, environment: environment}
}

// HandleLiveness reports every registered component; any unhealthy one yields 503
func (h *HealthHandler) HandleLiveness(c *gin.Context) {
	checks := h.metrics.GetHealthChecks()

	healthy := true
	for _, ok := range checks {
		if !ok {
			healthy = false
			break
		}
	}

	status, label := http.StatusOK, "healthy"
	if !healthy {
		status, label = http.StatusServiceUnavailable, "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":         label,
		"environment":    h.environment,
		"uptime_seconds": h.metrics.GetUptimeSeconds(),
		"components":     checks,
	})
}

// HandleReadiness pings the database
func (h *HealthHandler) HandleReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.metrics.SetHealth("database", false)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "database": "unhealthy"})
		return
	}

	h.metrics.SetHealth("database", true)
	c.JSON(http.StatusOK, gin.H{"status": "ready", "database": "healthy"})
}

// RegisterRoutes registers the handler's routes
func (h *HealthHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.HandleLiveness)
	router.GET("/health/ready", h.HandleReadiness)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
}
