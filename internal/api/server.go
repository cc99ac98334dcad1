package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/api/handlers"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/metrics"
	"github.com/MPIT-InfoSec/marketing-events-relay-ms/internal/tracing"
)

// Deps are the collaborators served over HTTP
type Deps struct {
	Ingester handlers.BatchIngester
	Events   handlers.EventReader
	DB       handlers.Pinger
	Metrics  *metrics.Metrics
	Tracer   tracing.Tracer
}

// Server represents the HTTP server
type Server struct {
	config     config.Config
	deps       Deps
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, deps Deps) *Server {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{config: cfg, deps: deps}
	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: server.router,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if app := s.deps.Tracer.Application(); app != nil {
		router.Use(NewRelicMiddleware(app))
	}
	router.Use(RequestLogger(s.deps.Metrics))

	var guard []gin.HandlerFunc
	if s.config.Server.BasicAuthUsername != "" {
		guard = append(guard, gin.BasicAuth(gin.Accounts{
			s.config.Server.BasicAuthUsername: s.config.Server.BasicAuthPassword,
		}))
	}

	eventsHandler := handlers.NewEventsHandler(s.deps.Ingester, s.deps.Events, s.deps.Tracer)
	eventsHandler.RegisterRoutes(router.Group("/api/v1", guard...))
	router.Group("", guard...).POST("/events", eventsHandler.HandleIngest)

	healthHandler := handlers.NewHealthHandler(s.deps.Metrics, s.deps.DB, s.config.Environment)
	healthHandler.RegisterRoutes(router)

	return router
}

// Handler exposes the router, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
