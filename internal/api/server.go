package api

import (
	"context"
	"net/http"
	"time"

	"example.com/smartpos/services/pos/config"
	"example.com/smartpos/services/pos/internal/api/handlers"
	"example.com/smartpos/services/pos/internal/metrics"
	"example.com/smartpos/services/pos/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server is the local HTTP surface the UI shell talks to. It binds to
// loopback; nothing here is meant to be reachable off the device.
type Server struct {
	config      config.Config
	router      *gin.Engine
	httpServer  *http.Server
	syncService *services.SyncService
	metrics     *metrics.Metrics
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, syncService *services.SyncService, m *metrics.Metrics) *Server {
	server := &Server{
		config:      cfg,
		syncService: syncService,
		metrics:     m,
	}

	router := server.setupRouter()
	server.router = router

	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}
	server.httpServer = httpServer

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Recovery middleware
	router.Use(gin.Recovery())

	// Register handlers
	syncHandler := handlers.NewSyncHandler(s.syncService)
	syncHandler.RegisterRoutes(router)

	posHandler := handlers.NewPOSHandler(s.syncService)
	posHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.metrics)
	metricsHandler.RegisterRoutes(router)

	return router
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

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
