// Package api exposes the service's HTTP surface: connection lifecycle
// endpoints, on-demand data reads, health, and metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vitalsync/vitalsync/internal/cache"
	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/connect"
	"github.com/vitalsync/vitalsync/internal/errors"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/metrics"
	"github.com/vitalsync/vitalsync/internal/provider"
	"github.com/vitalsync/vitalsync/internal/store"
)

// Server is the HTTP front of the service.
type Server struct {
	cfg     *config.Config
	connect *connect.Service
	crawler *provider.Crawler
	cache   *cache.Cache
	store   store.Store
	metrics *metrics.Metrics
	logger  *logging.Logger

	engine *gin.Engine
	http   *http.Server
}

// NewServer wires the HTTP routes. cache may be nil when disabled.
func NewServer(cfg *config.Config, connectSvc *connect.Service, crawler *provider.Crawler, respCache *cache.Cache, s store.Store, m *metrics.Metrics, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	srv := &Server{
		cfg:     cfg,
		connect: connectSvc,
		crawler: crawler,
		cache:   respCache,
		store:   s,
		metrics: m,
		logger:  logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(correlationMiddleware())
	engine.Use(metrics.Middleware(m, logger))

	engine.GET("/health", srv.handleHealth)
	engine.GET("/metrics", gin.WrapH(m.Handler()))

	// The provider redirects the browser here; it carries no API key.
	engine.GET("/oauth/callback", srv.handleCallback)

	authed := engine.Group("/", APIKeyAuth(cfg.API.Auth, logger))
	authed.POST("/connections/:principal/initiate", srv.handleInitiate)
	authed.GET("/connections/:principal", srv.handleStatus)
	authed.DELETE("/connections/:principal", srv.handleDisconnect)
	authed.GET("/data/:principal/:resource", srv.handleData)

	srv.engine = engine
	srv.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler: engine,
	}
	return srv
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return &errors.ErrServerStart{Addr: s.http.Addr, Err: err}
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		return &errors.ErrServerShutdown{Err: err}
	}
	return nil
}

// correlationMiddleware assigns every request a correlation ID, propagated
// through the request context and echoed in the response.
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Correlation-ID")
		if id == "" {
			id = logging.GenerateCorrelationID()
		}
		ctx := logging.WithCorrelationID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-ID", id)
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.store.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"time":               time.Now().UTC().Format(time.RFC3339),
		"credentials":        stats.Credentials,
		"active_credentials": stats.ActiveCredentials,
	})
}
