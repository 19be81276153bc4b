// Package server exposes the timeline maintainer over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/go-timeline"
	"github.com/soundprediction/go-timeline/pkg/config"
	"github.com/soundprediction/go-timeline/pkg/metrics"
	"github.com/soundprediction/go-timeline/pkg/server/handlers"
)

// Server wraps the gin router and the http.Server serving it
type Server struct {
	config     *config.Config
	client     *timeline.Client
	logger     *slog.Logger
	router     *gin.Engine
	httpServer *http.Server
}

// New creates a server for client. Setup must be called before Start.
func New(cfg *config.Config, client *timeline.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	return &Server{
		config: cfg,
		client: client,
		logger: logger,
		router: gin.New(),
	}
}

// Setup registers middleware and routes.
func (s *Server) Setup() {
	s.router.Use(gin.Recovery(), s.requestLogger())

	health := handlers.NewHealthHandler(s.client)
	s.router.GET("/health", health.HealthCheck)
	s.router.GET("/ready", health.ReadinessCheck)

	if s.config.Metrics.Enabled {
		s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	reconcile := handlers.NewReconcileHandler(s.client)
	stream := handlers.NewEventsHandler(s.client.Bus(), s.logger)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", health.Status)
		v1.GET("/expand", handlers.Expand)
		v1.POST("/reconcile", reconcile.Reconcile)
		v1.POST("/discover", reconcile.Discover)
		v1.POST("/notifications", reconcile.Notify)
		v1.GET("/events", stream.Stream)
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	if s.httpServer == nil {
		return errors.New("server not set up")
	}
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down and then closes the client.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		errs = append(errs, s.httpServer.Shutdown(ctx))
	}
	errs = append(errs, s.client.Close(ctx))
	return errors.Join(errs...)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
