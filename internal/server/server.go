// Package server provides the HTTP status server for go-jaw
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-jaw/internal/config"
	"github.com/teslashibe/go-jaw/internal/health"
	"github.com/teslashibe/go-jaw/internal/metrics"
	"github.com/teslashibe/go-jaw/internal/status"
)

// Deps are the components the server reports on. Any of them may be nil.
type Deps struct {
	Tracker *status.Tracker
	Health  *health.Checker
	Metrics *metrics.Metrics
	Store   *config.Store
}

// Server is the HTTP server for go-jaw
type Server struct {
	app    *fiber.App
	cfg    config.ServerConfig
	deps   Deps
	logger *slog.Logger
	wsHub  *WSHub
}

// New creates a new HTTP server
func New(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-jaw",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:    app,
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		wsHub:  NewWSHub(deps.Tracker, logger),
	}

	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.app.Get("/health", s.healthHandler)

	if s.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}

	api := s.app.Group("/api")

	st := api.Group("/status")
	st.Get("/", s.statusHandler)
	st.Get("/history", s.historyHandler)

	api.Get("/stream", s.wsHub.UpgradeHandler())

	api.Get("/config", s.configHandler)
	api.Get("/stats", s.statsHandler)
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	if s.deps.Health == nil {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	st := s.deps.Health.GetStatus()
	if st.Status != "ok" {
		c.Status(fiber.StatusServiceUnavailable)
	}
	return c.JSON(st)
}

// statusHandler returns the latest prop snapshot
func (s *Server) statusHandler(c *fiber.Ctx) error {
	if s.deps.Tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "status tracker not available",
		})
	}

	return c.JSON(s.deps.Tracker.Latest())
}

// historyHandler returns recent phase changes
func (s *Server) historyHandler(c *fiber.Ctx) error {
	if s.deps.Tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "status tracker not available",
		})
	}

	return c.JSON(s.deps.Tracker.History())
}

// configHandler returns the active configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	if s.deps.Store == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "config not available",
		})
	}

	return c.JSON(fiber.Map{
		"config": s.deps.Store.Snapshot(),
		"reload": s.deps.Store.Stats(),
	})
}

// statsHandler returns tracker and websocket statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	out := fiber.Map{
		"websocket_clients": s.wsHub.ClientCount(),
	}
	if s.deps.Tracker != nil {
		out["tracker"] = s.deps.Tracker.Stats()
	}
	return c.JSON(out)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
}

// Run serves until ctx is cancelled, then shuts down within the graceful timeout
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.GracefulTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return s.Shutdown(shutdownCtx)
}

// WSHub returns the WebSocket hub
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	s.wsHub.Close()

	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
