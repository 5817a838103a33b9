package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/orderfeed/internal/adapter/metrics"
	"github.com/pscheid92/orderfeed/internal/domain"
	"github.com/pscheid92/orderfeed/internal/platform/config"
)

type snapshotService interface {
	Snapshot(ctx context.Context, limit int) ([]domain.Record, error)
}

type websocketHandler interface {
	Handle(c echo.Context) error
}

// Server serves the HTTP routes and hands upgrade requests to the WebSocket acceptor.
type Server struct {
	echo   *echo.Echo
	config *config.Config

	snapshots snapshotService
	websocket websocketHandler

	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer creates the server and registers its routes. registry may be nil to skip /metrics.
func NewServer(cfg *config.Config, snapshots snapshotService, ws websocketHandler, healthChecks []HealthCheck, registry *prometheus.Registry, httpMetrics *metrics.HTTPMetrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		snapshots:    snapshots,
		websocket:    ws,
		registry:     registry,
		httpMetrics:  httpMetrics,
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
