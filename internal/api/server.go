// Package api provides the HTTP surface of the Hearth gateway.
//
// It exposes device listing, command submission and lifecycle
// operations, protocol discovery and pairing, the Prometheus metrics
// endpoint, and the WebSocket upgrade for the real-time fanout hub.
// The surface is deliberately thin: commands flow through the engine,
// state through the device registry, and pushes through the hub.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hearthbeam/hearth-core/internal/command"
	"github.com/hearthbeam/hearth-core/internal/device"
	"github.com/hearthbeam/hearth-core/internal/driver"
	"github.com/hearthbeam/hearth-core/internal/fanout"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/config"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by infrastructure components that can
// verify their own liveness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Engine   *command.Engine
	Drivers  *driver.Registry
	Hub      *fanout.Hub
	History  device.StateHistoryRepository

	// Health holds named component checkers surfaced by /health.
	Health map[string]HealthChecker

	// Gatherer backs the /metrics endpoint. Defaults to the global
	// Prometheus gatherer when nil.
	Gatherer prometheus.Gatherer

	Version string
}

// Server is the HTTP API server for the Hearth gateway.
type Server struct {
	cfg      config.APIConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	registry *device.Registry
	engine   *command.Engine
	drivers  *driver.Registry
	hub      *fanout.Hub
	history  device.StateHistoryRepository
	health   map[string]HealthChecker
	gatherer prometheus.Gatherer
	version  string
	server   *http.Server
}

// New creates an API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry, engine)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("command engine is required")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:      deps.Config,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		registry: deps.Registry,
		engine:   deps.Engine,
		drivers:  deps.Drivers,
		hub:      deps.Hub,
		history:  deps.History,
		health:   deps.Health,
		gatherer: gatherer,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server is stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting for in-flight
// requests up to the shutdown timeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// handleHealth runs every registered component check and reports the
// aggregate status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.health))
	healthy := true

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for name, checker := range s.health {
		if err := checker.HealthCheck(ctx); err != nil {
			components[name] = err.Error()
			healthy = false
			continue
		}
		components[name] = "ok"
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":     overall,
		"version":    s.version,
		"components": components,
	})
}
