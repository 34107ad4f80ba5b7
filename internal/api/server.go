package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/machine-allocator/internal/infrastructure/config"
	"github.com/nerrad567/machine-allocator/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the minimum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every collaborator reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger
	Router  *Router

	// MetricsHandler serves Metrics.Path when metrics are enabled.
	MetricsHandler http.Handler

	// Health lists the components checked by GET /health, by name.
	Health map[string]HealthChecker

	// Hub serves the transition stream at WebSocket.Path when enabled.
	// The caller runs it and registers it as an engine observer.
	WebSocket config.WebSocketConfig
	Hub       *Hub

	// ShutdownTimeout bounds Close. Values below 10 seconds are raised to
	// 10 seconds.
	ShutdownTimeout time.Duration

	Version string
}

// Server is the HTTP front end of the allocator.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg            config.APIConfig
	metricsCfg     config.MetricsConfig
	logger         *logging.Logger
	router         *Router
	metricsHandler http.Handler
	health         map[string]HealthChecker
	wsCfg          config.WebSocketConfig
	hub            *Hub
	version        string

	shutdownTimeout time.Duration

	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if deps.Metrics.Enabled && deps.MetricsHandler == nil {
		return nil, fmt.Errorf("metrics handler is required when metrics are enabled")
	}

	if deps.WebSocket.Enabled && deps.Hub == nil {
		return nil, fmt.Errorf("hub is required when websocket is enabled")
	}

	if deps.Metrics.Path == "" {
		deps.Metrics.Path = "/metrics"
	}
	deps.ShutdownTimeout = max(deps.ShutdownTimeout, gracefulShutdownTimeout)

	return &Server{
		cfg:            deps.Config,
		metricsCfg:     deps.Metrics,
		logger:         deps.Logger,
		router:         deps.Router,
		metricsHandler: deps.MetricsHandler,
		health:         deps.Health,
		wsCfg:          deps.WebSocket,
		hub:            deps.Hub,
		version:        deps.Version,

		shutdownTimeout: deps.ShutdownTimeout,
	}, nil
}

// Start binds the listener and serves in a background goroutine.
// Binding errors (port in use) are returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to the shutdown
// timeout for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
