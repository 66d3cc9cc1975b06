// Package hubapi provides the cloud hub's HTTP surface: the pairing
// endpoints, the relay update/fetch endpoints the poll protocol talks to,
// the bearer token exchange, and operational endpoints (health, metrics).
//
// Every protocol endpoint requires the signed envelope headers; see the
// signature package for the canonical string and verification rules.
//
// The server follows the same lifecycle pattern as the other components:
//
//	server, err := hubapi.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package hubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/greese/imaginary-home-sub000/internal/audit"
	"github.com/greese/imaginary-home-sub000/internal/infrastructure/config"
	"github.com/greese/imaginary-home-sub000/internal/infrastructure/logging"
	"github.com/greese/imaginary-home-sub000/internal/location"
	"github.com/greese/imaginary-home-sub000/internal/pending"
	"github.com/greese/imaginary-home-sub000/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// secondsPerMinute converts the configured requests-per-minute rate.
const secondsPerMinute = 60

// Deps holds the dependencies required by the hub API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Pairing  *location.PairingService
	Relays   *relay.Service
	Pending  *pending.Store
	Audit    audit.Repository      // nil disables the audit trail
	Registry prometheus.Registerer // nil uses the default registry
	Version  string
}

// Server is the hub's HTTP API server.
type Server struct {
	cfg     config.APIConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	pairing *location.PairingService
	relays  *relay.Service
	pending *pending.Store
	audit   audit.Repository
	metrics *metrics
	limiter *rate.Limiter
	version string
	server  *http.Server
}

// New creates a new hub API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Pairing == nil || deps.Relays == nil || deps.Pending == nil {
		return nil, fmt.Errorf("pairing service, relay service, and pending store are required")
	}

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	s := &Server{
		cfg:     deps.Config,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		pairing: deps.Pairing,
		relays:  deps.Relays,
		pending: deps.Pending,
		audit:   deps.Audit,
		metrics: newMetrics(registry),
		version: deps.Version,
	}

	if deps.Security.RateLimit.Enabled {
		rpm := deps.Security.RateLimit.RequestsPerMinute
		s.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/secondsPerMinute), rpm)
	}

	return s, nil
}

// Start begins listening for HTTP connections in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("hub API server error", "error", err)
		}
	}()

	s.logger.Info("hub API server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("hub API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down hub API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("hub api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("hub api server not started")
	}
	return nil
}
