// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jeremyhahn/go-passkey/pkg/correlation"
	"github.com/jeremyhahn/go-passkey/pkg/health"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	passkeyhttp "github.com/jeremyhahn/go-passkey/pkg/passkey/http"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the passkey REST API server.
type Server struct {
	server   *http.Server
	port     int
	tls      bool
	certFile string
	keyFile  string
	logger   *slog.Logger
	health   *health.Checker
}

// Config holds the REST server configuration.
type Config struct {
	// Host is the interface to bind to (default: all interfaces)
	Host string

	// Port is the HTTP port to listen on (default: 8080)
	Port int

	// Service is the passkey ceremony service (required)
	Service *passkey.Service

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	// WebAuthn requires a secure context; plain HTTP is only usable on
	// localhost or behind a TLS-terminating proxy.
	TLSCertFile string
	TLSKeyFile  string

	// RateLimiter limits ceremony requests per client (optional)
	RateLimiter *ratelimit.Limiter

	// Health drives the Kubernetes-style probe endpoints (optional).
	// When nil the probes always report healthy.
	Health *health.Checker

	// MetricsEnabled mounts the Prometheus endpoint at MetricsPath
	MetricsEnabled bool
	MetricsPath    string

	// Logger is the structured logger (optional, defaults to slog.Default())
	Logger *slog.Logger

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("passkey service is required")
	}

	// Set defaults
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	server := &Server{
		port:     cfg.Port,
		tls:      cfg.TLSCertFile != "" && cfg.TLSKeyFile != "",
		certFile: cfg.TLSCertFile,
		keyFile:  cfg.TLSKeyFile,
		logger:   logger,
		health:   cfg.Health,
	}

	router := server.setupRouter(cfg)

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter(cfg *Config) *chi.Mux {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(s.RecoveryMiddleware())
	r.Use(correlation.Middleware) // Add correlation ID before logging
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)
	if cfg.RateLimiter != nil {
		r.Use(ratelimit.Middleware(cfg.RateLimiter))
	}

	// Health endpoints (no auth required). /healthz is a liveness alias
	// for load balancers that expect a single probe path.
	r.Get("/healthz", s.LivenessHandler)
	r.Head("/healthz", s.LivenessHandler)
	r.Get("/health/live", s.LivenessHandler)
	r.Get("/health/ready", s.ReadinessHandler)
	r.Get("/health/startup", s.StartupHandler)

	if cfg.MetricsEnabled {
		r.Handle(cfg.MetricsPath, promhttp.Handler())
	}

	// WebAuthn ceremony routes
	handler := passkeyhttp.NewHandler(cfg.Service).WithLogger(s.logger)
	r.Route("/api/v1/webauthn", func(r chi.Router) {
		r.Use(s.CeremonyMetricsMiddleware())
		passkeyhttp.MountChi(r, handler)
	})

	return r
}

// Start starts the REST API server.
func (s *Server) Start() error {
	if s.tls {
		s.logger.Info("starting HTTPS server", "port", s.port)
		if err := s.server.ListenAndServeTLS(s.certFile, s.keyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTPS server: %w", err)
		}
	} else {
		s.logger.Info("starting HTTP server", "port", s.port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}
	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", "error", err)
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.port
}
