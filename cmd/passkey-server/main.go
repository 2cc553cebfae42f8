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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/internal/rest"
	"github.com/jeremyhahn/go-passkey/pkg/health"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	"github.com/jeremyhahn/go-passkey/pkg/passkey/sqlite"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
)

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-passkey server\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Git Commit: %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		os.Exit(0)
	}

	// Check for config file override via environment
	if envConfig := os.Getenv("PASSKEY_CONFIG"); envConfig != "" {
		*configPath = envConfig
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			slog.Error("Failed to load configuration", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
		slog.Warn("No config file given, using localhost development defaults")
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("Starting passkey server",
		"version", version,
		"rp_id", cfg.WebAuthn.RPID,
		"storage", cfg.Storage.Driver,
		"port", cfg.Server.Port)

	checker := health.NewChecker()

	// Credential repository
	var repo passkey.CredentialRepository
	var closeRepo func() error
	switch cfg.Storage.Driver {
	case "sqlite":
		store, err := sqlite.NewStore(cfg.Storage.DSN)
		if err != nil {
			logger.Error("Failed to open sqlite store", slog.Any("error", err))
			os.Exit(1)
		}
		repo = store
		closeRepo = store.Close
		checker.RegisterCheck("credential-store", health.PingCheck("credential-store", store))
	default:
		repo = passkey.NewMemoryRepository()
	}

	verifier, err := passkey.NewLibraryVerifier(&cfg.WebAuthn)
	if err != nil {
		logger.Error("Failed to create verifier", slog.Any("error", err))
		os.Exit(1)
	}

	// Optional JWT issuance
	var tokens passkey.TokenIssuer
	if cfg.Auth.JWT != nil {
		expiresIn, err := parseExpiry(cfg.Auth.JWT.ExpiresIn)
		if err != nil {
			logger.Error("Invalid auth.jwt.expires_in", slog.Any("error", err))
			os.Exit(1)
		}
		tokens, err = passkey.NewJWTIssuer(&passkey.JWTIssuerConfig{
			Key:       []byte(cfg.Auth.JWT.Secret),
			Issuer:    cfg.Auth.JWT.Issuer,
			Audience:  cfg.Auth.JWT.Audience,
			ExpiresIn: expiresIn,
		})
		if err != nil {
			logger.Error("Failed to create JWT issuer", slog.Any("error", err))
			os.Exit(1)
		}
	}

	svc, err := passkey.NewService(passkey.ServiceParams{
		Config:     &cfg.WebAuthn,
		Repository: repo,
		Challenges: passkey.NewMemoryChallengeStore(),
		Verifier:   verifier,
		Tokens:     tokens,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("Failed to create passkey service", slog.Any("error", err))
		os.Exit(1)
	}

	limiter := ratelimit.New(&cfg.RateLimit)
	defer limiter.Stop()

	if cfg.Metrics.Enabled {
		stopUptime := metrics.UptimeTracker(15 * time.Second)
		defer stopUptime()
	}

	restServer, err := rest.NewServer(&rest.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		Service:        svc,
		TLSCertFile:    cfg.TLS.CertFile,
		TLSKeyFile:     cfg.TLS.KeyFile,
		RateLimiter:    limiter,
		Health:         checker,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("Failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	shutdownCtx := setupSignalHandler()

	errChan := make(chan error, 1)
	go func() {
		if err := restServer.Start(); err != nil {
			errChan <- err
		}
	}()

	checker.MarkStarted()
	logger.Info("Passkey server started successfully", "port", cfg.Server.Port)

	select {
	case <-shutdownCtx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		logger.Error("Server error", slog.Any("error", err))
	}

	shutdownTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := restServer.Stop(shutdownTimeout); err != nil {
		logger.Error("Error during server shutdown", slog.Any("error", err))
	}

	if closeRepo != nil {
		if err := closeRepo(); err != nil {
			logger.Error("Error closing credential store", slog.Any("error", err))
		}
	}

	logger.Info("Passkey server stopped successfully")
}

// newLogger builds the process logger from the logging configuration.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseExpiry(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		cancel()
	}()

	return ctx
}
