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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jeremyhahn/go-passkey/pkg/correlation"
	"github.com/jeremyhahn/go-passkey/pkg/health"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *passkey.Service {
	t.Helper()

	cfg := &passkey.Config{
		RPID:          "localhost",
		RPDisplayName: "go-passkey test",
		RPOrigins:     []string{"http://localhost"},
	}

	verifier, err := passkey.NewLibraryVerifier(cfg)
	require.NoError(t, err)

	svc, err := passkey.NewService(passkey.ServiceParams{
		Config:     cfg,
		Repository: passkey.NewMemoryRepository(),
		Challenges: passkey.NewMemoryChallengeStore(),
		Verifier:   verifier,
	})
	require.NoError(t, err)
	return svc
}

// TestNewServer_NilConfig tests that NewServer returns error with nil config
func TestNewServer_NilConfig(t *testing.T) {
	server, err := NewServer(nil)
	assert.Nil(t, server)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")
}

// TestNewServer_NoService tests that NewServer requires a passkey service
func TestNewServer_NoService(t *testing.T) {
	server, err := NewServer(&Config{Port: 8080})
	assert.Nil(t, server)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "passkey service is required")
}

// TestNewServer_Defaults tests that NewServer sets proper defaults
func TestNewServer_Defaults(t *testing.T) {
	server, err := NewServer(&Config{Service: newTestService(t)})
	require.NoError(t, err)
	require.NotNil(t, server)
	assert.Equal(t, 8080, server.Port())
}

// TestNewServer_CustomPort tests that a custom port is used
func TestNewServer_CustomPort(t *testing.T) {
	server, err := NewServer(&Config{Service: newTestService(t), Port: 9000})
	require.NoError(t, err)
	assert.Equal(t, 9000, server.Port())
}

func TestHealthEndpoints(t *testing.T) {
	checker := health.NewChecker()
	server, err := NewServer(&Config{Service: newTestService(t), Health: checker})
	require.NoError(t, err)
	router := server.server.Handler

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	// Liveness is healthy from the start
	for _, path := range []string{"/healthz", "/health/live"} {
		rec := get(path)
		assert.Equal(t, http.StatusOK, rec.Code, path)

		var resp HealthCheckResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, health.StatusHealthy, resp.Status)
	}

	// Startup fails until MarkStarted
	rec := get("/health/startup")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	checker.MarkStarted()
	rec = get("/health/startup")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Readiness reflects registered checks
	rec = get("/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	checker.RegisterCheck("credential-store", func(ctx context.Context) health.CheckResult {
		return health.CheckResult{Name: "credential-store", Status: health.StatusUnhealthy, Error: "database is closed"}
	})

	rec = get("/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthCheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, health.StatusUnhealthy, resp.Status)
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, "credential-store", resp.Checks[0].Name)
}

// TestHealthEndpoints_NoChecker tests that probes report healthy when no
// checker is configured
func TestHealthEndpoints_NoChecker(t *testing.T) {
	server, err := NewServer(&Config{Service: newTestService(t)})
	require.NoError(t, err)
	router := server.server.Handler

	for _, path := range []string{"/healthz", "/health/live", "/health/ready", "/health/startup"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, err := NewServer(&Config{
		Service:        newTestService(t),
		MetricsEnabled: true,
	})
	require.NoError(t, err)
	router := server.server.Handler

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// TestMetricsEndpoint_Disabled tests that /metrics is absent by default
func TestMetricsEndpoint_Disabled(t *testing.T) {
	server, err := NewServer(&Config{Service: newTestService(t)})
	require.NoError(t, err)
	router := server.server.Handler

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCeremonyRoutes(t *testing.T) {
	server, err := NewServer(&Config{Service: newTestService(t)})
	require.NoError(t, err)
	router := server.server.Handler

	body := strings.NewReader(`{"username":"alice"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webauthn/register/start", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Ceremony-Id"))
	assert.NotEmpty(t, rec.Header().Get(correlation.CorrelationIDHeader))
}

func TestRateLimiting(t *testing.T) {
	limiter := ratelimit.New(&ratelimit.Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             2,
	})
	defer limiter.Stop()

	server, err := NewServer(&Config{Service: newTestService(t), RateLimiter: limiter})
	require.NoError(t, err)
	router := server.server.Handler

	status := func() int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "203.0.113.7:4321"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, status())
	assert.Equal(t, http.StatusOK, status())
	assert.Equal(t, http.StatusTooManyRequests, status())
}

func TestServerStop(t *testing.T) {
	server, err := NewServer(&Config{Service: newTestService(t), Port: 0})
	require.NoError(t, err)

	// Stop on a server that never started returns without error
	assert.NoError(t, server.Stop(context.Background()))
}
