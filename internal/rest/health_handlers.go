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
	"encoding/json"
	"net/http"

	"github.com/jeremyhahn/go-passkey/pkg/health"
)

// HealthCheckResponse is the body returned by the probe endpoints.
type HealthCheckResponse struct {
	// Status is the overall health status
	Status health.Status `json:"status"`
	// Message provides additional context
	Message string `json:"message,omitempty"`
	// Checks contains individual check results (for readiness)
	Checks []health.CheckResult `json:"checks,omitempty"`
}

// LivenessHandler handles GET /health/live requests.
//
// Liveness probes determine if the service is alive and should be restarted.
// This endpoint should ONLY fail if the service is in an unrecoverable state.
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeHealthJSON(w, HealthCheckResponse{
			Status:  health.StatusHealthy,
			Message: "Service is alive",
		}, http.StatusOK)
		return
	}

	result := s.health.Live(r.Context())

	statusCode := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeHealthJSON(w, HealthCheckResponse{
		Status:  result.Status,
		Message: result.Message,
	}, statusCode)
}

// ReadinessHandler handles GET /health/ready requests.
//
// Readiness probes determine if the service can accept traffic. The
// service may be alive but not ready, such as when the credential store
// is unreachable.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeHealthJSON(w, HealthCheckResponse{
			Status:  health.StatusHealthy,
			Message: "Service is ready",
		}, http.StatusOK)
		return
	}

	results := s.health.Ready(r.Context())
	overallStatus := health.AggregateStatus(results)

	resp := HealthCheckResponse{
		Status: overallStatus,
		Checks: results,
	}

	switch overallStatus {
	case health.StatusHealthy:
		resp.Message = "All checks passed"
	case health.StatusDegraded:
		resp.Message = "Service is degraded"
	case health.StatusUnhealthy:
		resp.Message = "One or more checks failed"
	}

	statusCode := http.StatusOK
	if overallStatus == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeHealthJSON(w, resp, statusCode)
}

// StartupHandler handles GET /health/startup requests.
//
// Startup probes determine if the application has finished initializing.
// Kubernetes will not check liveness or readiness until startup succeeds.
func (s *Server) StartupHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeHealthJSON(w, HealthCheckResponse{
			Status:  health.StatusHealthy,
			Message: "Service has started",
		}, http.StatusOK)
		return
	}

	result := s.health.Startup(r.Context())

	statusCode := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeHealthJSON(w, HealthCheckResponse{
		Status:  result.Status,
		Message: result.Message,
	}, statusCode)
}

func writeHealthJSON(w http.ResponseWriter, resp HealthCheckResponse, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}
