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

// Package metrics provides Prometheus instrumentation for passkey server
// operations. It exposes ceremony counters, performance histograms, error
// counters, and HTTP request metrics to enable monitoring of server health
// and of WebAuthn ceremony outcomes.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all passkey metrics
	Namespace = "passkey"

	// Label names
	LabelCeremony   = "ceremony"
	LabelStatus     = "status"
	LabelErrorType  = "error_type"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Ceremony names
	CeremonyRegistration   = "registration"
	CeremonyAuthentication = "authentication"
)

var (
	// CeremoniesStarted tracks the total number of ceremonies started by kind.
	CeremoniesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_started_total",
			Help:      "Total number of WebAuthn ceremonies started by kind",
		},
		[]string{LabelCeremony},
	)

	// CeremoniesFinished tracks the total number of finished ceremonies by
	// kind and outcome. Use RecordCeremony to increment this counter.
	CeremoniesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_finished_total",
			Help:      "Total number of WebAuthn ceremonies finished by kind and status",
		},
		[]string{LabelCeremony, LabelStatus},
	)

	// CeremonyDuration tracks the wall-clock time between ceremony start
	// and finish in seconds. Buckets cover human interaction latency with
	// an authenticator, not just server processing.
	CeremonyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Duration of WebAuthn ceremonies from start to finish in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{LabelCeremony},
	)

	// ErrorsTotal tracks ceremony errors by kind and error type. Error
	// types should be specific (e.g. "challenge_expired", "verification_failed").
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of ceremony errors by kind and error type",
		},
		[]string{LabelCeremony, LabelErrorType},
	)

	// SignCountAnomalies counts authentications whose signature counter
	// failed to increase, a possible cloned-credential signal.
	SignCountAnomalies = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sign_count_anomalies_total",
			Help:      "Total number of authentications with a non-increasing signature counter",
		},
	)

	// CredentialsTotal tracks the number of registered credentials.
	CredentialsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "credentials_total",
			Help:      "Total number of registered credentials",
		},
	)

	// UsersTotal tracks the number of registered users.
	UsersTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "users_total",
			Help:      "Total number of registered users",
		},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// ActiveConnections tracks the number of in-flight HTTP requests.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of in-flight HTTP requests",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordCeremonyStart records the start of a ceremony.
func RecordCeremonyStart(ceremony string) {
	if !enabled.Load() {
		return
	}
	CeremoniesStarted.WithLabelValues(ceremony).Inc()
}

// RecordCeremony records a finished ceremony with its duration and status.
//
// Example:
//
//	start := time.Now()
//	result, err := svc.FinishAuthentication(ctx, token, response)
//	duration := time.Since(start).Seconds()
//	if err != nil {
//	    RecordCeremony(CeremonyAuthentication, StatusError, duration)
//	} else {
//	    RecordCeremony(CeremonyAuthentication, StatusSuccess, duration)
//	}
func RecordCeremony(ceremony, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	CeremoniesFinished.WithLabelValues(ceremony, status).Inc()
	CeremonyDuration.WithLabelValues(ceremony).Observe(duration)
}

// RecordError records a ceremony error with a specific error type.
//
// Example:
//
//	if passkey.IsChallengeExpired(err) {
//	    RecordError(CeremonyRegistration, "challenge_expired")
//	}
func RecordError(ceremony, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(ceremony, errorType).Inc()
}

// RecordSignCountAnomaly records a non-increasing signature counter.
func RecordSignCountAnomaly() {
	if !enabled.Load() {
		return
	}
	SignCountAnomalies.Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// SetCredentialsTotal sets the registered credential gauge.
func SetCredentialsTotal(count float64) {
	if !enabled.Load() {
		return
	}
	CredentialsTotal.Set(count)
}

// SetUsersTotal sets the registered user gauge.
func SetUsersTotal(count float64) {
	if !enabled.Load() {
		return
	}
	UsersTotal.Set(count)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
