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
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/jeremyhahn/go-passkey/pkg/correlation"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
)

// RecoveryMiddleware recovers from panics in handlers, logs the stack
// and returns a 500 instead of tearing down the connection.
func (s *Server) RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					s.logger.Error("panic in handler",
						"panic", rec,
						"path", r.URL.Path,
						"stack", string(debug.Stack()))
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs each request with its method, path, status,
// duration, and correlation ID.
func (s *Server) LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapper.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"correlation_id", correlation.GetCorrelationID(r.Context()))
		})
	}
}

// CeremonyMetricsMiddleware records ceremony start and finish counters
// from the mounted ceremony routes. Finish outcomes are derived from the
// response status code.
func (s *Server) CeremonyMetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			var ceremony string
			switch {
			case strings.HasSuffix(r.URL.Path, "/register/start"),
				strings.HasSuffix(r.URL.Path, "/register/finish"):
				ceremony = metrics.CeremonyRegistration
			case strings.HasSuffix(r.URL.Path, "/authenticate/start"),
				strings.HasSuffix(r.URL.Path, "/authenticate/finish"):
				ceremony = metrics.CeremonyAuthentication
			default:
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			if strings.HasSuffix(r.URL.Path, "/start") {
				if wrapper.status < 400 {
					metrics.RecordCeremonyStart(ceremony)
				}
				return
			}

			status := metrics.StatusSuccess
			if wrapper.status >= 400 {
				status = metrics.StatusError
			}
			metrics.RecordCeremony(ceremony, status, time.Since(start).Seconds())
		})
	}
}

// statusRecorder captures the response status code for logging.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (rec *statusRecorder) WriteHeader(status int) {
	if !rec.written {
		rec.status = status
		rec.written = true
	}
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if !rec.written {
		rec.written = true
	}
	return rec.ResponseWriter.Write(b)
}
