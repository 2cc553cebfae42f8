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

// Package health provides liveness, readiness and startup probes for the
// passkey server, following Kubernetes probe semantics.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component is functioning but with reduced capacity.
	StatusDegraded Status = "degraded"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	// Name is the identifier for this health check.
	Name string `json:"name"`
	// Status is the health status of the component.
	Status Status `json:"status"`
	// Message provides additional context about the status.
	Message string `json:"message,omitempty"`
	// Latency is how long the check took to execute.
	Latency time.Duration `json:"latency"`
	// Error contains error details if the check failed.
	Error string `json:"error,omitempty"`
}

// CheckFunc is a function that performs a health check. It should return
// quickly (ideally < 1 second) and indicate component health.
type CheckFunc func(ctx context.Context) CheckResult

// Pinger is satisfied by backends that can verify connectivity, such as
// the SQLite credential store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck builds a readiness check from a Pinger.
func PingCheck(name string, p Pinger) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if err := p.Ping(ctx); err != nil {
			return CheckResult{
				Name:   name,
				Status: StatusUnhealthy,
				Error:  err.Error(),
			}
		}
		return CheckResult{
			Name:   name,
			Status: StatusHealthy,
		}
	}
}

// Checker manages health checks following Kubernetes probe semantics:
// liveness (should the process be restarted?), readiness (should it
// receive traffic?) and startup (has initialization completed?).
type Checker struct {
	mu        sync.RWMutex
	started   bool
	startTime time.Time
	checks    map[string]CheckFunc
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
	}
}

// RegisterCheck adds a readiness check with the given name, replacing any
// existing check with the same name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// UnregisterCheck removes a health check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// MarkStarted marks the service as fully started and ready. Call after
// all initialization is complete.
func (c *Checker) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// MarkNotStarted marks the service as not started, for graceful shutdown
// or tests.
func (c *Checker) MarkNotStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

// Live performs a liveness check. The passkey server holds no state that
// can wedge the process without crashing it, so liveness only confirms
// the process is responding.
func (c *Checker) Live(ctx context.Context) CheckResult {
	start := time.Now()
	return CheckResult{
		Name:    "liveness",
		Status:  StatusHealthy,
		Message: "Service is alive",
		Latency: time.Since(start),
	}
}

// Ready runs all registered readiness checks. Readiness failures are
// expected to be temporary: an unreachable credential store should pull
// the instance out of rotation, not restart it.
func (c *Checker) Ready(ctx context.Context) []CheckResult {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make([]CheckResult, 0, len(checks))
	for name, check := range checks {
		start := time.Now()
		result := check(ctx)
		result.Latency = time.Since(start)
		if result.Name == "" {
			result.Name = name
		}
		results = append(results, result)
	}

	if len(results) == 0 {
		return []CheckResult{{
			Name:    "default",
			Status:  StatusHealthy,
			Message: "No readiness checks configured",
		}}
	}

	return results
}

// Startup reports whether initialization has completed. It fails until
// MarkStarted is called.
func (c *Checker) Startup(ctx context.Context) CheckResult {
	start := time.Now()

	c.mu.RLock()
	started := c.started
	startTime := c.startTime
	c.mu.RUnlock()

	if !started {
		return CheckResult{
			Name:    "startup",
			Status:  StatusUnhealthy,
			Message: "Service initialization not complete",
			Latency: time.Since(start),
		}
	}

	return CheckResult{
		Name:    "startup",
		Status:  StatusHealthy,
		Message: fmt.Sprintf("Service fully initialized (uptime: %s)", time.Since(startTime).Round(time.Second)),
		Latency: time.Since(start),
	}
}

// IsHealthy returns true if all readiness checks pass.
func (c *Checker) IsHealthy(ctx context.Context) bool {
	for _, result := range c.Ready(ctx) {
		if result.Status != StatusHealthy {
			return false
		}
	}
	return true
}

// IsStarted returns true if the service has been marked as started.
func (c *Checker) IsStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// Uptime returns how long the service has been running.
func (c *Checker) Uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.startTime)
}

// AggregateStatus folds check results into one overall status: unhealthy
// dominates degraded, which dominates healthy.
func AggregateStatus(results []CheckResult) Status {
	hasUnhealthy := false
	hasDegraded := false

	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
		case StatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}
