// Package health provides liveness and readiness endpoints for the check-in agent.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckFunc is a function that checks a dependency's health.
type CheckFunc func(ctx context.Context) Status

// Ping adapts an error-returning probe, such as a database ping, into a
// CheckFunc: any error is StatusDown.
func Ping(probe func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Status {
		if err := probe(ctx); err != nil {
			return StatusDown
		}
		return StatusOK
	}
}

// Report is the outcome of one readiness evaluation.
type Report struct {
	Ready     bool              `json:"ready"`
	Checks    map[string]Status `json:"checks"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Down lists the failing checks in name order.
func (r Report) Down() []string {
	var out []string
	for name, s := range r.Checks {
		if s == StatusDown {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Checker manages health checks for all dependencies.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	last    Report
	timeout time.Duration
	logger  zerolog.Logger
}

// NewChecker creates a new health checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks:  make(map[string]CheckFunc),
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a named health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Evaluate runs all checks concurrently, each bounded by the check timeout,
// and remembers the report. A check that is down now but was not on the
// previous run is logged.
func (c *Checker) Evaluate(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	prev := c.last
	c.mu.RUnlock()

	results := make(map[string]Status, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, fn := range checks {
		wg.Add(1)
		go func(n string, f CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			s := f(checkCtx)
			mu.Lock()
			results[n] = s
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	report := Report{Ready: true, Checks: results, CheckedAt: time.Now()}
	for name, s := range results {
		if s != StatusDown {
			continue
		}
		report.Ready = false
		if prev.Checks[name] != StatusDown {
			c.logger.Warn().Str("check", name).Msg("dependency down")
		}
	}

	c.mu.Lock()
	c.last = report
	c.mu.Unlock()
	return report
}

// RunAll executes all checks and returns their statuses.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	return c.Evaluate(ctx).Checks
}

// IsReady returns true if no check is down. Degraded checks still count as
// ready.
func (c *Checker) IsReady(ctx context.Context) bool {
	return c.Evaluate(ctx).Ready
}

// Last returns the most recent report without running the checks.
func (c *Checker) Last() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// LivenessHandler returns an HTTP handler for /healthz. It reports uptime
// since started and never consults dependencies.
func LivenessHandler(started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"uptime": time.Since(started).Round(time.Second).String(),
		})
	}
}

// ReadinessHandler returns an HTTP handler for /readyz.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		report := c.Evaluate(r.Context())

		resp := map[string]interface{}{"checks": report.Checks}
		if report.Ready {
			resp["status"] = "ready"
			w.WriteHeader(http.StatusOK)
		} else {
			resp["status"] = "not_ready"
			resp["down"] = report.Down()
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
