// Package health provides Kubernetes-style liveness and readiness probes.
//
// Registered checks run in background goroutines at a fixed interval. A
// check flips to unhealthy after three consecutive failures and recovers on
// the first success, so a single slow probe does not flap the endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one component. It returns nil when the component is
// healthy.
type CheckFunc func(ctx context.Context) error

const failureThreshold = 3

// kind separates liveness checks (is the process functional) from readiness
// checks (can it take traffic).
type kind int

const (
	liveness kind = iota
	readiness
)

// check holds one registered probe and its runtime state. The consecutive
// failure counter is only touched by the single run goroutine; the healthy
// flag and last error are read by HTTP handlers and therefore atomic.
type check struct {
	name    string
	kind    kind
	timeout time.Duration
	fn      CheckFunc

	healthy atomic.Bool
	lastErr atomic.Pointer[error]
	fails   int
}

func (c *check) run(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(probeCtx)
	c.lastErr.Store(&err)

	if err != nil {
		c.fails++
		if c.fails >= failureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	c.healthy.Store(true)
}

func (c *check) lastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Health manages the probe set for a service.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
}

// New creates a Health in the not-ready state; call SetReady(true) once
// initialization completes.
func New() *Health {
	return &Health{}
}

func (h *Health) add(name string, k kind, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &check{name: name, kind: k, timeout: timeout, fn: fn}
	c.healthy.Store(true) // assume healthy until proven otherwise
	h.checks = append(h.checks, c)
}

// AddLivenessCheck registers a liveness probe, e.g. a goroutine-count guard.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(name, liveness, timeout, fn)
}

// AddReadinessCheck registers a readiness probe, e.g. database connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(name, readiness, timeout, fn)
}

// Start launches one goroutine per registered check, each probing at the
// given interval until Stop or context cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := make([]*check, len(h.checks))
	copy(checks, h.checks)
	h.mu.Unlock()

	for _, c := range checks {
		go func(c *check) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			c.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.run(ctx)
				}
			}
		}(c)
	}
}

// Stop cancels the probe goroutines. Safe to call repeatedly.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate: true after startup, false when
// draining during shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service can take traffic: the manual gate is
// open and every readiness check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, c := range h.snapshot(readiness) {
		if !c.healthy.Load() {
			return false
		}
	}
	return true
}

func (h *Health) snapshot(k kind) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*check, 0, len(h.checks))
	for _, c := range h.checks {
		if c.kind == k {
			out = append(out, c)
		}
	}
	return out
}

// statusResponse is the JSON body for both probe endpoints.
type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves the liveness probe: 200 while all liveness checks
// pass, 503 otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.serveChecks(w, h.snapshot(liveness), true)
}

// ReadyEndpoint serves the readiness probe: 200 only when the manual gate is
// open and all readiness checks pass.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.serveChecks(w, h.snapshot(readiness), h.ready.Load())
}

func (h *Health) serveChecks(w http.ResponseWriter, checks []*check, gate bool) {
	healthy := gate
	failures := make(map[string]string)
	for _, c := range checks {
		if !c.healthy.Load() {
			healthy = false
			if err := c.lastError(); err != nil {
				failures[c.name] = err.Error()
			}
		}
	}

	resp := statusResponse{Status: "ok"}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		resp.Checks = failures
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
