package pinning

import (
	"context"
	"sync"
	"time"
)

// FailureThreshold is the number of consecutive failures after which a
// backend is reported unhealthy even inside the cache window.
const FailureThreshold = 3

// ServiceHealth is the health state of one backend.
type ServiceHealth struct {
	Name                string    `json:"name"`
	IsHealthy           bool      `json:"isHealthy"`
	LastCheck           time.Time `json:"lastCheck,omitzero"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
}

// HealthTracker caches health checks of one service. A failed check marks
// the backend unhealthy until the next check. Pin outcomes are fed in with
// RecordSuccess and RecordFailure; FailureThreshold consecutive failures mark
// a backend unhealthy without waiting for the cache to expire.
type HealthTracker struct {
	svc      Service
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	state ServiceHealth
}

// NewHealthTracker wraps svc. A backend starts healthy and unchecked.
func NewHealthTracker(svc Service, interval time.Duration, now func() time.Time) *HealthTracker {
	if now == nil {
		now = time.Now
	}
	return &HealthTracker{
		svc:      svc,
		interval: interval,
		now:      now,
		state:    ServiceHealth{Name: svc.Name(), IsHealthy: true},
	}
}

// IsHealthy returns the cached result while it is fresh and runs a check
// otherwise.
func (h *HealthTracker) IsHealthy(ctx context.Context) bool {
	h.mu.Lock()
	if !h.state.LastCheck.IsZero() && h.now().Sub(h.state.LastCheck) < h.interval {
		healthy := h.state.IsHealthy
		h.mu.Unlock()
		return healthy
	}
	h.mu.Unlock()

	ok, err := h.svc.CheckHealth(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.LastCheck = h.now()
	if ok && err == nil {
		h.recordSuccessLocked()
	} else {
		h.recordFailureLocked(err)
		h.state.IsHealthy = false
	}
	return h.state.IsHealthy
}

// RecordSuccess resets the failure count.
func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recordSuccessLocked()
}

// RecordFailure counts a failure.
func (h *HealthTracker) RecordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recordFailureLocked(err)
}

// Snapshot returns the current state without running a check.
func (h *HealthTracker) Snapshot() ServiceHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *HealthTracker) recordSuccessLocked() {
	h.state.ConsecutiveFailures = 0
	h.state.IsHealthy = true
	h.state.LastError = ""
}

func (h *HealthTracker) recordFailureLocked(err error) {
	h.state.ConsecutiveFailures++
	if err != nil {
		h.state.LastError = err.Error()
	} else {
		h.state.LastError = "health check failed"
	}
	if h.state.ConsecutiveFailures >= FailureThreshold {
		h.state.IsHealthy = false
	}
}
