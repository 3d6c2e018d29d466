package pinning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/profile-sync/internal/metrics"
)

// QuorumConfig is the replication policy.
type QuorumConfig struct {
	RequiredSuccessCount int           `yaml:"required_success_count"`
	Timeout              time.Duration `yaml:"timeout"`
	HealthCheckInterval  time.Duration `yaml:"health_check_interval"`
}

// DefaultQuorumConfig returns the 2-of-N policy with a 30s call timeout and
// a 60s health cache.
func DefaultQuorumConfig() QuorumConfig {
	return QuorumConfig{
		RequiredSuccessCount: 2,
		Timeout:              30 * time.Second,
		HealthCheckInterval:  60 * time.Second,
	}
}

func (c QuorumConfig) withDefaults() QuorumConfig {
	d := DefaultQuorumConfig()
	if c.RequiredSuccessCount <= 0 {
		c.RequiredSuccessCount = d.RequiredSuccessCount
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	return c
}

// PinResult is the outcome on one backend.
type PinResult struct {
	Backend  string        `json:"backend"`
	CID      string        `json:"cid,omitempty"`
	Skipped  bool          `json:"skipped,omitempty"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (r *PinResult) setErr(err error) {
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// Replication is the outcome of PinToAll. A missed quorum is reported here,
// never as an error.
type Replication struct {
	Results      []PinResult `json:"results"`
	CID          string      `json:"cid,omitempty"`
	Success      bool        `json:"success"`
	SuccessCount int         `json:"successCount"`
	Required     int         `json:"required"`
}

type backend struct {
	svc    Service
	health *HealthTracker
}

// Manager fans pins out to every configured backend.
type Manager struct {
	backends []backend
	cfg      QuorumConfig
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	Quorum  QuorumConfig
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// Now is used by the health cache; nil means time.Now.
	Now func() time.Time
}

// NewManager builds a manager over services, in the given order.
func NewManager(services []Service, opts ManagerOptions) *Manager {
	cfg := opts.Quorum.withDefaults()
	m := &Manager{cfg: cfg, log: opts.Logger, metrics: opts.Metrics}
	for _, s := range services {
		m.backends = append(m.backends, backend{svc: s, health: NewHealthTracker(s, cfg.HealthCheckInterval, opts.Now)})
	}
	if len(services) < cfg.RequiredSuccessCount {
		m.log.Warn().Int("backends", len(services)).Int("required", cfg.RequiredSuccessCount).
			Msg("fewer backends than the quorum requires, replication will fail")
	}
	return m
}

// Backends returns the backend names in configuration order.
func (m *Manager) Backends() []string {
	out := make([]string, len(m.backends))
	for i, b := range m.backends {
		out[i] = b.svc.Name()
	}
	return out
}

// Quorum returns the effective quorum configuration.
func (m *Manager) Quorum() QuorumConfig { return m.cfg }

// PinToAll replicates data to every healthy backend.
//
// Health is checked on all backends concurrently. When fewer backends are
// healthy than the quorum requires, no pin is attempted and every backend is
// reported as skipped. Otherwise each healthy backend is pinned concurrently
// under its own timeout.
//
// The returned CID is the one from the first successful backend in
// configuration order. Backends are assumed to be content addressed with the
// same scheme, so any successful CID names the same snapshot; backends that
// derive ids differently still return the first one unchanged.
func (m *Manager) PinToAll(ctx context.Context, data []byte) (*Replication, error) {
	if len(m.backends) == 0 {
		return nil, ErrNoBackends
	}
	rep := &Replication{Results: make([]PinResult, len(m.backends)), Required: m.cfg.RequiredSuccessCount}

	healthy := m.checkAll(ctx)
	healthyCount := 0
	for _, ok := range healthy {
		if ok {
			healthyCount++
		}
	}
	if healthyCount < m.cfg.RequiredSuccessCount {
		for i, b := range m.backends {
			rep.Results[i] = PinResult{Backend: b.svc.Name(), Skipped: true}
			rep.Results[i].setErr(ErrQuorumUnreachable)
			m.metrics.RecordSkippedPin(b.svc.Name())
		}
		m.metrics.RecordQuorum("unreachable")
		m.log.Warn().Int("healthy", healthyCount).Int("required", m.cfg.RequiredSuccessCount).
			Msg("not enough healthy backends, skipping replication")
		return rep, nil
	}

	var wg sync.WaitGroup
	for i, b := range m.backends {
		if !healthy[i] {
			rep.Results[i] = PinResult{Backend: b.svc.Name(), Skipped: true}
			rep.Results[i].setErr(ErrUnhealthy)
			m.metrics.RecordSkippedPin(b.svc.Name())
			continue
		}
		wg.Add(1)
		go func(i int, b backend) {
			defer wg.Done()
			rep.Results[i] = m.pinOne(ctx, b, data)
		}(i, b)
	}
	wg.Wait()

	for _, r := range rep.Results {
		if r.Skipped || r.Err != nil {
			continue
		}
		rep.SuccessCount++
		if rep.CID == "" {
			rep.CID = r.CID
		}
	}
	rep.Success = rep.SuccessCount >= m.cfg.RequiredSuccessCount
	if rep.Success {
		m.metrics.RecordQuorum("met")
		m.log.Info().Str("cid", rep.CID).Int("succeeded", rep.SuccessCount).Msg("snapshot replicated")
	} else {
		m.metrics.RecordQuorum("missed")
		m.log.Warn().Int("succeeded", rep.SuccessCount).Int("required", m.cfg.RequiredSuccessCount).
			Msg("replication quorum not met")
	}
	return rep, nil
}

func (m *Manager) pinOne(ctx context.Context, b backend, data []byte) PinResult {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := time.Now()
	cid, err := b.svc.Pin(ctx, data)
	res := PinResult{Backend: b.svc.Name(), CID: cid, Duration: time.Since(start)}
	if err == nil && cid == "" {
		err = fmt.Errorf("pinning: %s returned an empty cid", b.svc.Name())
	}
	res.setErr(err)
	m.metrics.RecordPin(b.svc.Name(), res.Duration, err)
	if err != nil {
		res.CID = ""
		b.health.RecordFailure(err)
		m.log.Warn().Err(err).Str("backend", b.svc.Name()).Msg("pin failed")
	} else {
		b.health.RecordSuccess()
	}
	return res
}

// UnpinFromAll removes cid from every backend. Failures are logged and
// reported in the results but never returned as an error.
func (m *Manager) UnpinFromAll(ctx context.Context, cid string) []PinResult {
	results := make([]PinResult, len(m.backends))
	var wg sync.WaitGroup
	for i, b := range m.backends {
		wg.Add(1)
		go func(i int, b backend) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
			defer cancel()
			start := time.Now()
			err := b.svc.Unpin(ctx, cid)
			results[i] = PinResult{Backend: b.svc.Name(), CID: cid, Duration: time.Since(start)}
			results[i].setErr(err)
			if err != nil {
				m.log.Debug().Err(err).Str("backend", b.svc.Name()).Str("cid", cid).Msg("unpin failed")
			}
		}(i, b)
	}
	wg.Wait()
	return results
}

// Health checks every backend concurrently, using the health cache.
func (m *Manager) Health(ctx context.Context) []ServiceHealth {
	m.checkAll(ctx)
	out := make([]ServiceHealth, len(m.backends))
	for i, b := range m.backends {
		out[i] = b.health.Snapshot()
	}
	return out
}

// HealthyCount returns how many backends currently pass their health check.
func (m *Manager) HealthyCount(ctx context.Context) int {
	n := 0
	for _, ok := range m.checkAll(ctx) {
		if ok {
			n++
		}
	}
	return n
}

func (m *Manager) checkAll(ctx context.Context) []bool {
	healthy := make([]bool, len(m.backends))
	var wg sync.WaitGroup
	for i, b := range m.backends {
		wg.Add(1)
		go func(i int, b backend) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
			defer cancel()
			healthy[i] = b.health.IsHealthy(ctx)
			m.metrics.SetBackendHealth(b.svc.Name(), healthy[i])
		}(i, b)
	}
	wg.Wait()
	return healthy
}
