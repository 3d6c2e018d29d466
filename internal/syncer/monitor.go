package syncer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// HealthCounter reports how many backends are currently usable.
type HealthCounter interface {
	HealthyCount(ctx context.Context) int
}

// Connectivity is the part of the queue the monitor drives.
type Connectivity interface {
	Online() bool
	SetOnline(online bool)
}

// Monitor polls backend health and flips the queue between online and
// offline. The queue counts as online while enough backends are healthy to
// reach quorum.
type Monitor struct {
	health   HealthCounter
	conn     Connectivity
	required int
	interval time.Duration
	log      zerolog.Logger
}

// NewMonitor returns a monitor polling every interval.
func NewMonitor(health HealthCounter, conn Connectivity, required int, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if required <= 0 {
		required = 1
	}
	return &Monitor{health: health, conn: conn, required: required, interval: interval, log: log}
}

// Check polls once and returns the connectivity state it applied.
func (m *Monitor) Check(ctx context.Context) bool {
	healthy := m.health.HealthyCount(ctx)
	online := healthy >= m.required
	m.log.Debug().Int("healthy", healthy).Int("required", m.required).Bool("online", online).Msg("health poll")
	if online != m.conn.Online() {
		m.conn.SetOnline(online)
	}
	return online
}

// Run checks immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
