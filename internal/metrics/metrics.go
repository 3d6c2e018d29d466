// Package metrics provides Prometheus metrics for profile sync.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing, so
// components can run without a registry.
type Metrics struct {
	// Queue metrics
	QueuePending       prometheus.Gauge
	QueueDeadLetters   prometheus.Gauge
	QueueOperations    *prometheus.CounterVec
	QueueDrainDuration *prometheus.HistogramVec

	// Pinning metrics
	PinAttempts   *prometheus.CounterVec
	PinDuration   *prometheus.HistogramVec
	BackendHealth *prometheus.GaugeVec
	QuorumResults *prometheus.CounterVec

	// Merge metrics
	MergeConflicts *prometheus.CounterVec
	SyncRuns       *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{}

	m.QueuePending = f.NewGauge(prometheus.GaugeOpts{
		Name: "profilesync_queue_pending",
		Help: "Operations waiting in the sync queue",
	})
	m.QueueDeadLetters = f.NewGauge(prometheus.GaugeOpts{
		Name: "profilesync_queue_dead_letters",
		Help: "Operations in the dead-letter queue",
	})
	m.QueueOperations = f.NewCounterVec(prometheus.CounterOpts{
		Name: "profilesync_queue_operations_total",
		Help: "Queue operation transitions by event",
	}, []string{"event"})
	m.QueueDrainDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "profilesync_queue_drain_duration_seconds",
		Help:    "Duration of queue drain cycles in seconds",
		Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"status"})

	m.PinAttempts = f.NewCounterVec(prometheus.CounterOpts{
		Name: "profilesync_pin_attempts_total",
		Help: "Pin attempts per backend and status",
	}, []string{"backend", "status"})
	m.PinDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "profilesync_pin_duration_seconds",
		Help:    "Duration of pin calls in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})
	m.BackendHealth = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "profilesync_backend_healthy",
		Help: "1 when the pinning backend passed its last health check",
	}, []string{"backend"})
	m.QuorumResults = f.NewCounterVec(prometheus.CounterOpts{
		Name: "profilesync_quorum_results_total",
		Help: "Replication attempts by quorum outcome",
	}, []string{"outcome"})

	m.MergeConflicts = f.NewCounterVec(prometheus.CounterOpts{
		Name: "profilesync_merge_conflicts_total",
		Help: "Conflicts surfaced by merges per entity type",
	}, []string{"entity"})
	m.SyncRuns = f.NewCounterVec(prometheus.CounterOpts{
		Name: "profilesync_sync_runs_total",
		Help: "Sync executor runs by outcome",
	}, []string{"outcome"})

	return m
}

// SetQueueDepth updates the queue gauges.
func (m *Metrics) SetQueueDepth(pending, dead int) {
	if m == nil {
		return
	}
	m.QueuePending.Set(float64(pending))
	m.QueueDeadLetters.Set(float64(dead))
}

// RecordQueueEvent counts n operations for a queue event.
func (m *Metrics) RecordQueueEvent(event string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.QueueOperations.WithLabelValues(event).Add(float64(n))
}

// RecordDrain records a drain cycle.
func (m *Metrics) RecordDrain(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.QueueDrainDuration.WithLabelValues(status(err)).Observe(d.Seconds())
}

// RecordPin records one pin call on a backend.
func (m *Metrics) RecordPin(backend string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.PinAttempts.WithLabelValues(backend, status(err)).Inc()
	m.PinDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordSkippedPin counts a backend left out of a replication attempt.
func (m *Metrics) RecordSkippedPin(backend string) {
	if m == nil {
		return
	}
	m.PinAttempts.WithLabelValues(backend, "skipped").Inc()
}

// SetBackendHealth records the last health result for a backend.
func (m *Metrics) SetBackendHealth(backend string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.BackendHealth.WithLabelValues(backend).Set(v)
}

// RecordQuorum counts a replication outcome: met, missed or unreachable.
func (m *Metrics) RecordQuorum(outcome string) {
	if m == nil {
		return
	}
	m.QuorumResults.WithLabelValues(outcome).Inc()
}

// RecordConflicts counts surfaced conflicts for an entity type.
func (m *Metrics) RecordConflicts(entity string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MergeConflicts.WithLabelValues(entity).Add(float64(n))
}

// RecordSyncRun counts a sync executor run.
func (m *Metrics) RecordSyncRun(outcome string) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(outcome).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
