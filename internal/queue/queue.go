// Package queue implements the durable offline-first sync queue.
//
// Every local mutation is enqueued as a model.QueuedOperation and persisted
// before Enqueue returns. While online the queue drains pending operations
// through an injected Executor. A failed batch is retried with exponential
// backoff and, once the retry budget is spent, moved to the dead-letter
// queue where it stays until it is retried by hand or purged after its TTL.
//
// All state changes are serialized by one mutex and at most one drain runs at
// a time. Operations enqueued during a drain wait for the next cycle.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/rcliao/profile-sync/internal/metrics"
	"github.com/rcliao/profile-sync/internal/model"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue is at capacity.
	ErrQueueFull = errors.New("queue: queue full")
	// ErrNotFound is returned for an unknown dead-letter id.
	ErrNotFound = errors.New("queue: not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("queue: closed")
	// ErrInvalidOperation is returned for an operation with an unknown type
	// or entity.
	ErrInvalidOperation = errors.New("queue: invalid operation")
)

// Executor pushes a batch of operations to the remote store. An error fails
// the whole batch. Executors must be idempotent because a batch that was in
// flight during a crash is delivered again.
type Executor func(ctx context.Context, ops []model.QueuedOperation) error

// Config bounds the queue.
type Config struct {
	MaxQueueSize      int           `yaml:"max_queue_size"`
	MaxRetries        int           `yaml:"max_retries"`
	DeadLetterTTL     time.Duration `yaml:"dead_letter_ttl"`
	InitialRetryDelay time.Duration `yaml:"initial_retry_delay"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay"`
	PurgeInterval     time.Duration `yaml:"purge_interval"`
	ExpiryWarning     time.Duration `yaml:"expiry_warning"`
}

// DefaultConfig returns the default queue bounds.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:      1000,
		MaxRetries:        3,
		DeadLetterTTL:     30 * 24 * time.Hour,
		InitialRetryDelay: time.Second,
		MaxRetryDelay:     300 * time.Second,
		PurgeInterval:     24 * time.Hour,
		ExpiryWarning:     7 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.DeadLetterTTL <= 0 {
		c.DeadLetterTTL = d.DeadLetterTTL
	}
	if c.InitialRetryDelay <= 0 {
		c.InitialRetryDelay = d.InitialRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = d.PurgeInterval
	}
	if c.ExpiryWarning <= 0 {
		c.ExpiryWarning = d.ExpiryWarning
	}
	return c
}

// Options configure a Queue. The zero value is usable.
type Options struct {
	Config  Config
	Clock   Clock
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// OnEvent receives queue events. It is called without the queue lock held
	// and must not block for long.
	OnEvent func(Event)
	// Online is the initial connectivity state.
	Online bool
}

// Queue is the durable sync queue. Create it with New.
type Queue struct {
	cfg     Config
	store   Persister
	exec    Executor
	clock   Clock
	log     zerolog.Logger
	metrics *metrics.Metrics
	onEvent func(Event)
	ctx     context.Context
	entropy *ulid.MonotonicEntropy

	mu         sync.Mutex
	items      []model.QueuedOperation
	dead       []model.DeadLetterEntry
	online     bool
	draining   bool
	rerun      bool
	closed     bool
	retryTimer Timer
	purgeTimer Timer
	wg         sync.WaitGroup
}

// New loads the persisted state, resets in-flight operations to pending,
// purges expired dead letters and starts the purge timer. Drains started by
// the queue itself run with a context derived from ctx that is never
// cancelled.
func New(ctx context.Context, store Persister, exec Executor, opts Options) (*Queue, error) {
	if store == nil || exec == nil {
		return nil, errors.New("queue: store and executor are required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	q := &Queue{
		cfg:     opts.Config.withDefaults(),
		store:   store,
		exec:    exec,
		clock:   clock,
		log:     opts.Logger,
		metrics: opts.Metrics,
		onEvent: opts.OnEvent,
		ctx:     context.WithoutCancel(ctx),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(clock.Now().UnixNano())), 0),
		online:  opts.Online,
	}

	q.mu.Lock()
	if err := q.load(ctx); err != nil {
		q.mu.Unlock()
		return nil, err
	}
	q.metrics.SetQueueDepth(len(q.items), len(q.dead))
	q.mu.Unlock()

	if _, err := q.PurgeDeadLetters(ctx); err != nil {
		return nil, err
	}
	q.mu.Lock()
	q.schedulePurgeLocked()
	q.mu.Unlock()

	if q.Online() {
		q.kick()
	}
	return q, nil
}

// EnqueueParams describe a local mutation.
type EnqueueParams struct {
	Type     model.OperationType
	Entity   model.EntityType
	EntityID string
	Payload  json.RawMessage
}

// Enqueue persists a new pending operation. It fails with ErrQueueFull when
// the queue is at capacity. When online and idle a drain starts right away.
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (model.QueuedOperation, error) {
	if !model.ValidOperationTypes[p.Type] {
		return model.QueuedOperation{}, fmt.Errorf("%w: type %q", ErrInvalidOperation, p.Type)
	}
	if !model.ValidEntityTypes[p.Entity] {
		return model.QueuedOperation{}, fmt.Errorf("%w: entity %q", ErrInvalidOperation, p.Entity)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return model.QueuedOperation{}, ErrClosed
	}
	if len(q.items) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		q.log.Warn().Int("size", q.cfg.MaxQueueSize).Msg("queue full, waiting for connectivity")
		return model.QueuedOperation{}, ErrQueueFull
	}

	now := q.clock.Now().UTC()
	op := model.QueuedOperation{
		ID:          ulid.MustNew(ulid.Timestamp(now), q.entropy).String(),
		Type:        p.Type,
		Entity:      p.Entity,
		EntityID:    p.EntityID,
		Payload:     p.Payload,
		Timestamp:   now,
		NextRetryAt: now,
		Status:      model.StatusPending,
	}
	q.items = append(q.items, op)
	if err := q.persistLocked(ctx); err != nil {
		q.items = q.items[:len(q.items)-1]
		q.mu.Unlock()
		return model.QueuedOperation{}, fmt.Errorf("enqueue: %w", err)
	}
	trigger := q.online && !q.draining
	if q.draining {
		q.rerun = true
	}
	q.mu.Unlock()

	q.metrics.RecordQueueEvent(string(EventEnqueued), 1)
	q.log.Debug().Str("id", op.ID).Str("entity", string(op.Entity)).Str("entity_id", op.EntityID).Msg("enqueued")
	q.emit(Event{Type: EventEnqueued, Operations: []model.QueuedOperation{op}})
	if trigger {
		q.kick()
	}
	return op, nil
}

// Operations returns a copy of the queued operations in enqueue order.
func (q *Queue) Operations() []model.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// DeadLetters returns a copy of the dead-letter queue.
func (q *Queue) DeadLetters() []model.DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.dead)
}

// Status summarizes the queue.
type Status struct {
	Pending     int        `json:"pending"`
	Processing  int        `json:"processing"`
	DeadLetters int        `json:"deadLetters"`
	Online      bool       `json:"online"`
	Draining    bool       `json:"draining"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
}

// Status returns a snapshot of the queue counters.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Status{DeadLetters: len(q.dead), Online: q.online, Draining: q.draining}
	for _, op := range q.items {
		switch op.Status {
		case model.StatusProcessing:
			s.Processing++
		default:
			s.Pending++
		}
	}
	if next, ok := q.nextRetryLocked(); ok {
		s.NextRetryAt = &next
	}
	return s
}

// Online reports the current connectivity state.
func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// SetOnline records a connectivity change. Going online starts a drain;
// going offline only updates the state and leaves an in-flight batch alone.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	changed := q.online != online
	q.online = online
	if !online && q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	q.mu.Unlock()

	if !changed {
		return
	}
	q.log.Info().Bool("online", online).Msg("connectivity changed")
	if online {
		q.emit(Event{Type: EventOnline})
		q.kick()
	} else {
		q.emit(Event{Type: EventOffline})
	}
}

// ClearQueue drops every queued operation. It cannot be undone.
func (q *Queue) ClearQueue(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	prev := q.items
	q.items = nil
	if err := q.persistLocked(ctx); err != nil {
		q.items = prev
		return 0, err
	}
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	q.log.Warn().Int("dropped", n).Msg("queue cleared")
	q.metrics.RecordQueueEvent("cleared", n)
	return n, nil
}

// Close stops the timers and waits for a running drain to finish.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	if q.purgeTimer != nil {
		q.purgeTimer.Stop()
		q.purgeTimer = nil
	}
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}

// kick starts a background drain.
func (q *Queue) kick() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()
	go func() {
		defer q.wg.Done()
		if _, err := q.Drain(q.ctx); err != nil {
			q.log.Error().Err(err).Msg("drain")
		}
	}()
}

func (q *Queue) emit(e Event) {
	if q.onEvent != nil {
		q.onEvent(e)
	}
}
