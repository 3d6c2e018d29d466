package queue

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/rcliao/profile-sync/internal/model"
)

// DrainResult describes one drain cycle.
type DrainResult struct {
	// Skipped is set when another drain was already running; that drain
	// runs again once it finishes.
	Skipped      bool
	Attempted    int
	Synced       int
	Retried      int
	DeadLettered int
	Err          error
}

// Drain runs one drain cycle: every pending operation that is due is handed
// to the executor as one batch ordered by enqueue time. A batch failure is
// reported in DrainResult.Err; the returned error is only set when the
// queue state could not be persisted.
//
// Drain runs whatever the connectivity state; automatic drains only start
// while online.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	q.mu.Lock()
	if q.draining {
		q.rerun = true
		q.mu.Unlock()
		return DrainResult{Skipped: true}, nil
	}
	q.draining = true
	q.rerun = false
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}

	now := q.clock.Now().UTC()
	var batch []model.QueuedOperation
	for i := range q.items {
		op := &q.items[i]
		if op.Status != model.StatusPending || op.NextRetryAt.After(now) {
			continue
		}
		op.Status = model.StatusProcessing
		batch = append(batch, *op)
	}
	if len(batch) == 0 {
		q.finishLocked()
		return DrainResult{}, nil
	}
	if err := q.persistLocked(ctx); err != nil {
		q.revertLocked(batch)
		q.finishLocked()
		return DrainResult{}, err
	}
	q.mu.Unlock()

	sortBatch(batch)
	q.log.Debug().Int("batch", len(batch)).Msg("draining")
	start := q.clock.Now()
	execErr := q.exec(ctx, batch)
	q.metrics.RecordDrain(q.clock.Now().Sub(start), execErr)

	q.mu.Lock()
	res := DrainResult{Attempted: len(batch), Err: execErr}
	var events []Event
	if execErr == nil {
		res.Synced = q.removeLocked(batch)
		events = append(events, Event{Type: EventSynced, Operations: batch})
	} else {
		events = q.failLocked(batch, execErr, &res)
	}
	persistErr := q.persistLocked(ctx)
	q.finishLocked()

	q.metrics.RecordQueueEvent(string(EventSynced), res.Synced)
	q.metrics.RecordQueueEvent(string(EventRetryLater), res.Retried)
	q.metrics.RecordQueueEvent(string(EventDeadLettered), res.DeadLettered)
	if execErr != nil {
		q.log.Warn().Err(execErr).Int("batch", len(batch)).Int("retried", res.Retried).
			Int("dead_lettered", res.DeadLettered).Msg("batch sync failed")
	} else {
		q.log.Info().Int("synced", res.Synced).Msg("batch synced")
	}
	for _, e := range events {
		q.emit(e)
	}
	return res, persistErr
}

// failLocked applies a whole-batch failure.
func (q *Queue) failLocked(batch []model.QueuedOperation, execErr error, res *DrainResult) []Event {
	now := q.clock.Now().UTC()
	inBatch := make(map[string]bool, len(batch))
	for _, op := range batch {
		inBatch[op.ID] = true
	}

	var retried, dead []model.QueuedOperation
	var deadEntries []model.DeadLetterEntry
	kept := q.items[:0]
	for _, op := range q.items {
		if !inBatch[op.ID] {
			kept = append(kept, op)
			continue
		}
		op.RetryCount++
		if op.RetryCount >= q.cfg.MaxRetries {
			op.Status = model.StatusDead
			entry := model.DeadLetterEntry{
				Operation: op,
				LastError: execErr.Error(),
				FailedAt:  now,
				PurgeAt:   now.Add(q.cfg.DeadLetterTTL),
			}
			q.dead = append(q.dead, entry)
			deadEntries = append(deadEntries, entry)
			dead = append(dead, op)
			continue
		}
		op.Status = model.StatusPending
		op.NextRetryAt = now.Add(Backoff(q.cfg, op.RetryCount))
		retried = append(retried, op)
		kept = append(kept, op)
	}
	q.items = kept
	res.Retried = len(retried)
	res.DeadLettered = len(dead)

	var events []Event
	if len(retried) > 0 {
		events = append(events, Event{Type: EventRetryLater, Operations: retried, Err: execErr, RetryAt: retried[0].NextRetryAt})
	}
	if len(dead) > 0 {
		events = append(events, Event{Type: EventDeadLettered, Operations: dead, DeadLetters: deadEntries, Err: execErr})
	}
	return events
}

// Backoff returns the delay before the next attempt of an operation that has
// failed retryCount times: min(initial * 2^retryCount, max).
func Backoff(cfg Config, retryCount int) time.Duration {
	cfg = cfg.withDefaults()
	d := cfg.InitialRetryDelay
	for range retryCount {
		d *= 2
		if d >= cfg.MaxRetryDelay || d <= 0 {
			return cfg.MaxRetryDelay
		}
	}
	return min(d, cfg.MaxRetryDelay)
}

// removeLocked drops synced operations. Operations cleared while the batch
// was in flight are already gone.
func (q *Queue) removeLocked(batch []model.QueuedOperation) int {
	done := make(map[string]bool, len(batch))
	for _, op := range batch {
		done[op.ID] = true
	}
	n := len(q.items)
	q.items = slices.DeleteFunc(q.items, func(op model.QueuedOperation) bool { return done[op.ID] })
	return n - len(q.items)
}

// sortBatch orders a batch by enqueue time so that mutations of one entity
// reach the executor in submission order.
func sortBatch(batch []model.QueuedOperation) {
	slices.SortStableFunc(batch, func(a, b model.QueuedOperation) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func (q *Queue) revertLocked(batch []model.QueuedOperation) {
	in := make(map[string]bool, len(batch))
	for _, op := range batch {
		in[op.ID] = true
	}
	for i := range q.items {
		if in[q.items[i].ID] {
			q.items[i].Status = model.StatusPending
		}
	}
}

// finishLocked ends a drain cycle, schedules the next one, and releases
// q.mu.
func (q *Queue) finishLocked() {
	q.draining = false
	rerun := q.rerun && q.online && !q.closed
	q.rerun = false
	if !rerun {
		q.scheduleRetryLocked()
	}
	q.mu.Unlock()
	if rerun {
		q.kick()
	}
}

// scheduleRetryLocked arms the retry timer for the earliest pending
// operation while online.
func (q *Queue) scheduleRetryLocked() {
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	if !q.online || q.closed {
		return
	}
	next, ok := q.nextRetryLocked()
	if !ok {
		return
	}
	delay := max(next.Sub(q.clock.Now()), 0)
	q.retryTimer = q.clock.AfterFunc(delay, q.kick)
	q.log.Debug().Dur("delay", delay).Msg("next drain scheduled")
}

func (q *Queue) nextRetryLocked() (time.Time, bool) {
	var next time.Time
	found := false
	for _, op := range q.items {
		if op.Status != model.StatusPending {
			continue
		}
		if !found || op.NextRetryAt.Before(next) {
			next = op.NextRetryAt
			found = true
		}
	}
	return next, found
}
