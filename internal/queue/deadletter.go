package queue

import (
	"context"
	"fmt"

	"github.com/rcliao/profile-sync/internal/model"
)

// PurgeDeadLetters drops dead letters whose purge time has passed and emits
// an expiring event for those that will be purged within the warning window.
// It runs at startup and on the purge timer.
func (q *Queue) PurgeDeadLetters(ctx context.Context) (int, error) {
	q.mu.Lock()
	now := q.clock.Now().UTC()
	var purged, expiring []model.DeadLetterEntry
	kept := make([]model.DeadLetterEntry, 0, len(q.dead))
	for _, e := range q.dead {
		switch {
		case !e.PurgeAt.After(now):
			purged = append(purged, e)
		case e.PurgeAt.Sub(now) <= q.cfg.ExpiryWarning:
			expiring = append(expiring, e)
			kept = append(kept, e)
		default:
			kept = append(kept, e)
		}
	}
	if len(purged) > 0 {
		prev := q.dead
		q.dead = kept
		if err := q.persistLocked(ctx); err != nil {
			q.dead = prev
			q.mu.Unlock()
			return 0, fmt.Errorf("purge dead letters: %w", err)
		}
	}
	q.mu.Unlock()

	for _, e := range expiring {
		q.log.Warn().Str("id", e.Operation.ID).Time("purge_at", e.PurgeAt).
			Str("entity", string(e.Operation.Entity)).Msg("dead letter expiring soon")
	}
	if len(expiring) > 0 {
		q.emit(Event{Type: EventExpiring, DeadLetters: expiring})
	}
	if len(purged) > 0 {
		q.log.Warn().Int("purged", len(purged)).Msg("dead letters purged")
		q.metrics.RecordQueueEvent(string(EventPurged), len(purged))
		q.emit(Event{Type: EventPurged, DeadLetters: purged})
	}
	return len(purged), nil
}

// RetryDeadLetter moves one dead letter back to the queue with a fresh retry
// budget.
func (q *Queue) RetryDeadLetter(ctx context.Context, id string) error {
	n, err := q.requeue(ctx, func(e model.DeadLetterEntry) bool { return e.Operation.ID == id })
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// RetryAllDeadLetter moves every dead letter back to the queue.
func (q *Queue) RetryAllDeadLetter(ctx context.Context) (int, error) {
	return q.requeue(ctx, func(model.DeadLetterEntry) bool { return true })
}

func (q *Queue) requeue(ctx context.Context, match func(model.DeadLetterEntry) bool) (int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrClosed
	}
	now := q.clock.Now().UTC()
	prevItems, prevDead := q.items, q.dead
	var moved []model.QueuedOperation
	kept := make([]model.DeadLetterEntry, 0, len(q.dead))
	for _, e := range q.dead {
		if !match(e) {
			kept = append(kept, e)
			continue
		}
		op := e.Operation
		op.RetryCount = 0
		op.NextRetryAt = now
		op.Status = model.StatusPending
		moved = append(moved, op)
	}
	if len(moved) == 0 {
		q.mu.Unlock()
		return 0, nil
	}
	q.items = append(append([]model.QueuedOperation(nil), q.items...), moved...)
	q.dead = kept
	if err := q.persistLocked(ctx); err != nil {
		q.items, q.dead = prevItems, prevDead
		q.mu.Unlock()
		return 0, fmt.Errorf("retry dead letters: %w", err)
	}
	trigger := q.online && !q.draining
	if q.draining {
		q.rerun = true
	}
	q.mu.Unlock()

	q.log.Info().Int("requeued", len(moved)).Msg("dead letters requeued")
	q.metrics.RecordQueueEvent(string(EventRequeued), len(moved))
	q.emit(Event{Type: EventRequeued, Operations: moved})
	if trigger {
		q.kick()
	}
	return len(moved), nil
}

func (q *Queue) schedulePurgeLocked() {
	if q.closed {
		return
	}
	q.purgeTimer = q.clock.AfterFunc(q.cfg.PurgeInterval, func() {
		if _, err := q.PurgeDeadLetters(q.ctx); err != nil {
			q.log.Error().Err(err).Msg("purge dead letters")
		}
		q.mu.Lock()
		q.schedulePurgeLocked()
		q.mu.Unlock()
	})
}
