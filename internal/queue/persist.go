package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/rcliao/profile-sync/internal/model"
)

// Storage keys of the two persisted collections.
const (
	QueueKey      = "sync_queue"
	DeadLetterKey = "dead_letter_queue"
)

// stateVersion is written into every persisted envelope.
const stateVersion = 1

// Persister stores opaque blobs by key. Load returns nil data and no error
// for a key that was never saved. SaveAll writes every blob or none of them.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, error)
	SaveAll(ctx context.Context, blobs map[string][]byte) error
}

type envelope[T any] struct {
	Version int `json:"version"`
	Items   []T `json:"items"`
}

func encodeState[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(envelope[T]{Version: stateVersion, Items: items})
}

// decodeState accepts the versioned envelope and the legacy bare array,
// which is treated as version 0.
func decodeState[T any](data []byte) ([]T, int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, stateVersion, nil
	}
	if data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, 0, fmt.Errorf("decode legacy state: %w", err)
		}
		return items, 0, nil
	}
	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, 0, fmt.Errorf("decode state: %w", err)
	}
	if env.Version > stateVersion {
		return nil, env.Version, fmt.Errorf("decode state: unsupported version %d", env.Version)
	}
	return env.Items, env.Version, nil
}

// load reads both collections and resets operations that were in flight when
// the process stopped.
func (q *Queue) load(ctx context.Context) error {
	raw, err := q.store.Load(ctx, QueueKey)
	if err != nil {
		return fmt.Errorf("load %s: %w", QueueKey, err)
	}
	items, version, err := decodeState[model.QueuedOperation](raw)
	if err != nil {
		return fmt.Errorf("load %s: %w", QueueKey, err)
	}
	reset := 0
	for i := range items {
		if items[i].Status == model.StatusProcessing || items[i].Status == model.StatusFailed || items[i].Status == "" {
			items[i].Status = model.StatusPending
			reset++
		}
	}

	raw, err = q.store.Load(ctx, DeadLetterKey)
	if err != nil {
		return fmt.Errorf("load %s: %w", DeadLetterKey, err)
	}
	dead, deadVersion, err := decodeState[model.DeadLetterEntry](raw)
	if err != nil {
		return fmt.Errorf("load %s: %w", DeadLetterKey, err)
	}

	// An operation is never in both collections; the dead letter wins.
	deadIDs := make(map[string]bool, len(dead))
	for _, e := range dead {
		deadIDs[e.Operation.ID] = true
	}
	dup := 0
	items = slices.DeleteFunc(items, func(op model.QueuedOperation) bool {
		if deadIDs[op.ID] {
			dup++
			return true
		}
		return false
	})

	q.items = items
	q.dead = dead
	if dup > 0 {
		q.log.Warn().Int("duplicates", dup).Msg("dropped queued operations already dead-lettered")
	}
	if reset > 0 || dup > 0 || version < stateVersion || deadVersion < stateVersion {
		q.log.Info().Int("reset", reset).Int("version", version).Msg("restored queue state")
		return q.persistLocked(ctx)
	}
	return nil
}

// persistLocked writes both collections in one atomic save, so an operation
// moving to dead letters is never missing from both. Callers hold q.mu.
func (q *Queue) persistLocked(ctx context.Context) error {
	items, err := encodeState(q.items)
	if err != nil {
		return err
	}
	dead, err := encodeState(q.dead)
	if err != nil {
		return err
	}
	if err := q.store.SaveAll(ctx, map[string][]byte{QueueKey: items, DeadLetterKey: dead}); err != nil {
		return fmt.Errorf("save queue state: %w", err)
	}
	q.metrics.SetQueueDepth(len(q.items), len(q.dead))
	return nil
}
