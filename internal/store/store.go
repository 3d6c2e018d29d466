// Package store persists sync state in SQLite: queue blobs, profile
// snapshots, pin history and the pending conflict report.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Snapshot names.
const (
	// SnapshotLocal is the working copy edited on this device.
	SnapshotLocal = "local"
	// SnapshotBase is the common ancestor from the last successful sync.
	SnapshotBase = "base"
	// SnapshotRemote is the last snapshot fetched from or pushed to the
	// backends.
	SnapshotRemote = "remote"
)

// ErrNotFound is returned when a snapshot or record does not exist.
var ErrNotFound = errors.New("store: not found")

// Snapshot is a stored profile blob.
type Snapshot struct {
	Name      string    `json:"name"`
	Data      []byte    `json:"data"`
	CID       string    `json:"cid,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PinRecord is one replication attempt.
type PinRecord struct {
	ID           string          `json:"id"`
	CID          string          `json:"cid,omitempty"`
	Success      bool            `json:"success"`
	SuccessCount int             `json:"successCount"`
	Required     int             `json:"required"`
	Results      json.RawMessage `json:"results,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UnpinnedAt   *time.Time      `json:"unpinnedAt,omitempty"`
}

// Store defines the sync state storage interface.
type Store interface {
	// Load and Save store opaque blobs by key. Load returns nil for a key
	// that was never saved. SaveAll writes several blobs in one transaction.
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	SaveAll(ctx context.Context, blobs map[string][]byte) error

	// GetSnapshot returns ErrNotFound for an unknown name.
	GetSnapshot(ctx context.Context, name string) (*Snapshot, error)
	// PutSnapshot writes the same blob under every name in one transaction.
	PutSnapshot(ctx context.Context, data []byte, cid string, names ...string) error

	RecordPin(ctx context.Context, rec PinRecord) (*PinRecord, error)
	ListPins(ctx context.Context, limit int) ([]PinRecord, error)
	// LatestPin returns the most recent successful replication.
	LatestPin(ctx context.Context) (*PinRecord, error)
	MarkUnpinned(ctx context.Context, cid string) error

	// SaveConflicts stores the pending conflict report; nil clears it.
	SaveConflicts(ctx context.Context, report []byte) error
	LoadConflicts(ctx context.Context) ([]byte, error)

	Close() error
}
