package store

import (
	"context"
	"fmt"
	"time"
)

// Backup is a portable copy of the sync state: queue blobs and snapshots.
// Pin history and the conflict report are not included.
type Backup struct {
	CreatedAt time.Time         `json:"createdAt"`
	State     map[string][]byte `json:"state"`
	Snapshots []Snapshot        `json:"snapshots"`
}

// ExportAll returns every state blob and snapshot.
func (s *SQLiteStore) ExportAll(ctx context.Context) (*Backup, error) {
	b := &Backup{CreatedAt: time.Now().UTC(), State: map[string][]byte{}}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv ORDER BY key`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return nil, err
		}
		b.State[key] = value
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT name, data, cid, updated_at FROM snapshots ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var snap Snapshot
		var cid *string
		var updatedAt string
		if err := rows.Scan(&snap.Name, &snap.Data, &cid, &updatedAt); err != nil {
			return nil, err
		}
		if cid != nil {
			snap.CID = *cid
		}
		snap.UpdatedAt = parseTime(updatedAt)
		b.Snapshots = append(b.Snapshots, snap)
	}
	return b, rows.Err()
}

// Import restores a backup, overwriting keys and snapshots it contains.
// It returns the number of records written.
func (s *SQLiteStore) Import(ctx context.Context, b *Backup) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	imported := 0
	now := formatTime(time.Now())
	for key, value := range b.State {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now)
		if err != nil {
			return 0, fmt.Errorf("import %s: %w", key, err)
		}
		imported++
	}
	for _, snap := range b.Snapshots {
		updatedAt := now
		if !snap.UpdatedAt.IsZero() {
			updatedAt = formatTime(snap.UpdatedAt)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (name, data, cid, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET data = excluded.data, cid = excluded.cid, updated_at = excluded.updated_at`,
			snap.Name, snap.Data, nullString(snap.CID), updatedAt)
		if err != nil {
			return 0, fmt.Errorf("import snapshot %s: %w", snap.Name, err)
		}
		imported++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return imported, nil
}
