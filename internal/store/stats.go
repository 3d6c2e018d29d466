package store

import (
	"context"
	"os"
	"time"
)

// Stats holds database statistics.
type Stats struct {
	DBPath       string          `json:"db_path"`
	DBSizeBytes  int64           `json:"db_size_bytes"`
	Snapshots    []SnapshotStats `json:"snapshots"`
	TotalPins    int             `json:"total_pins"`
	FailedPins   int             `json:"failed_pins"`
	LastCID      string          `json:"last_cid,omitempty"`
	HasConflicts bool            `json:"has_conflicts"`
	StateKeys    int             `json:"state_keys"`
	StateBytes   int64           `json:"state_bytes"`
}

// SnapshotStats describes one stored snapshot.
type SnapshotStats struct {
	Name      string    `json:"name"`
	Bytes     int       `json:"bytes"`
	CID       string    `json:"cid,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pins`).Scan(&st.TotalPins)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pins WHERE success = 0`).Scan(&st.FailedPins)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(LENGTH(value)), 0) FROM kv`).Scan(&st.StateKeys, &st.StateBytes)
	var n int
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflict_report`).Scan(&n)
	st.HasConflicts = n > 0
	if p, err := s.LatestPin(ctx); err == nil {
		st.LastCID = p.CID
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, LENGTH(data), cid, updated_at FROM snapshots ORDER BY name`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ss SnapshotStats
		var cid *string
		var updatedAt string
		if err := rows.Scan(&ss.Name, &ss.Bytes, &cid, &updatedAt); err != nil {
			return st, err
		}
		if cid != nil {
			ss.CID = *cid
		}
		ss.UpdatedAt = parseTime(updatedAt)
		st.Snapshots = append(st.Snapshots, ss)
	}

	return st, rows.Err()
}
