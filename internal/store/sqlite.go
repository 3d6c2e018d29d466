package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; queue persistence and snapshot writes serialize here.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		name       TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		cid        TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pins (
		id            TEXT PRIMARY KEY,
		cid           TEXT,
		success       INTEGER NOT NULL,
		success_count INTEGER NOT NULL,
		required      INTEGER NOT NULL,
		results       TEXT,
		created_at    TEXT NOT NULL,
		unpinned_at   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_pins_cid ON pins(cid);
	CREATE INDEX IF NOT EXISTS idx_pins_created ON pins(created_at DESC);

	CREATE TABLE IF NOT EXISTS conflict_report (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		report     TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return data, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, data, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) SaveAll(ctx context.Context, blobs map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	for key, data := range blobs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, data, now)
		if err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	snap := &Snapshot{Name: name}
	var cid sql.NullString
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, cid, updated_at FROM snapshots WHERE name = ?`, name).
		Scan(&snap.Data, &cid, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	snap.CID = cid.String
	snap.UpdatedAt = parseTime(updatedAt)
	return snap, nil
}

func (s *SQLiteStore) PutSnapshot(ctx context.Context, data []byte, cid string, names ...string) error {
	if len(names) == 0 {
		return errors.New("put snapshot: no name given")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	for _, name := range names {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (name, data, cid, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET data = excluded.data, cid = excluded.cid, updated_at = excluded.updated_at`,
			name, data, nullString(cid), now)
		if err != nil {
			return fmt.Errorf("put snapshot %s: %w", name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) RecordPin(ctx context.Context, rec PinRecord) (*PinRecord, error) {
	rec.ID = s.newID()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var results *string
	if len(rec.Results) > 0 {
		r := string(rec.Results)
		results = &r
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pins (id, cid, success, success_count, required, results, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, nullString(rec.CID), rec.Success, rec.SuccessCount, rec.Required, results, formatTime(rec.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert pin: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) ListPins(ctx context.Context, limit int) ([]PinRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cid, success, success_count, required, results, created_at, unpinned_at
		 FROM pins ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pins []PinRecord
	for rows.Next() {
		p, err := scanPin(rows)
		if err != nil {
			return nil, err
		}
		pins = append(pins, p)
	}
	return pins, rows.Err()
}

func (s *SQLiteStore) LatestPin(ctx context.Context) (*PinRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, cid, success, success_count, required, results, created_at, unpinned_at
		 FROM pins WHERE success = 1 AND unpinned_at IS NULL
		 ORDER BY created_at DESC, id DESC LIMIT 1`)
	p, err := scanPin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pin: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) MarkUnpinned(ctx context.Context, cid string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pins SET unpinned_at = ? WHERE cid = ? AND unpinned_at IS NULL`,
		formatTime(time.Now()), cid)
	return err
}

func (s *SQLiteStore) SaveConflicts(ctx context.Context, report []byte) error {
	if report == nil {
		_, err := s.db.ExecContext(ctx, `DELETE FROM conflict_report`)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conflict_report (id, report, created_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET report = excluded.report, created_at = excluded.created_at`,
		string(report), formatTime(time.Now()))
	return err
}

func (s *SQLiteStore) LoadConflicts(ctx context.Context) ([]byte, error) {
	var report string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM conflict_report WHERE id = 1`).Scan(&report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(report), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPin(row scanner) (PinRecord, error) {
	var p PinRecord
	var cid, results, unpinnedAt sql.NullString
	var createdAt string

	err := row.Scan(&p.ID, &cid, &p.Success, &p.SuccessCount, &p.Required, &results, &createdAt, &unpinnedAt)
	if err != nil {
		return p, err
	}
	p.CID = cid.String
	p.CreatedAt = parseTime(createdAt)
	if results.Valid {
		p.Results = []byte(results.String)
	}
	if unpinnedAt.Valid {
		t := parseTime(unpinnedAt.String)
		p.UnpinnedAt = &t
	}
	return p, nil
}

// timeFormat has a fixed width so that stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
