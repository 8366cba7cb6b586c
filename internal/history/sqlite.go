package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/sorabox/sorabox/internal/cost"
)

const activeIDsKey = "active_job_ids"

// SQLiteStore is a SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Pragmas apply per connection; a single pooled connection keeps them in
	// effect and serializes writers.
	db.SetMaxOpenConns(1)

	// WAL mode for better concurrent read performance.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	// The launch goroutines, the poller and the HTTP handlers all write; a
	// contended write must wait instead of failing with SQLITE_BUSY.
	if _, err = db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			id           TEXT PRIMARY KEY,
			timestamp    DATETIME NOT NULL,
			filename     TEXT NOT NULL,
			storage_mode TEXT NOT NULL DEFAULT '',
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			model        TEXT NOT NULL,
			size         TEXT NOT NULL,
			seconds      INTEGER NOT NULL,
			prompt       TEXT NOT NULL,
			mode         TEXT NOT NULL,
			cost         TEXT,
			remix_of     TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'processing',
			error        TEXT NOT NULL DEFAULT '',
			progress     INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_history_status    ON history(status);
		CREATE INDEX IF NOT EXISTS idx_history_timestamp ON history(timestamp);

		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

func (s *SQLiteStore) Insert(ctx context.Context, e *Entry) error {
	costJSON, err := marshalCost(e.Cost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO history
			(id, timestamp, filename, storage_mode, duration_ms, model, size, seconds,
			 prompt, mode, cost, remix_of, status, error, progress)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Timestamp.UTC(), e.Filename, e.StorageMode, e.DurationMs,
		e.Model, e.Size, e.Seconds, e.Prompt, e.Mode,
		costJSON, e.RemixOf, e.Status, e.Error, e.Progress,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

const entryColumns = `id, timestamp, filename, storage_mode, duration_ms, model, size,
	seconds, prompt, mode, cost, remix_of, status, error, progress`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM history WHERE id = ?`, id)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get history entry %s: %w", id, err)
	}
	return e, nil
}

// List returns entries ordered newest-first with pagination, and the total count.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM history ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate history: %w", err)
	}
	return entries, total, nil
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, id string, progress int, status Status) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE history SET progress = ?, status = ? WHERE id = ?
	`, progress, status, id)
	if err != nil {
		return fmt.Errorf("update progress for %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Complete(ctx context.Context, id string, durationMs int64, storageMode string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE history
		SET status = ?, duration_ms = ?, storage_mode = ?, progress = 100
		WHERE id = ?
	`, StatusCompleted, durationMs, storageMode, id)
	if err != nil {
		return fmt.Errorf("complete history entry %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Fail(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE history SET status = ?, error = ?, cost = NULL WHERE id = ?
	`, StatusFailed, errMsg, id)
	if err != nil {
		return fmt.Errorf("fail history entry %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete history entry %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history`)
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveActiveIDs(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal active ids: %w", err)
	}
	return s.SetSetting(ctx, activeIDsKey, string(data))
}

func (s *SQLiteStore) LoadActiveIDs(ctx context.Context) ([]string, error) {
	raw, err := s.GetSetting(ctx, activeIDsKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal active ids: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// GetSetting returns the stored value, or "" when the key is absent.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	e := &Entry{}
	var costJSON sql.NullString

	err := row.Scan(
		&e.ID, &e.Timestamp, &e.Filename, &e.StorageMode, &e.DurationMs,
		&e.Model, &e.Size, &e.Seconds, &e.Prompt, &e.Mode,
		&costJSON, &e.RemixOf, &e.Status, &e.Error, &e.Progress,
	)
	if err != nil {
		return nil, err
	}

	if costJSON.Valid && costJSON.String != "" {
		var d cost.Details
		if err := json.Unmarshal([]byte(costJSON.String), &d); err != nil {
			return nil, fmt.Errorf("unmarshal cost details: %w", err)
		}
		e.Cost = &d
	}
	return e, nil
}

func marshalCost(d *cost.Details) (any, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal cost details: %w", err)
	}
	return string(data), nil
}
