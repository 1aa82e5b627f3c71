package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const lastRunPrefix = "last_execution_"

const cronSchema = `
CREATE TABLE IF NOT EXISTS cron (
    id TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);`

// SQLiteLastRunStore keeps cron last-run times in the "cron" table, one row
// per job with id "last_execution_<name>" and the time in unix milliseconds.
type SQLiteLastRunStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at dsn and creates the cron table.
// dsn is a file path, a "file:" URI or ":memory:".
func OpenSQLite(dsn string) (*SQLiteLastRunStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}
	if _, err := db.Exec(cronSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cron table: %w", err)
	}
	return &SQLiteLastRunStore{db: db}, nil
}

func (s *SQLiteLastRunStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteLastRunStore) LastRun(ctx context.Context, name string) (time.Time, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cron WHERE id = ?`, lastRunPrefix+name).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query last run %s: %w", name, err)
	}
	return time.UnixMilli(ms), nil
}

func (s *SQLiteLastRunStore) SetLastRun(ctx context.Context, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron (id, value) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET value = excluded.value`,
		lastRunPrefix+name, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("store last run %s: %w", name, err)
	}
	return nil
}

// All returns every recorded last run.
func (s *SQLiteLastRunStore) All(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, value FROM cron WHERE id LIKE ?`, lastRunPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("query last runs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var ms int64
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, fmt.Errorf("scan last run: %w", err)
		}
		out[strings.TrimPrefix(id, lastRunPrefix)] = time.UnixMilli(ms)
	}
	return out, rows.Err()
}
