// Package sqlite persists cycle attempt bookkeeping so retry caps survive
// restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/gfs-forecast-service/internal/cycle"
)

// Ledger implements cycle.Ledger on a SQLite file.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at path and ensures the schema.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}
	// modernc sqlite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cycle_attempts (
			cycle_id TEXT PRIMARY KEY,
			attempts INTEGER NOT NULL,
			last_attempt TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cycle_attempts table: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Get(ctx context.Context, cycleID string) (cycle.Attempt, bool, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT cycle_id, attempts, last_attempt, status, error FROM cycle_attempts WHERE cycle_id = ?`, cycleID)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cycle.Attempt{}, false, nil
	}
	if err != nil {
		return cycle.Attempt{}, false, fmt.Errorf("querying attempt %s: %w", cycleID, err)
	}
	return a, true, nil
}

func (l *Ledger) Put(ctx context.Context, a cycle.Attempt) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO cycle_attempts (cycle_id, attempts, last_attempt, status, error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cycle_id) DO UPDATE SET
			attempts = excluded.attempts,
			last_attempt = excluded.last_attempt,
			status = excluded.status,
			error = excluded.error`,
		a.CycleID, a.Attempts, a.LastAttempt.UTC().Format(time.RFC3339Nano), string(a.Status), a.Error)
	if err != nil {
		return fmt.Errorf("storing attempt %s: %w", a.CycleID, err)
	}
	return nil
}

func (l *Ledger) List(ctx context.Context) ([]cycle.Attempt, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT cycle_id, attempts, last_attempt, status, error FROM cycle_attempts ORDER BY cycle_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var out []cycle.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (l *Ledger) DeleteBefore(ctx context.Context, cycleID string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM cycle_attempts WHERE cycle_id < ?`, cycleID); err != nil {
		return fmt.Errorf("pruning attempts: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(s scanner) (cycle.Attempt, error) {
	var (
		a      cycle.Attempt
		last   string
		status string
	)
	if err := s.Scan(&a.CycleID, &a.Attempts, &last, &status, &a.Error); err != nil {
		return cycle.Attempt{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, last)
	if err != nil {
		return cycle.Attempt{}, fmt.Errorf("parsing last_attempt %q: %w", last, err)
	}
	a.LastAttempt = t
	a.Status = cycle.Status(status)
	return a, nil
}

var _ cycle.Ledger = (*Ledger)(nil)
