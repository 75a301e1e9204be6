package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoRuns is returned when a query finds no matching run.
var ErrNoRuns = errors.New("no recorded runs")

// Store handles all database operations
type Store struct {
	db *sql.DB
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single writer keeps SQLite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", dbPath, err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		status TEXT NOT NULL,
		final_url TEXT,
		screenshot_path TEXT,
		error TEXT,
		trigger TEXT NOT NULL DEFAULT 'cli'
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts a run and sets its ID
func (s *Store) SaveRun(r *Run) error {
	res, err := s.db.Exec(`
		INSERT INTO runs (started_at, duration_ms, status, final_url, screenshot_path, error, trigger)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.StartedAt.UTC(), r.Duration.Milliseconds(), r.Status, r.FinalURL,
		r.ScreenshotPath, r.Error, r.Trigger)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

// RecentRuns returns up to limit runs, newest first
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, duration_ms, status, final_url, screenshot_path, error, trigger
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

// LastSuccess returns the most recent verified login
func (s *Store) LastSuccess() (*Run, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, duration_ms, status, final_url, screenshot_path, error, trigger
		FROM runs
		WHERE status = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, StatusSuccess)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	return &runs[0], nil
}

// CountByStatus tallies runs started at or after since
func (s *Store) CountByStatus(since time.Time) ([]StatusCount, error) {
	rows, err := s.db.Query(`
		SELECT status, COUNT(*)
		FROM runs
		WHERE started_at >= ?
		GROUP BY status
		ORDER BY status
	`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// PruneBefore deletes runs started before cutoff and reports how many went
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var r Run
		var durationMS int64
		var finalURL, screenshot, errText sql.NullString

		err := rows.Scan(
			&r.ID, &r.StartedAt, &durationMS, &r.Status,
			&finalURL, &screenshot, &errText, &r.Trigger,
		)
		if err != nil {
			return nil, err
		}

		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.FinalURL = finalURL.String
		r.ScreenshotPath = screenshot.String
		r.Error = errText.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
