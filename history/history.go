// Package history records crawl runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Custom errors for history operations
var (
	ErrRunNotFound = errors.New("run not found")
)

// Run status values
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one crawl execution.
type Run struct {
	RunID          uuid.UUID  `json:"run_id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Status         string     `json:"status"`
	PagesScanned   int        `json:"pages_scanned"`
	LinksCollected int        `json:"links_collected"`
	PostsExtracted int        `json:"posts_extracted"`
	PostsAdded     int        `json:"posts_added"`
	CorpusSize     int        `json:"corpus_size"`
	Error          *string    `json:"error,omitempty"`
}

// Store manages the run history using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens (or creates) the history database at dsn.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the runs table if it doesn't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		pages_scanned INTEGER DEFAULT 0,
		links_collected INTEGER DEFAULT 0,
		posts_extracted INTEGER DEFAULT 0,
		posts_added INTEGER DEFAULT 0,
		corpus_size INTEGER DEFAULT 0,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Start inserts a new run in the running state.
func (s *Store) Start(ctx context.Context) (*Run, error) {
	run := &Run{
		RunID:     uuid.New(),
		StartedAt: s.now(),
		Status:    StatusRunning,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, status) VALUES (?, ?, ?)`,
		run.RunID.String(), formatTime(run.StartedAt), run.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	return run, nil
}

// Finish stores the final counters of run. A nil runErr marks the run as
// succeeded.
func (s *Store) Finish(ctx context.Context, run *Run, runErr error) error {
	finished := s.now()
	run.FinishedAt = &finished
	run.Status = StatusSucceeded
	run.Error = nil
	if runErr != nil {
		msg := runErr.Error()
		run.Status = StatusFailed
		run.Error = &msg
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?, status = ?, pages_scanned = ?, links_collected = ?,
			posts_extracted = ?, posts_added = ?, corpus_size = ?, error = ?
		WHERE run_id = ?`,
		formatTime(finished), run.Status, run.PagesScanned, run.LinksCollected,
		run.PostsExtracted, run.PostsAdded, run.CorpusSize, run.Error,
		run.RunID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRunNotFound
	}

	return nil
}

// Get retrieves a run by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE run_id = ?`, id.String())
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := selectRuns + ` ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

const selectRuns = `
	SELECT run_id, started_at, finished_at, status, pages_scanned,
		links_collected, posts_extracted, posts_added, corpus_size, error
	FROM runs`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run        Run
		runID      string
		startedAt  string
		finishedAt sql.NullString
		errMsg     sql.NullString
	)

	err := row.Scan(
		&runID, &startedAt, &finishedAt, &run.Status, &run.PagesScanned,
		&run.LinksCollected, &run.PostsExtracted, &run.PostsAdded,
		&run.CorpusSize, &errMsg,
	)
	if err != nil {
		return nil, err
	}

	run.RunID, err = uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("invalid run_id: %w", err)
	}
	run.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid started_at: %w", err)
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid finished_at: %w", err)
		}
		run.FinishedAt = &t
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}

	return &run, nil
}

// timeLayout is RFC3339 with a fixed-width fraction so that stored strings
// sort in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
