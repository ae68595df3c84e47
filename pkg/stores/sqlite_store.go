package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore persists benchmark history in SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path string
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init opens the database and applies connection PRAGMAs.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps in-memory databases and PRAGMAs consistent.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if s.path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveRun inserts or replaces a run together with its phase results in a
// single transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, release, status, started_at, finished_at, error, error_code, stats)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			error = excluded.error,
			error_code = excluded.error_code,
			stats = excluded.stats
	`,
		run.ID,
		run.Release,
		run.Status,
		toMillis(run.StartedAt),
		nullableMillis(run.FinishedAt),
		run.Error,
		run.ErrorCode,
		run.Stats,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM phase_results WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear phase results: %w", err)
	}

	for i, p := range run.Phases {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO phase_results (
				run_id, position, phase, success, elapsed_ms, setup_ms,
				failed_step, exit_code, started_at, finished_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID,
			i,
			p.Phase,
			p.Success,
			p.Elapsed.Milliseconds(),
			p.Setup.Milliseconds(),
			p.FailedStep,
			p.ExitCode,
			toMillis(p.StartedAt),
			toMillis(p.FinishedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save phase result %s: %w", p.Phase, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run and its phase results by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, release, status, started_at, finished_at, error, error_code, stats
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if run.Phases, err = s.phases(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns lists runs, newest first, with their phase results
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, release, status, started_at, finished_at, error, error_code, stats
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	rows.Close()

	// Phases are loaded after the cursor is closed; the store has one connection.
	for _, run := range runs {
		if run.Phases, err = s.phases(ctx, run.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// DeleteRun deletes a run by ID; its phase results cascade
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// SummarizePhases aggregates successful phase timings across all runs.
func (s *SQLiteStore) SummarizePhases(ctx context.Context) ([]PhaseSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phase, COUNT(*), AVG(elapsed_ms), MIN(elapsed_ms)
		FROM phase_results
		WHERE success = 1
		GROUP BY phase
		ORDER BY MIN(position), phase
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize phases: %w", err)
	}
	defer rows.Close()

	var out []PhaseSummary
	for rows.Next() {
		var (
			summary PhaseSummary
			avg     float64
			best    int64
		)
		if err := rows.Scan(&summary.Phase, &summary.Count, &avg, &best); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summary.Average = time.Duration(avg * float64(time.Millisecond))
		summary.Best = time.Duration(best) * time.Millisecond
		out = append(out, summary)
	}
	return out, rows.Err()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) phases(ctx context.Context, runID string) ([]PhaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phase, success, elapsed_ms, setup_ms, failed_step, exit_code, started_at, finished_at
		FROM phase_results
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query phase results: %w", err)
	}
	defer rows.Close()

	var out []PhaseRecord
	for rows.Next() {
		var (
			p                     PhaseRecord
			elapsed, setup        int64
			startedAt, finishedAt int64
		)
		if err := rows.Scan(&p.Phase, &p.Success, &elapsed, &setup, &p.FailedStep, &p.ExitCode, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan phase result: %w", err)
		}
		p.Elapsed = time.Duration(elapsed) * time.Millisecond
		p.Setup = time.Duration(setup) * time.Millisecond
		p.StartedAt = fromMillis(startedAt)
		p.FinishedAt = fromMillis(finishedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		startedAt  int64
		finishedAt sql.NullInt64
	)
	err := row.Scan(
		&run.ID,
		&run.Release,
		&run.Status,
		&startedAt,
		&finishedAt,
		&run.Error,
		&run.ErrorCode,
		&run.Stats,
	)
	if err != nil {
		return nil, err
	}
	run.StartedAt = fromMillis(startedAt)
	if finishedAt.Valid {
		t := fromMillis(finishedAt.Int64)
		run.FinishedAt = &t
	}
	return &run, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
