package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yangwenmai/pagesmith/internal/model"
)

// Verify at compile time that Store implements all interfaces.
var (
	_ RunReader   = (*Store)(nil)
	_ RunWriter   = (*Store)(nil)
	_ RunRecovery = (*Store)(nil)
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// defaultListLimit caps ListRuns when the filter sets no limit.
const defaultListLimit = 100

// Store is the run ledger backed by SQLite. It records what happened to each
// accepted request; nothing in the pipeline reads it back.
type Store struct {
	db *sql.DB
}

// New creates a new Store and initialises the schema.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// Index 0 = migration from v0 to v1, etc.
	migrations := []func() error{
		s.migrateV1, // v0 → v1: runs table
		s.migrateV2, // v1 → v2: page_title column
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) migrateV1() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		task        TEXT NOT NULL,
		round       INTEGER NOT NULL,
		email       TEXT NOT NULL,
		nonce       TEXT NOT NULL,
		status      TEXT NOT NULL,
		failed_step TEXT,
		error_info  TEXT,
		repo_url    TEXT NOT NULL DEFAULT '',
		commit_sha  TEXT NOT NULL DEFAULT '',
		pages_url   TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status, updated_at);
	`)
	return err
}

func (s *Store) migrateV2() error {
	_, err := s.db.Exec(`ALTER TABLE runs ADD COLUMN page_title TEXT NOT NULL DEFAULT ''`)
	return err
}

const runColumns = `id, task, round, email, nonce, status, failed_step, error_info, repo_url, commit_sha, pages_url, page_title, created_at, updated_at`

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// CreateRun inserts a new run.
func (s *Store) CreateRun(ctx context.Context, r model.Run) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Task, int(r.Round), r.Email, r.Nonce, r.Status, r.FailedStep, r.ErrorInfo,
		r.RepoURL, r.CommitSHA, r.PagesURL, r.PageTitle, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

// MarkRunning moves an ACCEPTED run to RUNNING.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	return s.transition(ctx, id, `UPDATE runs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		model.RunRunning, now(), id, model.RunAccepted)
}

// CompleteRun marks a run SUCCEEDED and records what it published.
func (s *Store) CompleteRun(ctx context.Context, id string, out model.RunOutcome) error {
	return s.transition(ctx, id, `
		UPDATE runs SET status = ?, repo_url = ?, commit_sha = ?, pages_url = ?, page_title = ?, updated_at = ?
		WHERE id = ?`,
		model.RunSucceeded, out.RepoURL, out.CommitSHA, out.PagesURL, out.PageTitle, now(), id)
}

// FailRun marks a run FAILED with the step that aborted it.
func (s *Store) FailRun(ctx context.Context, id, failedStep string, errorInfo *string) error {
	return s.transition(ctx, id, `UPDATE runs SET status = ?, failed_step = ?, error_info = ?, updated_at = ? WHERE id = ?`,
		model.RunFailed, failedStep, errorInfo, now(), id)
}

// ResetStaleRuns marks runs that were still ACCEPTED or RUNNING as ABANDONED.
// It is called once at startup; a restart loses in-flight work.
func (s *Store) ResetStaleRuns(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ?, updated_at = ? WHERE status IN (?, ?)`,
		model.RunAbandoned, now(), model.RunAccepted, model.RunRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) transition(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// GetRun returns a single run.
func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRuns returns runs matching the filter, newest first.
func (s *Store) ListRuns(ctx context.Context, f model.RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var conditions []string
	var args []any

	if f.Task != "" {
		conditions = append(conditions, "task = ?")
		args = append(args, f.Task)
	}
	if len(f.Status) > 0 {
		placeholders := make([]string, len(f.Status))
		for i, st := range f.Status {
			placeholders[i] = "?"
			args = append(args, st)
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// CountByStatus returns the number of runs per status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var r model.Run
	var round int
	err := row.Scan(&r.ID, &r.Task, &round, &r.Email, &r.Nonce, &r.Status, &r.FailedStep, &r.ErrorInfo,
		&r.RepoURL, &r.CommitSHA, &r.PagesURL, &r.PageTitle, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Round = model.Round(round)
	return &r, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
