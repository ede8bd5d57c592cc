// Package store is the Postgres run registry: one row per research run plus
// recurring schedules and API users. The filesystem run directory stays the
// source of truth for state and reports; the registry is what `history` and
// the server list from.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Run statuses persisted in the registry.
const (
	RunStatusRunning     = "running"
	RunStatusCompleted   = "completed"
	RunStatusFailed      = "failed"
	RunStatusInterrupted = "interrupted"
)

// Run is one registry row.
type Run struct {
	ID           string
	Query        string
	Status       string
	Tier         string
	RunDir       string
	ReportPath   string
	TotalCost    float64
	TotalTokens  int64
	CoverageGaps []string
	Error        *string
	CreatedAt    time.Time
	FinishedAt   *time.Time
}

// Schedule is a recurring research query driven by the server scheduler.
type Schedule struct {
	ID        string
	Query     string
	Cron      string
	Enabled   bool
	LastRunAt *time.Time
	CreatedAt time.Time
}

type Store struct {
	DB *sql.DB
}

// New connects using DATABASE_URL or the POSTGRES_* variables.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// Run operations

// CreateRun registers a run as running. The ID comes from the caller so the
// registry row matches the run directory on disk.
func (s *Store) CreateRun(ctx context.Context, id, query, runDir string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO runs (id, query, status, run_dir, created_at)
VALUES ($1,$2,$3,$4,NOW())
`, id, query, RunStatusRunning, runDir)
	if err != nil {
		return fmt.Errorf("create run %s: %w", id, err)
	}
	return nil
}

// SetRunStatus updates only the status column.
func (s *Store) SetRunStatus(ctx context.Context, id, status string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE runs SET status=$2 WHERE id=$1`, id, status)
	return err
}

// FinishRun records the run's terminal state: status, degradation tier,
// spend totals, report location and any error message.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE runs SET
  status=$2, tier=$3, total_cost=$4, total_tokens=$5,
  report_path=$6, coverage_gaps=$7, error=$8, finished_at=NOW()
WHERE id=$1
`, run.ID, run.Status, run.Tier, run.TotalCost, run.TotalTokens,
		run.ReportPath, pq.Array(run.CoverageGaps), run.Error)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, query, status, tier, run_dir, report_path, total_cost, total_tokens, coverage_gaps, error, created_at, finished_at`

// GetRun fetches one run; the bool reports whether it exists.
func (s *Store) GetRun(ctx context.Context, id string) (Run, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=$1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run        Run
		tier       sql.NullString
		reportPath sql.NullString
		gaps       pq.StringArray
		errMsg     sql.NullString
		finishedAt sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Query, &run.Status, &tier, &run.RunDir,
		&reportPath, &run.TotalCost, &run.TotalTokens, &gaps, &errMsg,
		&run.CreatedAt, &finishedAt); err != nil {
		return Run{}, err
	}
	run.Tier = tier.String
	run.ReportPath = reportPath.String
	run.CoverageGaps = []string(gaps)
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return run, nil
}

// Schedule operations

// CreateSchedule registers a recurring query. Cron validity is the
// scheduler's concern; the registry stores the expression as given.
func (s *Store) CreateSchedule(ctx context.Context, query, cron string) (string, error) {
	id := uuid.NewString()
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO schedules (id, query, cron, enabled, created_at)
VALUES ($1,$2,$3,TRUE,NOW())
`, id, query, cron)
	if err != nil {
		return "", fmt.Errorf("create schedule: %w", err)
	}
	return id, nil
}

// ListSchedules returns schedules, optionally only enabled ones.
func (s *Store) ListSchedules(ctx context.Context, enabledOnly bool) ([]Schedule, error) {
	q := `SELECT id, query, cron, enabled, last_run_at, created_at FROM schedules`
	if enabledOnly {
		q += ` WHERE enabled`
	}
	q += ` ORDER BY created_at`
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		var (
			sc      Schedule
			lastRun sql.NullTime
		)
		if err := rows.Scan(&sc.ID, &sc.Query, &sc.Cron, &sc.Enabled, &lastRun, &sc.CreatedAt); err != nil {
			return nil, err
		}
		if lastRun.Valid {
			t := lastRun.Time
			sc.LastRunAt = &t
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// SetScheduleEnabled flips a schedule on or off.
func (s *Store) SetScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE schedules SET enabled=$2 WHERE id=$1`, id, enabled)
	return err
}

// TouchSchedule records that the schedule fired.
func (s *Store) TouchSchedule(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE schedules SET last_run_at=$2 WHERE id=$1`, id, at)
	return err
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM schedules WHERE id=$1`, id)
	return err
}

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}
