package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/deepscout/internal/store"
)

func TestRunRegistryAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "deepscout",
				"POSTGRES_PASSWORD": "deepscout",
				"POSTGRES_DB":       "deepscout",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://deepscout:deepscout@%s:%s/deepscout?sslmode=disable", host, port.Port())

	if err := applySchema(ctx, dsn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.Close()

	id := "20260825-120000-deadbeef"
	if err := st.CreateRun(ctx, id, "postgres vs mysql for analytics", "/tmp/runs/it"); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	run, ok, err := st.GetRun(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetRun: ok=%v err=%v", ok, err)
	}
	if run.Status != store.RunStatusRunning {
		t.Fatalf("status = %s, want running", run.Status)
	}

	errMsg := "shutdown requested"
	if err := st.FinishRun(ctx, store.Run{
		ID:           id,
		Status:       store.RunStatusInterrupted,
		Tier:         "cached",
		TotalCost:    0.73,
		TotalTokens:  51234,
		ReportPath:   "/out/report.md",
		CoverageGaps: []string{"st-4", "st-5"},
		Error:        &errMsg,
	}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, _, err = st.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun after finish: %v", err)
	}
	if run.Status != store.RunStatusInterrupted || run.Tier != "cached" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}
	if len(run.CoverageGaps) != 2 {
		t.Fatalf("coverage gaps = %v", run.CoverageGaps)
	}
	if run.Error == nil || *run.Error != errMsg {
		t.Fatalf("error = %v", run.Error)
	}

	runs, err := st.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != id {
		t.Fatalf("unexpected listing: %+v", runs)
	}

	schedID, err := st.CreateSchedule(ctx, "weekly db news", "0 8 * * 1")
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if err := st.TouchSchedule(ctx, schedID, time.Now()); err != nil {
		t.Fatalf("TouchSchedule: %v", err)
	}
	scheds, err := st.ListSchedules(ctx, true)
	if err != nil {
		t.Fatalf("ListSchedules: %v", err)
	}
	if len(scheds) != 1 || scheds[0].LastRunAt == nil {
		t.Fatalf("unexpected schedules: %+v", scheds)
	}
	if err := st.SetScheduleEnabled(ctx, schedID, false); err != nil {
		t.Fatalf("SetScheduleEnabled: %v", err)
	}
	scheds, err = st.ListSchedules(ctx, true)
	if err != nil {
		t.Fatalf("ListSchedules after disable: %v", err)
	}
	if len(scheds) != 0 {
		t.Fatalf("disabled schedule still listed: %+v", scheds)
	}
}

// applySchema mirrors migrations/0001-0002 so the test does not depend on
// the migrate CLI being wired.
func applySchema(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	schemaSQL := `
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  query TEXT NOT NULL,
  status TEXT NOT NULL,
  tier TEXT,
  run_dir TEXT NOT NULL,
  report_path TEXT,
  total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
  total_tokens BIGINT NOT NULL DEFAULT 0,
  coverage_gaps TEXT[] NOT NULL DEFAULT '{}',
  error TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS schedules (
  id TEXT PRIMARY KEY,
  query TEXT NOT NULL,
  cron TEXT NOT NULL,
  enabled BOOLEAN NOT NULL DEFAULT TRUE,
  last_run_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
