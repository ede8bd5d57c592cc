package research

import (
	"io"
	"log"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/budget"
	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/internal/eventlog"
	"github.com/mohammad-safakhou/deepscout/internal/llm"
)

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func runnerConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.LLM.Providers = map[string]config.ProviderConfig{
		"openai": {Type: "openai", APIKey: "sk-test"},
	}
	cfg.LLM.Models = config.ModelsConfig{
		Primary: config.ModelConfig{Provider: "openai", Model: "gpt-4o"},
	}
	cfg.Search.BraveAPIKey = "brave-test"
	cfg.Checkpoints.Dir = t.TempDir()
	cfg.Report.OutputDir = t.TempDir()
	return cfg
}

func TestNewRunnerFillsModelSlots(t *testing.T) {
	t.Parallel()
	r, err := NewRunner(runnerConfig(t), WithRunnerLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	for _, role := range []llm.Role{llm.RolePrimary, llm.RoleFallback, llm.RoleBudget} {
		ref, ok := r.models[role]
		if !ok || ref.Model != "gpt-4o" {
			t.Fatalf("role %s = %+v, want primary fallback fill", role, ref)
		}
	}
	if len(r.searchers) != 1 {
		t.Fatalf("searchers = %d, want 1 (brave)", len(r.searchers))
	}
}

func TestNewRunnerRejectsBadConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing primary model", func(c *config.Config) {
			c.LLM.Models = config.ModelsConfig{}
		}},
		{"primary names unknown provider", func(c *config.Config) {
			c.LLM.Models.Primary.Provider = "anthropic"
		}},
		{"unknown search provider", func(c *config.Config) {
			c.Search.ProviderChain = []string{"altavista"}
		}},
		{"unknown llm provider type", func(c *config.Config) {
			c.LLM.Providers["local"] = config.ProviderConfig{Type: "llama-cpp"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := runnerConfig(t)
			tc.mutate(cfg)
			_, err := NewRunner(cfg, WithRunnerLogger(discardLogger()))
			if !errkind.Is(err, errkind.ConfigInvalid) {
				t.Fatalf("err = %v, want config_invalid", err)
			}
		})
	}
}

func TestRecordModelAttemptsLogsPairedEvents(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	events, err := eventlog.Open(dir)
	if err != nil {
		t.Fatalf("eventlog.Open: %v", err)
	}
	r := &Runner{logger: discardLogger()}
	hook := r.recordModelAttempts(events)
	hook(llm.AttemptInfo{Intent: llm.IntentPlan, Provider: "openai", Model: "gpt-4o",
		Attempt: 1, Latency: 120 * time.Millisecond})
	hook(llm.AttemptInfo{Intent: llm.IntentPlan, Provider: "openai", Model: "gpt-4o",
		Attempt: 2, Err: errkind.Newf(errkind.RateLimited, "test", "429")})
	if err := events.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := eventlog.Replay(dir)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("events = %d, want two enter/exit pairs", len(got))
	}
	for i := 0; i < len(got); i += 2 {
		enter, exit := got[i], got[i+1]
		if enter.Event != eventlog.NodeEnter || exit.Event != eventlog.NodeExit {
			t.Fatalf("pair %d = (%s, %s), want (node_enter, node_exit)", i/2, enter.Event, exit.Event)
		}
		if exit.ParentID != enter.StepID {
			t.Fatalf("exit parented to %q, want its enter %q", exit.ParentID, enter.StepID)
		}
		if enter.Node != "model_call" || enter.Payload["provider"] != "openai" {
			t.Fatalf("enter event wrong: node=%s payload=%v", enter.Node, enter.Payload)
		}
	}
	if kind, _ := got[3].Payload["kind"].(string); kind != "rate_limited" {
		t.Fatalf("failed attempt kind = %q, want rate_limited", kind)
	}
}

func TestRecordBudgetTicksLogsEveryCharge(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	events, err := eventlog.Open(dir)
	if err != nil {
		t.Fatalf("eventlog.Open: %v", err)
	}
	r := &Runner{logger: discardLogger()}
	maxCost := 2.0
	tracker := budget.NewTracker(budget.Config{MaxCost: &maxCost},
		budget.WithTrackerLogger(discardLogger()),
		budget.WithTickHook(r.recordBudgetTicks(events)))
	_ = tracker.Add(0.5, 100, "openai")
	_ = tracker.Add(0.25, 50, "openai")
	if err := events.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := eventlog.Replay(dir)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want one tick per charge", len(got))
	}
	for _, ev := range got {
		if ev.Event != eventlog.BudgetTick {
			t.Fatalf("event = %s, want budget_tick", ev.Event)
		}
	}
	if cost, _ := got[1].Payload["total_cost"].(float64); cost != 0.75 {
		t.Fatalf("second tick total_cost = %v, want 0.75", got[1].Payload["total_cost"])
	}
}

func TestRunLockIsExclusive(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	release, err := acquireRunLock(dir)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := acquireRunLock(dir); err == nil {
		t.Fatal("second lock must fail while first is held")
	} else if !strings.Contains(err.Error(), "already active") {
		t.Fatalf("unexpected error: %v", err)
	}

	release()
	release2, err := acquireRunLock(dir)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	release2()
}

func TestNewRunID(t *testing.T) {
	t.Parallel()
	id := NewRunID()
	if !regexp.MustCompile(`^\d{8}-\d{6}-[0-9a-f]{8}$`).MatchString(id) {
		t.Fatalf("run id %q does not match expected shape", id)
	}
	if NewRunID() == id {
		t.Fatal("run ids must be unique")
	}
}

func TestStatusOf(t *testing.T) {
	t.Parallel()
	if got := StatusOf(nil); got != "completed" {
		t.Errorf("nil = %s", got)
	}
	cancelled := errkind.Newf(errkind.Cancelled, "test", "interrupt")
	if got := StatusOf(cancelled); got != "interrupted" {
		t.Errorf("cancelled = %s", got)
	}
	failed := errkind.Newf(errkind.PlanInvalid, "test", "bad plan")
	if got := StatusOf(failed); got != "failed" {
		t.Errorf("failed = %s", got)
	}
}
