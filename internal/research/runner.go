package research

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/budget"
	"github.com/mohammad-safakhou/deepscout/internal/checkpoint"
	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/internal/eventlog"
	"github.com/mohammad-safakhou/deepscout/internal/executor"
	"github.com/mohammad-safakhou/deepscout/internal/llm"
	"github.com/mohammad-safakhou/deepscout/internal/report"
	"github.com/mohammad-safakhou/deepscout/internal/research/cache"
	"github.com/mohammad-safakhou/deepscout/internal/research/index"
	"github.com/mohammad-safakhou/deepscout/internal/shutdown"
	"github.com/mohammad-safakhou/deepscout/internal/state"
	"github.com/mohammad-safakhou/deepscout/tools/web_fetch"
	jsfetch "github.com/mohammad-safakhou/deepscout/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/deepscout/tools/web_search"
)

// Runner assembles providers, pipeline, and executor from config and drives
// one run per call. It is shared by the CLI and the session server.
type Runner struct {
	cfg       *config.Config
	providers map[string]llm.Provider
	models    map[llm.Role]llm.ModelRef
	pricing   llm.Pricing
	searchers []web_search.WebSearcher
	logger    *log.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger overrides the default logger.
func WithRunnerLogger(l *log.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner validates the config and builds the shared pieces: provider
// adapters, model routing, pricing, and the search chain.
func NewRunner(cfg *config.Config, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{
		cfg:     cfg,
		pricing: cfg.LLM.Pricing(),
		logger:  log.New(os.Stderr, "[RUNNER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.providers = make(map[string]llm.Provider, len(cfg.LLM.Providers))
	for name, pc := range cfg.LLM.Providers {
		switch pc.Type {
		case "openai":
			r.providers[name] = llm.NewOpenAIProvider(name, pc.APIKey, pc.BaseURL, pc.Timeout())
		case "anthropic":
			r.providers[name] = llm.NewAnthropicProvider(name, pc.APIKey, pc.BaseURL, pc.Timeout())
		default:
			return nil, errkind.Newf(errkind.ConfigInvalid, "runner", "unknown provider type %q for %q", pc.Type, name)
		}
	}

	models, err := resolveModels(cfg.LLM.Models, r.providers)
	if err != nil {
		return nil, err
	}
	r.models = models

	for _, name := range cfg.Search.ProviderChain {
		var (
			searcher web_search.WebSearcher
			err      error
		)
		switch strings.ToLower(name) {
		case "brave":
			searcher, err = web_search.NewWebSearcher(web_search.BraveProvider, cfg.Search.BraveAPIKey)
		case "serper":
			searcher, err = web_search.NewWebSearcher(web_search.SerperProvider, cfg.Search.SerperAPIKey)
		default:
			return nil, errkind.Newf(errkind.ConfigInvalid, "runner", "unknown search provider %q", name)
		}
		if err != nil {
			return nil, errkind.New(errkind.ConfigInvalid, "runner", err)
		}
		r.searchers = append(r.searchers, searcher)
	}
	return r, nil
}

// resolveModels fills the three routing slots, falling back to the primary
// model for slots the config leaves empty.
func resolveModels(mc config.ModelsConfig, providers map[string]llm.Provider) (map[llm.Role]llm.ModelRef, error) {
	if mc.Primary.Model == "" || mc.Primary.Provider == "" {
		return nil, errkind.Newf(errkind.ConfigInvalid, "runner", "llm.models.primary is required")
	}
	slots := map[llm.Role]config.ModelConfig{
		llm.RolePrimary:  mc.Primary,
		llm.RoleFallback: mc.Fallback,
		llm.RoleBudget:   mc.Budget,
	}
	if slots[llm.RoleFallback].Model == "" {
		slots[llm.RoleFallback] = mc.Primary
	}
	if slots[llm.RoleBudget].Model == "" {
		slots[llm.RoleBudget] = slots[llm.RoleFallback]
	}
	out := make(map[llm.Role]llm.ModelRef, len(slots))
	for role, m := range slots {
		if _, ok := providers[m.Provider]; !ok {
			return nil, errkind.Newf(errkind.ConfigInvalid, "runner",
				"llm.models.%s names provider %q which is not configured", role, m.Provider)
		}
		out[role] = llm.ModelRef{Provider: m.Provider, Model: m.Model}
	}
	return out, nil
}

// NewRunID produces a sortable run identifier: UTC timestamp plus a short
// random suffix.
func NewRunID() string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
}

// StatusOf maps a run error onto the registry status vocabulary.
func StatusOf(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errkind.Is(err, errkind.Cancelled):
		return "interrupted"
	default:
		return "failed"
	}
}

// RunDir returns the run's directory under the configured checkpoint root.
func (r *Runner) RunDir(runID string) string {
	return filepath.Join(r.cfg.Checkpoints.Dir, runID)
}

// Start executes a fresh run. It returns the final state and the written
// report path; on error the state may still carry partial progress.
func (r *Runner) Start(ctx context.Context, runID, query string, coord *shutdown.Coordinator) (*state.ResearchState, string, error) {
	return r.execute(ctx, runID, query, false, coord)
}

// Resume continues an interrupted run from its latest valid checkpoint.
func (r *Runner) Resume(ctx context.Context, runID string, coord *shutdown.Coordinator) (*state.ResearchState, string, error) {
	return r.execute(ctx, runID, "", true, coord)
}

func (r *Runner) execute(ctx context.Context, runID, query string, resume bool, coord *shutdown.Coordinator) (*state.ResearchState, string, error) {
	runDir := r.RunDir(runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create run dir: %w", err)
	}

	release, err := acquireRunLock(runDir)
	if err != nil {
		return nil, "", err
	}
	defer release()

	ckpts, err := checkpoint.NewStore(runDir,
		checkpoint.WithMaxKeep(r.cfg.Checkpoints.MaxKeep),
		checkpoint.WithLogger(r.logger))
	if err != nil {
		return nil, "", err
	}

	events, err := eventlog.Open(runDir)
	if err != nil {
		return nil, "", err
	}
	defer events.Close()

	startTier := budget.TierFull
	trackerOpts := []budget.TrackerOption{
		budget.WithTrackerLogger(r.logger),
		budget.WithTickHook(r.recordBudgetTicks(events)),
	}
	if resume {
		st, _, err := ckpts.Recover()
		if err != nil {
			return nil, "", err
		}
		if tier, err := budget.ParseTier(st.DegradationTier); err == nil {
			startTier = tier
		}
		// Totals recovered from the checkpoint carry over so a resumed run
		// cannot spend the cap twice.
		trackerOpts = append(trackerOpts, budget.WithStartingTotals(st.TotalCost, st.TotalTokens))
	}

	tracker := budget.NewTracker(r.budgetConfig(), trackerOpts...)
	controller := budget.NewController(budget.StartingAt(startTier))
	router := llm.NewRouter(r.providers, r.models, r.pricing, tracker, controller,
		llm.WithRouterLogger(r.logger), llm.WithMaxTokens(r.cfg.LLM.MaxTokens),
		llm.WithAttemptHook(r.recordModelAttempts(events)))

	pipelineOpts := []Option{WithLogger(r.logger)}
	if r.cfg.Cache.RedisAddr != "" {
		pipelineOpts = append(pipelineOpts, WithCache(cache.NewRedis(r.cfg.Cache.RedisAddr, "", 0)))
	}
	idx, err := index.Open(runDir)
	if err != nil {
		r.logger.Printf("content index unavailable: %v", err)
	} else {
		defer idx.Close()
		pipelineOpts = append(pipelineOpts, WithIndex(idx))
	}
	fetcher := web_fetch.NewHTTPFetcher(r.cfg.Scrape.Timeout(), r.cfg.Scrape.MaxContentChars)
	if r.cfg.Scrape.JSFallback {
		pipelineOpts = append(pipelineOpts,
			WithJSFallback(jsfetch.NewFetch(r.cfg.Scrape.Timeout(), r.cfg.Scrape.MaxContentChars)))
	}

	pipe := New(r.pipelineConfig(), router, r.searchers, fetcher, tracker, controller, pipelineOpts...)

	exec := executor.New(pipe, ckpts, events, tracker, controller, coord,
		executor.WithLogger(r.logger),
		executor.WithProgressWriter(report.NewProgressWriter(runDir)))

	var st *state.ResearchState
	if resume {
		st, err = exec.Resume(ctx)
	} else {
		st, err = exec.Run(ctx, state.New(runID, query))
	}
	if err != nil {
		return st, "", err
	}

	reportPath, werr := report.WriteFinal(r.cfg.Report.OutputDir, st)
	if werr != nil {
		return st, "", werr
	}
	r.logger.Printf("run %s finished: %s", runID, reportPath)
	return st, reportPath, nil
}

// recordBudgetTicks emits one budget_tick event for every tracker charge, so
// the event log shows spend at call granularity, not just per stage.
func (r *Runner) recordBudgetTicks(events *eventlog.Log) func(budget.Snapshot) {
	return func(snap budget.Snapshot) {
		_, err := events.Append(eventlog.Event{
			Event: eventlog.BudgetTick,
			Node:  "budget",
			Payload: map[string]interface{}{
				"total_cost":    snap.Cost,
				"total_tokens":  snap.Tokens,
				"calls":         snap.Calls,
				"fraction_used": snap.Fraction,
			},
		})
		if err != nil {
			r.logger.Printf("event append: %v", err)
		}
	}
}

// recordModelAttempts emits a paired node_enter/node_exit per provider
// attempt, the exit parented to its enter, so the log shows which provider
// and model served each call and how each retry fared.
func (r *Runner) recordModelAttempts(events *eventlog.Log) func(llm.AttemptInfo) {
	return func(a llm.AttemptInfo) {
		stepID := eventlog.NewStepID("model")
		enter := map[string]interface{}{
			"intent":   string(a.Intent),
			"provider": a.Provider,
			"model":    a.Model,
			"attempt":  a.Attempt,
		}
		if _, err := events.Append(eventlog.Event{
			StepID: stepID, Event: eventlog.NodeEnter, Node: "model_call", Payload: enter,
		}); err != nil {
			r.logger.Printf("event append: %v", err)
			return
		}
		exit := map[string]interface{}{
			"provider":   a.Provider,
			"model":      a.Model,
			"attempt":    a.Attempt,
			"elapsed_ms": a.Latency.Milliseconds(),
		}
		if a.Err != nil {
			exit["error"] = a.Err.Error()
			exit["kind"] = string(errkind.KindOf(a.Err))
		}
		if _, err := events.Append(eventlog.Event{
			ParentID: stepID, Event: eventlog.NodeExit, Node: "model_call", Payload: exit,
		}); err != nil {
			r.logger.Printf("event append: %v", err)
		}
	}
}

// JudgeRouter builds a router for grading calls made outside any run, with
// its own tracker so judging never charges a run's budget.
func (r *Runner) JudgeRouter() *llm.Router {
	tracker := budget.NewTracker(r.budgetConfig(), budget.WithTrackerLogger(r.logger))
	controller := budget.NewController()
	return llm.NewRouter(r.providers, r.models, r.pricing, tracker, controller,
		llm.WithRouterLogger(r.logger))
}

func (r *Runner) budgetConfig() budget.Config {
	cfg := budget.Config{
		WarnFraction:   r.cfg.Costs.WarnFraction,
		ReduceFraction: r.cfg.Costs.ReduceFraction,
		CacheFraction:  r.cfg.Costs.CacheFraction,
	}
	if r.cfg.Costs.MaxPerRun > 0 {
		v := r.cfg.Costs.MaxPerRun
		cfg.MaxCost = &v
	}
	if r.cfg.Costs.MaxTokens > 0 {
		v := r.cfg.Costs.MaxTokens
		cfg.MaxTokens = &v
	}
	if r.cfg.Costs.MaxTimeS > 0 {
		v := r.cfg.Costs.MaxTimeS
		cfg.MaxTimeSeconds = &v
	}
	if r.cfg.Costs.MaxLLMCalls > 0 {
		v := int64(r.cfg.Costs.MaxLLMCalls)
		cfg.MaxCalls = &v
	}
	return cfg
}

func (r *Runner) pipelineConfig() Config {
	cfg := DefaultConfig()
	cfg.SearchMinScore = r.cfg.Search.MinScore
	cfg.SearchMaxConcurrent = r.cfg.Search.MaxConcurrent
	cfg.SearchMaxResults = r.cfg.Search.MaxResults
	cfg.SearchTimeout = r.cfg.Search.Timeout()
	cfg.InterCallDelay = r.cfg.Search.InterCallDelay()
	cfg.ScrapeMaxConcurrent = r.cfg.Scrape.MaxConcurrent
	cfg.ScrapeTimeout = r.cfg.Scrape.Timeout()
	cfg.QualityReject = r.cfg.Scrape.QualityReject
	cfg.QualityAccept = r.cfg.Scrape.QualityAccept
	cfg.Temperature = r.cfg.LLM.Temperature
	cfg.ReportMaxWords = r.cfg.Report.MaxWords
	cfg.CacheTTL = r.cfg.Cache.TTL()
	if r.cfg.Scrape.FreshnessHalfLifeDays > 0 {
		cfg.FreshnessHalfLife = float64(r.cfg.Scrape.FreshnessHalfLifeDays)
	}
	return cfg
}

// acquireRunLock takes the single-writer lock for a run directory. The lock
// is a pid file created exclusively; a second writer gets an error instead
// of racing the checkpoint store.
func acquireRunLock(runDir string) (func(), error) {
	path := filepath.Join(runDir, "run.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("run already active (lock held at %s)", path)
		}
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return func() { os.Remove(path) }, nil
}
