// Package research implements the pipeline stages: plan, search, scrape,
// summarize, synthesize. Each stage takes a read-only state clone and returns
// a partial update; the executor owns applying updates and checkpointing.
package research

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepscout/internal/budget"
	"github.com/mohammad-safakhou/deepscout/internal/content"
	"github.com/mohammad-safakhou/deepscout/internal/llm"
	"github.com/mohammad-safakhou/deepscout/internal/ratelimit"
	"github.com/mohammad-safakhou/deepscout/internal/research/cache"
	"github.com/mohammad-safakhou/deepscout/internal/research/index"
	"github.com/mohammad-safakhou/deepscout/tools/web_fetch"
	"github.com/mohammad-safakhou/deepscout/tools/web_search"
)

// Config carries the stage tuning knobs.
type Config struct {
	SearchMinScore      float64
	SearchMaxConcurrent int
	SearchMaxResults    int
	SearchTimeout       time.Duration
	InterCallDelay      time.Duration
	ScrapeMaxConcurrent int
	ScrapeTimeout       time.Duration
	QualityReject       float64
	QualityAccept       float64
	Temperature         float64
	ReportMaxWords      int
	CacheTTL            time.Duration
	FreshnessHalfLife   float64
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		SearchMinScore:      0.3,
		SearchMaxConcurrent: 3,
		SearchMaxResults:    10,
		SearchTimeout:       15 * time.Second,
		InterCallDelay:      500 * time.Millisecond,
		ScrapeMaxConcurrent: 4,
		ScrapeTimeout:       30 * time.Second,
		QualityReject:       0.3,
		QualityAccept:       0.7,
		Temperature:         0.1,
		ReportMaxWords:      10000,
		CacheTTL:            24 * time.Hour,
		FreshnessHalfLife:   180,
	}
}

// Caller routes one completion call. *llm.Router is the production
// implementation; tests substitute scripted callers.
type Caller interface {
	Call(ctx context.Context, req llm.CallRequest) (llm.CallResult, error)
}

// Pipeline bundles the stage implementations with their shared dependencies.
type Pipeline struct {
	cfg        Config
	router     Caller
	searchers  []web_search.WebSearcher
	fetcher    web_fetch.WebFetcher
	jsFetcher  web_fetch.WebFetcher
	quality    *content.QualityScorer
	paywall    *content.PaywallDetector
	freshness  *content.FreshnessScorer
	cache      cache.Cache
	index      *index.Index
	limits     *ratelimit.Limiter
	tracker    *budget.Tracker
	controller *budget.Controller
	logger     *log.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithJSFallback installs a JavaScript-capable extractor tried when plain
// extraction scores below the accept threshold.
func WithJSFallback(f web_fetch.WebFetcher) Option {
	return func(p *Pipeline) { p.jsFetcher = f }
}

// WithCache installs the result cache. Defaults to in-memory.
func WithCache(c cache.Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithIndex installs the per-run content index used in cached mode.
func WithIndex(x *index.Index) Option {
	return func(p *Pipeline) { p.index = x }
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New wires a pipeline. The searcher slice is the fallback chain tried in
// order per query.
func New(cfg Config, router Caller, searchers []web_search.WebSearcher,
	fetcher web_fetch.WebFetcher, tracker *budget.Tracker, controller *budget.Controller,
	opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		router:     router,
		searchers:  searchers,
		fetcher:    fetcher,
		quality:    content.NewQualityScorer(),
		paywall:    content.NewPaywallDetector(),
		freshness:  content.NewFreshnessScorer(),
		cache:      cache.NewMemory(),
		limits:     ratelimit.New(ratelimit.WithBaseDelay(cfg.InterCallDelay)),
		tracker:    tracker,
		controller: controller,
		logger:     log.New(os.Stderr, "[RESEARCH] ", log.LstdFlags),
	}
	if cfg.FreshnessHalfLife > 0 {
		p.freshness.HalfLifeDays = cfg.FreshnessHalfLife
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) effects() budget.Effects {
	if p.controller == nil {
		return budget.EffectsFor(budget.TierFull)
	}
	return p.controller.Effects()
}

// parseModelJSON decodes a model reply into out, tolerating a markdown code
// fence around the payload.
func parseModelJSON(text string, out any) error {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	// Fall back to the outermost JSON value when the model wrapped it in prose.
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		start := strings.IndexAny(s, "[{")
		if start >= 0 {
			s = s[start:]
		}
	}
	return json.Unmarshal([]byte(s), out)
}
