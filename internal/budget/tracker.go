package budget

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mohammad-safakhou/deepscout/internal/errkind"
)

// ProviderUsage accumulates spend attributed to one provider.
type ProviderUsage struct {
	Cost   float64 `json:"cost"`
	Tokens int64   `json:"tokens"`
	Calls  int64   `json:"calls"`
}

// Snapshot is a point-in-time view of accumulated usage.
type Snapshot struct {
	Cost        float64                  `json:"cost"`
	Tokens      int64                    `json:"tokens"`
	Calls       int64                    `json:"calls"`
	Fraction    float64                  `json:"fraction_used"`
	Elapsed     time.Duration            `json:"elapsed"`
	PerProvider map[string]ProviderUsage `json:"per_provider,omitempty"`
}

// Tracker records actual usage against configured limits during execution.
// It is safe for concurrent use.
type Tracker struct {
	config      Config
	costUsed    float64
	tokensUsed  int64
	callsMade   int64
	perProvider map[string]ProviderUsage
	startTime   time.Time
	warned      bool
	onTick      func(Snapshot)
	logger      *log.Logger
	mu          sync.Mutex
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTickHook installs a callback fired after every Add with the fresh
// snapshot. Used to emit budget_tick events.
func WithTickHook(fn func(Snapshot)) TrackerOption {
	return func(t *Tracker) { t.onTick = fn }
}

// WithTrackerLogger overrides the default logger.
func WithTrackerLogger(l *log.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithStartingTotals seeds the tracker with spend recorded before this
// process started, so a resumed run keeps charging against the same limits
// instead of restarting from zero.
func WithStartingTotals(cost float64, tokens int64) TrackerOption {
	return func(t *Tracker) {
		if cost > 0 {
			t.costUsed = cost
		}
		if tokens > 0 {
			t.tokensUsed = tokens
		}
	}
}

// NewTracker clones the provided config and starts tracking usage.
func NewTracker(cfg Config, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		config:      cfg.normalized(),
		perProvider: make(map[string]ProviderUsage),
		startTime:   time.Now(),
		logger:      log.New(os.Stderr, "[BUDGET] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add records incremental cost and tokens attributed to a provider,
// returning a BudgetExceeded error if any limit is breached. Usage is
// recorded even on breach so totals stay monotone.
func (t *Tracker) Add(cost float64, tokens int64, provider string) error {
	t.mu.Lock()
	t.costUsed += cost
	t.tokensUsed += tokens
	t.callsMade++
	if provider != "" {
		u := t.perProvider[provider]
		u.Cost += cost
		u.Tokens += tokens
		u.Calls++
		t.perProvider[provider] = u
	}

	var breach error
	if t.config.MaxCost != nil && t.costUsed > *t.config.MaxCost {
		breach = ErrExceeded{
			Kind:  "cost",
			Usage: fmt.Sprintf("$%.4f", t.costUsed),
			Limit: fmt.Sprintf("$%.4f", *t.config.MaxCost),
		}
	} else if t.config.MaxTokens != nil && t.tokensUsed > *t.config.MaxTokens {
		breach = ErrExceeded{
			Kind:  "tokens",
			Usage: fmt.Sprintf("%d tokens", t.tokensUsed),
			Limit: fmt.Sprintf("%d tokens", *t.config.MaxTokens),
		}
	} else if t.config.MaxCalls != nil && t.callsMade > *t.config.MaxCalls {
		breach = ErrExceeded{
			Kind:  "calls",
			Usage: fmt.Sprintf("%d calls", t.callsMade),
			Limit: fmt.Sprintf("%d calls", *t.config.MaxCalls),
		}
	}

	frac := t.fractionLocked()
	if !t.warned && frac >= t.config.WarnFraction && t.config.MaxCost != nil {
		t.warned = true
		t.logger.Printf("budget warning: %.0f%% of $%.2f used", frac*100, *t.config.MaxCost)
	}
	snap := t.snapshotLocked()
	hook := t.onTick
	t.mu.Unlock()

	if hook != nil {
		hook(snap)
	}
	if breach != nil {
		return errkind.New(errkind.BudgetExceeded, "budget", breach)
	}
	return nil
}

// CheckTime verifies elapsed time against the configured limit.
func (t *Tracker) CheckTime() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.config.MaxTimeSeconds == nil || *t.config.MaxTimeSeconds <= 0 {
		return nil
	}
	elapsed := time.Since(t.startTime)
	limit := time.Duration(*t.config.MaxTimeSeconds) * time.Second
	if elapsed > limit {
		return errkind.New(errkind.BudgetExceeded, "budget", ErrExceeded{
			Kind:  "time",
			Usage: elapsed.String(),
			Limit: limit.String(),
		})
	}
	return nil
}

// FractionUsed returns costUsed / MaxCost, or 0 when no cost limit is set.
func (t *Tracker) FractionUsed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fractionLocked()
}

func (t *Tracker) fractionLocked() float64 {
	if t.config.MaxCost == nil || *t.config.MaxCost <= 0 {
		return 0
	}
	return t.costUsed / *t.config.MaxCost
}

// TierSuggestion maps the current fraction used onto the tier the run should
// be at. The degradation controller owns the actual transition.
func (t *Tracker) TierSuggestion() Tier {
	f := t.FractionUsed()
	cfg := t.Config()
	switch {
	case f >= 1.0:
		return TierPartial
	case f >= cfg.CacheFraction:
		return TierCached
	case f >= cfg.ReduceFraction:
		return TierReduced
	default:
		return TierFull
	}
}

// Usage returns the accumulated totals.
func (t *Tracker) Usage() (cost float64, tokens int64, calls int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.costUsed, t.tokensUsed, t.callsMade
}

// Snapshot returns a copy of all accumulated usage.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	per := make(map[string]ProviderUsage, len(t.perProvider))
	for k, v := range t.perProvider {
		per[k] = v
	}
	return Snapshot{
		Cost:        t.costUsed,
		Tokens:      t.tokensUsed,
		Calls:       t.callsMade,
		Fraction:    t.fractionLocked(),
		Elapsed:     time.Since(t.startTime),
		PerProvider: per,
	}
}

// Config returns a clone of the underlying budget config.
func (t *Tracker) Config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config.Clone()
}
