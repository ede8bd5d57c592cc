package llm

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/deepscout/internal/budget"
	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/internal/metrics"
)

const (
	maxAttemptsPerProvider = 3
	backoffBase            = 1 * time.Second
	backoffCap             = 30 * time.Second
)

// ModelRef binds a configured role to a concrete provider and model.
type ModelRef struct {
	Provider string `mapstructure:"provider" json:"provider"`
	Model    string `mapstructure:"model" json:"model"`
}

// AttemptInfo is handed to the attempt hook after every provider attempt,
// successful or not. The executor uses it to log model calls into the
// event stream.
type AttemptInfo struct {
	Intent   Intent
	Provider string
	Model    string
	Attempt  int
	Latency  time.Duration
	Err      error
}

// Router fans completion calls out over a chain of providers. Per provider it
// retries transient failures up to three times with jittered exponential
// backoff; permanent failures advance the chain immediately. Every successful
// call is priced and charged to the budget tracker.
type Router struct {
	providers  map[string]Provider
	models     map[Role]ModelRef
	pricing    Pricing
	tracker    *budget.Tracker
	controller *budget.Controller
	logger     *log.Logger
	tracer     trace.Tracer
	onAttempt  func(AttemptInfo)
	maxTokens  int
	sleep      func(context.Context, time.Duration) error
	jitter     func(time.Duration) time.Duration
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger overrides the default logger.
func WithRouterLogger(l *log.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// WithAttemptHook installs a callback fired after every provider attempt.
func WithAttemptHook(fn func(AttemptInfo)) RouterOption {
	return func(r *Router) { r.onAttempt = fn }
}

// WithTracer overrides the default tracer.
func WithTracer(t trace.Tracer) RouterOption {
	return func(r *Router) { r.tracer = t }
}

// WithMaxTokens sets the completion cap applied when a request leaves
// MaxTokens unset.
func WithMaxTokens(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxTokens = n
		}
	}
}

// withSleep replaces the backoff sleep, for tests.
func withSleep(fn func(context.Context, time.Duration) error) RouterOption {
	return func(r *Router) { r.sleep = fn }
}

// NewRouter wires providers, the role-to-model table, pricing, and the budget
// pair into a router. Tracker and controller may be nil for untracked use,
// e.g. the evaluation harness.
func NewRouter(providers map[string]Provider, models map[Role]ModelRef, pricing Pricing,
	tracker *budget.Tracker, controller *budget.Controller, opts ...RouterOption) *Router {
	r := &Router{
		providers:  providers,
		models:     models,
		pricing:    pricing,
		tracker:    tracker,
		controller: controller,
		logger:     log.New(os.Stderr, "[ROUTER] ", log.LstdFlags),
		maxTokens:  4096,
		tracer:     otel.Tracer("deepscout/llm"),
		sleep:      sleepCtx,
		jitter:     jitterDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// chainFor resolves the ordered role chain for an intent at a tier. Full runs
// lead with the primary model; degraded runs lead with the budget model,
// except synthesis under reduced mode, which keeps the primary so the final
// report quality holds as long as possible.
func chainFor(intent Intent, tier budget.Tier) []Role {
	switch tier {
	case budget.TierFull:
		return []Role{RolePrimary, RoleFallback}
	case budget.TierReduced:
		if intent == IntentSynthesize {
			return []Role{RolePrimary, RoleFallback}
		}
		return []Role{RoleBudget, RoleFallback}
	default:
		return []Role{RoleBudget, RoleFallback}
	}
}

// Call routes one completion through the fallback chain for the current
// degradation tier. On chain exhaustion it records the exhaustion with the
// degradation controller and returns a ModelCallExhausted error.
func (r *Router) Call(ctx context.Context, req CallRequest) (CallResult, error) {
	tier := budget.TierFull
	if r.controller != nil {
		tier = r.controller.Tier()
	}

	ctx, span := r.tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("llm.intent", string(req.Intent)),
		attribute.String("budget.tier", string(tier)),
	))
	defer span.End()

	var lastErr error
	for _, role := range chainFor(req.Intent, tier) {
		ref, ok := r.models[role]
		if !ok {
			continue
		}
		provider, ok := r.providers[ref.Provider]
		if !ok {
			r.logger.Printf("role %s references unknown provider %q, skipping", role, ref.Provider)
			continue
		}

		res, err := r.callProvider(ctx, provider, ref.Model, req)
		if err == nil {
			span.SetAttributes(
				attribute.String("llm.provider", res.Provider),
				attribute.String("llm.model", res.Model),
				attribute.Int("llm.output_tokens", res.OutputTokens),
			)
			return res, r.charge(res)
		}
		lastErr = err
		if errkind.Is(err, errkind.Cancelled) || errkind.Is(err, errkind.BudgetExceeded) {
			return CallResult{}, err
		}
		r.logger.Printf("provider %s exhausted for intent %s: %v", provider.Name(), req.Intent, err)
	}

	if r.controller != nil {
		r.controller.RecordExhaustion()
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no providers configured for intent %s", req.Intent)
	}
	return CallResult{}, errkind.New(errkind.ModelCallExhausted, "llm.router", lastErr)
}

// callProvider runs the per-provider retry loop: up to three attempts with
// jittered exponential backoff on retryable failures. Permanent failures and
// context cancellation stop immediately.
func (r *Router) callProvider(ctx context.Context, p Provider, model string, req CallRequest) (CallResult, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = r.maxTokens
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttemptsPerProvider; attempt++ {
		start := time.Now()
		out, err := p.Complete(ctx, CompletionRequest{
			Model:       model,
			Messages:    req.Messages,
			Temperature: req.Temperature,
			MaxTokens:   maxTokens,
		})
		latency := time.Since(start)

		if r.onAttempt != nil {
			r.onAttempt(AttemptInfo{
				Intent:   req.Intent,
				Provider: p.Name(),
				Model:    model,
				Attempt:  attempt,
				Latency:  latency,
				Err:      err,
			})
		}

		if err == nil {
			metrics.LLMCalls.WithLabelValues(p.Name(), string(req.Intent), "success").Inc()
			modelID := out.ModelID
			if modelID == "" {
				modelID = model
			}
			return CallResult{
				Text:         out.Text,
				InputTokens:  out.InputTokens,
				OutputTokens: out.OutputTokens,
				CachedTokens: out.CachedTokens,
				Provider:     p.Name(),
				Model:        modelID,
				CostUSD:      r.pricing.Cost(model, out.InputTokens, out.OutputTokens, out.CachedTokens),
				Latency:      latency,
			}, nil
		}

		lastErr = err
		kind := errkind.KindOf(err)
		metrics.LLMCalls.WithLabelValues(p.Name(), string(req.Intent), string(kind)).Inc()

		if kind == errkind.Cancelled {
			return CallResult{}, err
		}
		if !errkind.Retryable(err) {
			return CallResult{}, errkind.New(errkind.ProviderExhausted, "llm.router",
				fmt.Errorf("%s attempt %d: %w", p.Name(), attempt, err))
		}
		if attempt < maxAttemptsPerProvider {
			delay := r.jitter(backoffFor(attempt))
			r.logger.Printf("%s attempt %d/%d failed (%s), retrying in %s",
				p.Name(), attempt, maxAttemptsPerProvider, kind, delay.Round(time.Millisecond))
			if err := r.sleep(ctx, delay); err != nil {
				return CallResult{}, errkind.New(errkind.Cancelled, "llm.router", err)
			}
		}
	}
	return CallResult{}, errkind.New(errkind.ProviderExhausted, "llm.router",
		fmt.Errorf("%s: %d attempts: %w", p.Name(), maxAttemptsPerProvider, lastErr))
}

// charge bills the call to the budget tracker and resets the exhaustion
// streak. A budget breach surfaces as the call's error so the executor can
// route to synthesis.
func (r *Router) charge(res CallResult) error {
	metrics.LLMCost.WithLabelValues(res.Provider).Add(res.CostUSD)
	metrics.LLMTokens.WithLabelValues(res.Provider, "input").Add(float64(res.InputTokens))
	metrics.LLMTokens.WithLabelValues(res.Provider, "output").Add(float64(res.OutputTokens))

	if r.tracker == nil {
		return nil
	}
	err := r.tracker.Add(res.CostUSD, int64(res.InputTokens+res.OutputTokens), res.Provider)
	if r.controller != nil {
		r.controller.RecordSuccess(r.tracker.FractionUsed())
	}
	return err
}

// backoffFor is 1s, 2s, 4s... capped at 30s.
func backoffFor(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// jitterDelay spreads a delay uniformly over [d/2, 3d/2).
func jitterDelay(d time.Duration) time.Duration {
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
