// Package llm routes completion calls across a chain of providers with
// retries, fallback, usage accounting, and prompt-cache-friendly message
// composition. The router is the only way the pipeline talks to a model.
package llm

import (
	"context"
	"time"
)

// Intent tags what a completion is for. The router picks the model role
// (primary, fallback, budget) from the intent and the degradation tier.
type Intent string

const (
	IntentPlan       Intent = "plan"
	IntentSummarize  Intent = "summarize"
	IntentSynthesize Intent = "synthesize"
	IntentJudge      Intent = "judge"
)

// Role names a slot in the model configuration.
type Role string

const (
	RolePrimary  Role = "primary"
	RoleFallback Role = "fallback"
	RoleBudget   Role = "budget"
)

// Message is one turn of a completion request. Static reports Cacheable
// content: providers that support explicit prompt caching attach a cache
// marker to the last static message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Static  bool   `json:"-"`
}

// CompletionRequest is what a provider adapter receives.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// CompletionResult is the raw provider response plus usage.
type CompletionResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
	CachedTokens int
	ModelID      string
}

// Provider is a single LLM vendor adapter. Complete performs exactly one
// attempt; retry and fallback policy live in the router.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// CallRequest is the router's public input.
type CallRequest struct {
	Intent      Intent
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// CallResult is the routed completion with accounting attached.
type CallResult struct {
	Text         string        `json:"text"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	CachedTokens int           `json:"cached_tokens,omitempty"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	CostUSD      float64       `json:"cost_usd"`
	Latency      time.Duration `json:"latency_ms"`
}
