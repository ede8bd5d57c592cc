// Package metrics exposes the pipeline's Prometheus collectors. Everything
// registers on the default registry so the server's /metrics endpoint picks
// it up via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLMCalls counts provider attempts by outcome.
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deepscout",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "LLM provider call attempts.",
	}, []string{"provider", "intent", "outcome"})

	// LLMCost accumulates spend in USD per provider.
	LLMCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deepscout",
		Subsystem: "llm",
		Name:      "cost_usd_total",
		Help:      "Cumulative LLM spend in USD.",
	}, []string{"provider"})

	// LLMTokens accumulates input/output tokens per provider.
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deepscout",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Cumulative LLM tokens.",
	}, []string{"provider", "direction"})

	// Searches counts search provider calls by outcome.
	Searches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deepscout",
		Subsystem: "search",
		Name:      "calls_total",
		Help:      "Web search provider calls.",
	}, []string{"provider", "outcome"})

	// Scrapes counts extraction attempts by extractor and outcome.
	Scrapes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deepscout",
		Subsystem: "scrape",
		Name:      "calls_total",
		Help:      "Content extraction attempts.",
	}, []string{"extractor", "outcome"})

	// CheckpointWrites counts checkpoint snapshots written.
	CheckpointWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deepscout",
		Subsystem: "checkpoint",
		Name:      "writes_total",
		Help:      "Checkpoints written.",
	})

	// TierChanges counts degradation transitions.
	TierChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deepscout",
		Subsystem: "budget",
		Name:      "tier_changes_total",
		Help:      "Degradation tier transitions.",
	}, []string{"from", "to"})

	// DegradationTier publishes the current tier rank (0=full .. 3=partial).
	DegradationTier = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "deepscout",
		Subsystem: "budget",
		Name:      "degradation_tier",
		Help:      "Current degradation tier rank: 0 full, 1 reduced, 2 cached, 3 partial.",
	})

	// StageDuration observes wall time per pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "deepscout",
		Subsystem: "executor",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage execution time.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"node"})

	// RunsActive tracks runs currently executing in this process.
	RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "deepscout",
		Subsystem: "executor",
		Name:      "runs_active",
		Help:      "Research runs currently executing.",
	})
)

// TierRank maps a tier name to its gauge value.
func TierRank(tier string) float64 {
	switch tier {
	case "full":
		return 0
	case "reduced":
		return 1
	case "cached":
		return 2
	case "partial":
		return 3
	default:
		return -1
	}
}
