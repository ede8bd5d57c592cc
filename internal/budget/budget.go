package budget

import "fmt"

// Default fractions of max cost at which the tracker changes its advice.
const (
	DefaultWarnFraction   = 0.80
	DefaultReduceFraction = 0.80
	DefaultCacheFraction  = 0.95
)

// Config defines budget guardrails for a run.
type Config struct {
	MaxCost           *float64
	MaxTokens         *int64
	MaxTimeSeconds    *int64
	MaxCalls          *int64
	ApprovalThreshold *float64
	RequireApproval   bool

	// Fractions of MaxCost at which the tracker warns and suggests lower
	// tiers. Zero values fall back to the package defaults.
	WarnFraction   float64
	ReduceFraction float64
	CacheFraction  float64
}

// Validate ensures the budget values are sane before use.
func (c Config) Validate() error {
	if c.MaxCost != nil && *c.MaxCost < 0 {
		return fmt.Errorf("max_cost cannot be negative")
	}
	if c.MaxTokens != nil && *c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}
	if c.MaxTimeSeconds != nil && *c.MaxTimeSeconds < 0 {
		return fmt.Errorf("max_time_seconds cannot be negative")
	}
	if c.MaxCalls != nil && *c.MaxCalls < 0 {
		return fmt.Errorf("max_calls cannot be negative")
	}
	if c.ApprovalThreshold != nil {
		if *c.ApprovalThreshold < 0 {
			return fmt.Errorf("approval_threshold cannot be negative")
		}
		if c.MaxCost != nil && *c.ApprovalThreshold > *c.MaxCost {
			return fmt.Errorf("approval_threshold cannot exceed max_cost")
		}
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"warn_fraction", c.WarnFraction},
		{"reduce_fraction", c.ReduceFraction},
		{"cache_fraction", c.CacheFraction},
	} {
		if f.value < 0 || f.value > 1 {
			return fmt.Errorf("%s must be within [0,1]", f.name)
		}
	}
	reduce, cache := c.ReduceFraction, c.CacheFraction
	if reduce == 0 {
		reduce = DefaultReduceFraction
	}
	if cache == 0 {
		cache = DefaultCacheFraction
	}
	if reduce > cache {
		return fmt.Errorf("reduce_fraction cannot exceed cache_fraction")
	}
	return nil
}

// Clone produces a deep copy of the config.
func (c Config) Clone() Config {
	clone := Config{
		RequireApproval: c.RequireApproval,
		WarnFraction:    c.WarnFraction,
		ReduceFraction:  c.ReduceFraction,
		CacheFraction:   c.CacheFraction,
	}
	if c.MaxCost != nil {
		v := *c.MaxCost
		clone.MaxCost = &v
	}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		clone.MaxTokens = &v
	}
	if c.MaxTimeSeconds != nil {
		v := *c.MaxTimeSeconds
		clone.MaxTimeSeconds = &v
	}
	if c.MaxCalls != nil {
		v := *c.MaxCalls
		clone.MaxCalls = &v
	}
	if c.ApprovalThreshold != nil {
		v := *c.ApprovalThreshold
		clone.ApprovalThreshold = &v
	}
	return clone
}

// Merge overlays non-nil values from override onto base. CLI flags use this
// to override the file config for a single run.
func Merge(base Config, override Config) Config {
	result := base.Clone()
	if override.MaxCost != nil {
		v := *override.MaxCost
		result.MaxCost = &v
	}
	if override.MaxTokens != nil {
		v := *override.MaxTokens
		result.MaxTokens = &v
	}
	if override.MaxTimeSeconds != nil {
		v := *override.MaxTimeSeconds
		result.MaxTimeSeconds = &v
	}
	if override.MaxCalls != nil {
		v := *override.MaxCalls
		result.MaxCalls = &v
	}
	if override.ApprovalThreshold != nil {
		v := *override.ApprovalThreshold
		result.ApprovalThreshold = &v
	}
	if override.RequireApproval {
		result.RequireApproval = true
	}
	if override.WarnFraction != 0 {
		result.WarnFraction = override.WarnFraction
	}
	if override.ReduceFraction != 0 {
		result.ReduceFraction = override.ReduceFraction
	}
	if override.CacheFraction != 0 {
		result.CacheFraction = override.CacheFraction
	}
	return result
}

// normalized fills default fractions so the tracker never compares against
// zero thresholds.
func (c Config) normalized() Config {
	out := c.Clone()
	if out.WarnFraction == 0 {
		out.WarnFraction = DefaultWarnFraction
	}
	if out.ReduceFraction == 0 {
		out.ReduceFraction = DefaultReduceFraction
	}
	if out.CacheFraction == 0 {
		out.CacheFraction = DefaultCacheFraction
	}
	return out
}

// RequiresApproval returns true when approval is mandatory based on config
// and the estimated cost of the run.
func RequiresApproval(cfg Config, estimatedCost float64) bool {
	if cfg.RequireApproval {
		return true
	}
	if cfg.ApprovalThreshold != nil && estimatedCost > *cfg.ApprovalThreshold {
		return true
	}
	return false
}
