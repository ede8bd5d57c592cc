package budget

import (
	"fmt"
	"sync"
)

// Tier is a degradation level. Runs start at TierFull and step down as the
// budget drains or providers fail, trading quality for completion.
type Tier string

const (
	TierFull    Tier = "full"
	TierReduced Tier = "reduced"
	TierCached  Tier = "cached"
	TierPartial Tier = "partial"
)

// StepUpFraction is the hysteresis bound: a degraded run only steps back up
// after a success while under this fraction of the budget.
const StepUpFraction = 0.75

// exhaustionLimit is how many consecutive router exhaustions push a reduced
// run into cached mode.
const exhaustionLimit = 5

var tierRank = map[Tier]int{
	TierFull:    0,
	TierReduced: 1,
	TierCached:  2,
	TierPartial: 3,
}

// ParseTier validates a tier string, e.g. one restored from a checkpoint.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if _, ok := tierRank[t]; !ok {
		return "", fmt.Errorf("unknown degradation tier %q", s)
	}
	return t, nil
}

// Effects are the knobs a tier turns on the pipeline.
type Effects struct {
	// ExpansionK is how many search queries each subtopic expands into.
	ExpansionK int
	// MaxResults caps search results kept per subtopic. In cached mode this
	// bounds local index hits instead of network results.
	MaxResults int
	// AllowNetwork permits new outbound search and scrape calls.
	AllowNetwork bool
	// ShortSummaries asks the summarize stage for compressed output.
	ShortSummaries bool
	// SkipRemaining routes straight to synthesis with whatever exists.
	SkipRemaining bool
}

var tierEffects = map[Tier]Effects{
	TierFull:    {ExpansionK: 3, MaxResults: 10, AllowNetwork: true},
	TierReduced: {ExpansionK: 2, MaxResults: 5, AllowNetwork: true, ShortSummaries: true},
	TierCached:  {ExpansionK: 0, MaxResults: 3, ShortSummaries: true},
	TierPartial: {SkipRemaining: true, ShortSummaries: true},
}

// EffectsFor returns the pipeline knobs for a tier.
func EffectsFor(t Tier) Effects { return tierEffects[t] }

// Controller owns tier transitions. The tracker only suggests; every actual
// move happens here so transitions are serialized and always observable
// through the change hook.
type Controller struct {
	mu          sync.Mutex
	tier        Tier
	exhaustions int
	onChange    func(old, new Tier, reason string)
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithChangeHook installs a callback fired on every tier transition. Used to
// emit tier_change events.
func WithChangeHook(fn func(old, new Tier, reason string)) ControllerOption {
	return func(c *Controller) { c.onChange = fn }
}

// StartingAt sets the initial tier, e.g. when resuming from a checkpoint.
func StartingAt(t Tier) ControllerOption {
	return func(c *Controller) { c.tier = t }
}

// NewController returns a controller at TierFull unless configured otherwise.
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{tier: TierFull}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tier returns the current degradation tier.
func (c *Controller) Tier() Tier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tier
}

// Effects returns the knobs for the current tier.
func (c *Controller) Effects() Effects {
	return EffectsFor(c.Tier())
}

// Observe applies a tracker suggestion. A suggestion below the current tier
// steps the run down one tier at a time, firing the change hook per step.
// Suggestions above the current tier are ignored here; recovery goes through
// RecordSuccess.
func (c *Controller) Observe(suggestion Tier, fraction float64) Tier {
	c.mu.Lock()
	var changes [][2]Tier
	for tierRank[suggestion] > tierRank[c.tier] {
		old := c.tier
		c.tier = stepDown(c.tier)
		changes = append(changes, [2]Tier{old, c.tier})
	}
	tier := c.tier
	c.mu.Unlock()

	for _, ch := range changes {
		c.fireChange(ch[0], ch[1], fmt.Sprintf("budget fraction %.2f", fraction))
	}
	return tier
}

// RecordExhaustion notes that a full provider chain failed. Five consecutive
// exhaustions push a reduced run into cached mode; any exhaustion while
// cached means no provider works at all, so the run goes partial.
func (c *Controller) RecordExhaustion() Tier {
	c.mu.Lock()
	c.exhaustions++
	var old, new Tier
	switch {
	case c.tier == TierCached:
		old, new = c.tier, TierPartial
		c.tier = TierPartial
	case c.tier == TierReduced && c.exhaustions >= exhaustionLimit:
		old, new = c.tier, TierCached
		c.tier = TierCached
	}
	count := c.exhaustions
	tier := c.tier
	c.mu.Unlock()

	if new != "" {
		c.fireChange(old, new, fmt.Sprintf("%d consecutive provider exhaustions", count))
	}
	return tier
}

// RecordSuccess resets the exhaustion streak. If the run is degraded and the
// budget fraction is back under the hysteresis bound, it steps up one tier.
func (c *Controller) RecordSuccess(fraction float64) Tier {
	c.mu.Lock()
	c.exhaustions = 0
	var old, new Tier
	if c.tier != TierFull && fraction < StepUpFraction {
		old, new = c.tier, stepUp(c.tier)
		c.tier = new
	}
	tier := c.tier
	c.mu.Unlock()

	if new != "" {
		c.fireChange(old, new, fmt.Sprintf("recovery at fraction %.2f", fraction))
	}
	return tier
}

func (c *Controller) fireChange(old, new Tier, reason string) {
	if c.onChange != nil {
		c.onChange(old, new, reason)
	}
}

func stepDown(t Tier) Tier {
	switch t {
	case TierFull:
		return TierReduced
	case TierReduced:
		return TierCached
	default:
		return TierPartial
	}
}

func stepUp(t Tier) Tier {
	switch t {
	case TierPartial:
		return TierCached
	case TierCached:
		return TierReduced
	default:
		return TierFull
	}
}
