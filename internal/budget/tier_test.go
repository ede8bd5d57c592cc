package budget

import "testing"

type tierChange struct {
	old, new Tier
	reason   string
}

func recordingController(opts ...ControllerOption) (*Controller, *[]tierChange) {
	changes := &[]tierChange{}
	opts = append(opts, WithChangeHook(func(old, new Tier, reason string) {
		*changes = append(*changes, tierChange{old, new, reason})
	}))
	return NewController(opts...), changes
}

func TestParseTier(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"full", "reduced", "cached", "partial"} {
		if _, err := ParseTier(s); err != nil {
			t.Fatalf("ParseTier(%q): %v", s, err)
		}
	}
	if _, err := ParseTier("turbo"); err == nil {
		t.Fatal("ParseTier accepted an unknown tier")
	}
}

func TestObserveStepsDownOneAtATime(t *testing.T) {
	t.Parallel()
	c, changes := recordingController()

	if got := c.Observe(TierReduced, 0.82); got != TierReduced {
		t.Fatalf("tier after reduce suggestion = %s, want reduced", got)
	}
	// A big budget jump crosses two thresholds at once; both edges fire.
	if got := c.Observe(TierPartial, 1.05); got != TierPartial {
		t.Fatalf("tier after partial suggestion = %s, want partial", got)
	}
	want := []tierChange{
		{TierFull, TierReduced, ""},
		{TierReduced, TierCached, ""},
		{TierCached, TierPartial, ""},
	}
	if len(*changes) != len(want) {
		t.Fatalf("got %d transitions, want %d: %+v", len(*changes), len(want), *changes)
	}
	for i, w := range want {
		got := (*changes)[i]
		if got.old != w.old || got.new != w.new {
			t.Fatalf("transition %d = %s→%s, want %s→%s", i, got.old, got.new, w.old, w.new)
		}
		if got.reason == "" {
			t.Fatalf("transition %d has empty reason", i)
		}
	}
}

func TestObserveIgnoresUpwardSuggestions(t *testing.T) {
	t.Parallel()
	c, changes := recordingController(StartingAt(TierCached))
	if got := c.Observe(TierFull, 0.10); got != TierCached {
		t.Fatalf("Observe stepped up to %s; recovery must go through RecordSuccess", got)
	}
	if len(*changes) != 0 {
		t.Fatalf("unexpected transitions: %+v", *changes)
	}
}

func TestExhaustionsPushReducedToCached(t *testing.T) {
	t.Parallel()
	c, changes := recordingController(StartingAt(TierReduced))
	for i := 0; i < 4; i++ {
		if got := c.RecordExhaustion(); got != TierReduced {
			t.Fatalf("tier after %d exhaustions = %s, want reduced", i+1, got)
		}
	}
	if got := c.RecordExhaustion(); got != TierCached {
		t.Fatalf("tier after 5th exhaustion = %s, want cached", got)
	}
	if len(*changes) != 1 || (*changes)[0].new != TierCached {
		t.Fatalf("transitions = %+v, want one reduced→cached", *changes)
	}
}

func TestExhaustionWhileCachedGoesPartial(t *testing.T) {
	t.Parallel()
	c, _ := recordingController(StartingAt(TierCached))
	if got := c.RecordExhaustion(); got != TierPartial {
		t.Fatalf("tier = %s, want partial when cached providers fail", got)
	}
}

func TestSuccessResetsStreakAndStepsUp(t *testing.T) {
	t.Parallel()
	c, _ := recordingController(StartingAt(TierReduced))

	// Four failures, then a success: the streak must restart from zero.
	for i := 0; i < 4; i++ {
		c.RecordExhaustion()
	}
	if got := c.RecordSuccess(0.90); got != TierReduced {
		t.Fatalf("success at high fraction moved tier to %s", got)
	}
	for i := 0; i < 4; i++ {
		if got := c.RecordExhaustion(); got != TierReduced {
			t.Fatalf("streak did not reset: tier = %s after %d post-success failures", got, i+1)
		}
	}

	// Below the hysteresis bound a success steps up exactly one tier.
	if got := c.RecordSuccess(0.50); got != TierFull {
		t.Fatalf("tier after recovery = %s, want full", got)
	}
	if got := c.RecordSuccess(0.50); got != TierFull {
		t.Fatalf("tier climbed past full: %s", got)
	}
}

func TestSuccessAtBoundDoesNotStepUp(t *testing.T) {
	t.Parallel()
	c, _ := recordingController(StartingAt(TierReduced))
	if got := c.RecordSuccess(StepUpFraction); got != TierReduced {
		t.Fatalf("success at exactly %.2f stepped up to %s", StepUpFraction, got)
	}
}

func TestEffectsTable(t *testing.T) {
	t.Parallel()
	full := EffectsFor(TierFull)
	if full.ExpansionK != 3 || full.MaxResults != 10 || !full.AllowNetwork {
		t.Fatalf("full effects = %+v", full)
	}
	reduced := EffectsFor(TierReduced)
	if reduced.ExpansionK != 2 || reduced.MaxResults != 5 || !reduced.ShortSummaries {
		t.Fatalf("reduced effects = %+v", reduced)
	}
	cached := EffectsFor(TierCached)
	if cached.AllowNetwork || cached.ExpansionK != 0 || cached.MaxResults != 3 {
		t.Fatalf("cached effects = %+v", cached)
	}
	partial := EffectsFor(TierPartial)
	if !partial.SkipRemaining || partial.AllowNetwork {
		t.Fatalf("partial effects = %+v", partial)
	}
}
