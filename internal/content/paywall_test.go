package content

import "testing"

func TestPaywallDetectsHardWall(t *testing.T) {
	t.Parallel()
	d := NewPaywallDetector()
	html := `<div class="article-paywall">Subscribe to continue reading this story.</div>`
	res := d.Detect(html)
	if !res.Paywalled {
		t.Fatalf("hard paywall not detected: %+v", res)
	}
	if res.Confidence <= 0 {
		t.Fatalf("confidence = %.3f, want > 0", res.Confidence)
	}
}

func TestPaywallWeakSignalsAccumulate(t *testing.T) {
	t.Parallel()
	d := NewPaywallDetector()
	// Two weak signals (1.0 each) stay under the 3.0 threshold.
	weak := `<p>Subscribe now</p><p>Start your free trial</p>`
	if d.Detect(weak).Paywalled {
		t.Fatal("two weak signals should not flag a paywall")
	}
	// Adding a login gate (2.0) crosses it.
	gated := weak + `<p>Sign in to continue reading.</p>`
	if !d.Detect(gated).Paywalled {
		t.Fatal("accumulated signals should flag a paywall")
	}
}

func TestPaywallOpenAccessCounterSignal(t *testing.T) {
	t.Parallel()
	d := NewPaywallDetector()
	html := `<span class="open-access">Free to read under Creative Commons.</span><p>Subscribe now</p><p>Start your free trial</p><p>Sign in to view</p>`
	res := d.Detect(html)
	if res.Paywalled {
		t.Fatalf("open access markers should offset weak paywall signals: %+v", res)
	}
}

func TestPaywallEmptyInput(t *testing.T) {
	t.Parallel()
	d := NewPaywallDetector()
	res := d.Detect("   ")
	if res.Paywalled || res.Weight != 0 || res.Confidence != 0 {
		t.Fatalf("empty input should be neutral: %+v", res)
	}
	if !d.Accessible("plain article body with no signals") {
		t.Fatal("clean content should be accessible")
	}
}
