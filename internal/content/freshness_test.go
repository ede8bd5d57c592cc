package content

import (
	"math"
	"testing"
	"time"
)

func scorerAt(now time.Time) *FreshnessScorer {
	s := NewFreshnessScorer()
	s.now = func() time.Time { return now }
	return s
}

func TestFreshnessFromMetaTag(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	s := scorerAt(now)

	html := `<html><head><meta property="article:published_time" content="2026-02-02T00:00:00Z"></head></html>`
	res := s.Score(html, "")
	if res.PublishedAt == nil {
		t.Fatalf("no date extracted: %+v", res)
	}
	if res.DateSource != "meta:article:published_time" {
		t.Fatalf("date source = %q", res.DateSource)
	}
	// 180 days old: the half-life point.
	if math.Abs(res.Score-0.5) > 0.02 {
		t.Fatalf("half-life score = %.3f, want ~0.5 (age %d days)", res.Score, res.AgeDays)
	}
}

func TestFreshnessRecentScoresHigh(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	s := scorerAt(now)
	html := `<meta name="date" content="2026-07-30">`
	res := s.Score(html, "")
	if res.Score < 0.95 {
		t.Fatalf("two-day-old page scored %.3f, want >= 0.95", res.Score)
	}
}

func TestFreshnessUnknownDateIsNeutral(t *testing.T) {
	t.Parallel()
	s := scorerAt(time.Now())
	res := s.Score("<html><body>No dates here.</body></html>", "No dates in the body either.")
	if res.Score != DefaultFreshnessScore {
		t.Fatalf("undated page scored %.3f, want %.1f", res.Score, DefaultFreshnessScore)
	}
	if res.DateSource != "none" {
		t.Fatalf("date source = %q", res.DateSource)
	}
}

func TestFreshnessBodyTextFallback(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	s := scorerAt(now)
	res := s.Score("<html></html>", "Published 2026-07-01, this analysis covers recent work.")
	if res.DateSource != "body_text" {
		t.Fatalf("date source = %q, want body_text", res.DateSource)
	}
	if res.AgeDays != 31 {
		t.Fatalf("age = %d days, want 31", res.AgeDays)
	}
}

func TestFreshnessArchivedPage(t *testing.T) {
	t.Parallel()
	s := scorerAt(time.Now())
	res := s.Score("<p>This article has been removed by the publisher.</p>", "")
	if !res.Archived || res.Score != 0 {
		t.Fatalf("archived page not zeroed: %+v", res)
	}
}

func TestFreshnessFutureDateClamped(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	s := scorerAt(now)
	res := s.Score(`<meta name="date" content="2026-09-01">`, "")
	if res.Score != 1.0 {
		t.Fatalf("future-dated page scored %.3f, want clamped to 1.0", res.Score)
	}
}
