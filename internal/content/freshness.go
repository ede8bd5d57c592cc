package content

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// DefaultFreshnessScore is used when no publication date can be extracted.
const DefaultFreshnessScore = 0.5

// FreshnessResult is the outcome of dating a page.
type FreshnessResult struct {
	PublishedAt *time.Time `json:"published_at,omitempty"`
	AgeDays     int        `json:"age_days"`
	Score       float64    `json:"score"`
	Archived    bool       `json:"archived"`
	DateSource  string     `json:"date_source"`
}

// FreshnessScorer extracts publication dates from HTML and applies an
// exponential decay so a page HalfLifeDays old scores 0.5.
type FreshnessScorer struct {
	HalfLifeDays float64
	MaxAgeDays   float64
	now          func() time.Time
}

// NewFreshnessScorer returns a scorer with a 180-day half-life and a
// five-year cutoff.
func NewFreshnessScorer() *FreshnessScorer {
	return &FreshnessScorer{HalfLifeDays: 180, MaxAgeDays: 1825, now: time.Now}
}

var metaDateAttrs = []string{
	"article:published_time",
	"article:modified_time",
	"og:article:published_time",
	"datePublished",
	"date",
	"DC.date",
	"DC.date.issued",
	"pubdate",
	"publishdate",
	"publish_date",
	"last-modified",
}

var isoDateRE = regexp.MustCompile(`\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}(:\d{2})?([+-]\d{2}:?\d{2}|Z)?)?`)

var archivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)this\s+(page|article|content)\s+(has\s+been|is|was)\s+(removed|deleted|archived|expired|taken\s+down)`),
	regexp.MustCompile(`(?i)(page|content|article)\s+(not?\s+found|no\s+longer\s+(available|exists?))`),
	regexp.MustCompile(`(?i)(404|410)\s+(not\s+found|gone)`),
	regexp.MustCompile(`(?i)this\s+link\s+(has\s+)?expired`),
	regexp.MustCompile(`(?i)we\s+(couldn.t|could\s+not)\s+find\s+(the|this)\s+page`),
}

// Score dates the page from meta tags, falling back to any ISO date in the
// first chunk of body text. Pages it cannot date score DefaultFreshnessScore;
// archived or removed pages score zero.
func (f *FreshnessScorer) Score(html, text string) FreshnessResult {
	if archived(html) || archived(text) {
		return FreshnessResult{Score: 0, Archived: true, DateSource: "archive_marker"}
	}

	published, source := extractDate(html, text)
	if published == nil {
		return FreshnessResult{Score: DefaultFreshnessScore, DateSource: "none"}
	}

	age := f.now().UTC().Sub(*published).Hours() / 24
	if age < 0 {
		age = 0
	}
	score := 0.0
	if age <= f.MaxAgeDays {
		score = math.Exp2(-age / f.HalfLifeDays)
	}
	return FreshnessResult{
		PublishedAt: published,
		AgeDays:     int(age),
		Score:       score,
		DateSource:  source,
	}
}

func archived(s string) bool {
	if s == "" {
		return false
	}
	for _, p := range archivePatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func extractDate(html, text string) (*time.Time, string) {
	for _, attr := range metaDateAttrs {
		re := regexp.MustCompile(`(?i)<meta[^>]+(?:name|property)\s*=\s*["']` +
			regexp.QuoteMeta(attr) + `["'][^>]+content\s*=\s*["']([^"']+)["']`)
		if m := re.FindStringSubmatch(html); m != nil {
			if ts := parseISODate(m[1]); ts != nil {
				return ts, "meta:" + attr
			}
		}
	}
	// Fall back to the first ISO date near the top of the text.
	probe := text
	if len(probe) > 2000 {
		probe = probe[:2000]
	}
	if m := isoDateRE.FindString(probe); m != "" {
		if ts := parseISODate(m); ts != nil {
			return ts, "body_text"
		}
	}
	return nil, "none"
}

func parseISODate(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			utc := ts.UTC()
			return &utc
		}
	}
	return nil
}
