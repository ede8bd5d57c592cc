// Package state holds the single unit of work for a research run and the
// reducer semantics used to fold stage outputs into it. The executor is the
// sole mutator; stages receive clones and hand back partial updates.
package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SchemaVersion is the current on-disk schema. Loaders migrate older
// checkpoints forward; migrations are additive only.
const SchemaVersion = 2

// SubtopicStatus tracks a subtopic through the pipeline. It advances
// monotonically and only regresses on an explicit retry from a checkpoint.
type SubtopicStatus string

const (
	SubtopicPending     SubtopicStatus = "pending"
	SubtopicSearching   SubtopicStatus = "searching"
	SubtopicScraping    SubtopicStatus = "scraping"
	SubtopicSummarizing SubtopicStatus = "summarizing"
	SubtopicDone        SubtopicStatus = "done"
	SubtopicFailed      SubtopicStatus = "failed"
)

// Subtopic is the unit of research fan-out produced by the planner.
type Subtopic struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	SearchQueries []string       `json:"search_queries,omitempty"`
	Status        SubtopicStatus `json:"status"`
}

// SearchResult is a scored hit from a search provider, attributed to the
// subtopic whose query produced it.
type SearchResult struct {
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet,omitempty"`
	Score      float64 `json:"score"`
	SubtopicID string  `json:"subtopic_id"`
}

// ScrapedPage is extracted page content with its quality assessment.
// Content may be blanked after summarization (observation masking).
type ScrapedPage struct {
	URL          string     `json:"url"`
	Title        string     `json:"title,omitempty"`
	Content      string     `json:"content"`
	QualityScore float64    `json:"quality_score"`
	WordCount    int        `json:"word_count"`
	SubtopicID   string     `json:"subtopic_id"`
	Flagged      bool       `json:"flagged,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
}

// SubtopicSummary is the dense per-subtopic digest feeding synthesis.
type SubtopicSummary struct {
	SubtopicID string   `json:"subtopic_id"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Citations  []string `json:"citations,omitempty"`
	TokenCount int      `json:"token_count"`
}

// RunError records a non-fatal failure; the run continues past these.
type RunError struct {
	Node       string    `json:"node"`
	SubtopicID string    `json:"subtopic_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// ReportMetadata describes the synthesized report.
type ReportMetadata struct {
	GeneratedAt  time.Time `json:"generated_at"`
	WordCount    int       `json:"word_count"`
	SourceCount  int       `json:"source_count"`
	TotalCost    float64   `json:"total_cost"`
	Tier         string    `json:"tier"`
	CoverageGaps []string  `json:"coverage_gaps,omitempty"`
}

// ResearchState is everything a run knows. Append-reducer fields accumulate;
// seen_urls unions; the remaining fields overwrite.
type ResearchState struct {
	Schema               int               `json:"_schema_version"`
	RunID                string            `json:"run_id"`
	Query                string            `json:"query"`
	Step                 int               `json:"step"`
	LastNode             string            `json:"last_node,omitempty"`
	Subtopics            []Subtopic        `json:"subtopics,omitempty"`
	CurrentSubtopicIndex int               `json:"current_subtopic_index"`
	SearchResults        []SearchResult    `json:"search_results,omitempty"`
	ScrapedPages         []ScrapedPage     `json:"scraped_pages,omitempty"`
	SubtopicSummaries    []SubtopicSummary `json:"subtopic_summaries,omitempty"`
	SeenURLs             []string          `json:"seen_urls"`
	Errors               []RunError        `json:"errors,omitempty"`
	FinalReport          string            `json:"final_report,omitempty"`
	ReportMetadata       *ReportMetadata   `json:"report_metadata,omitempty"`
	TotalCost            float64           `json:"total_cost"`
	TotalTokens          int64             `json:"total_tokens"`
	DegradationTier      string            `json:"degradation_tier"`
}

// New seeds a fresh state for a run.
func New(runID, query string) *ResearchState {
	return &ResearchState{
		Schema:          SchemaVersion,
		RunID:           runID,
		Query:           query,
		SeenURLs:        []string{},
		DegradationTier: "full",
	}
}

// Update is a partial state delta returned by a stage. Nil slices and nil
// pointers mean "absent": applying an empty Update is a no-op.
type Update struct {
	Subtopics            []Subtopic
	CurrentSubtopicIndex *int
	SearchResults        []SearchResult
	ScrapedPages         []ScrapedPage
	SubtopicSummaries    []SubtopicSummary
	SeenURLs             []string
	Errors               []RunError
	FinalReport          *string
	ReportMetadata       *ReportMetadata
	DegradationTier      *string
	// MaskContentURLs blanks the Content of already-recorded pages with
	// these URLs (observation masking after summarization).
	MaskContentURLs []string
}

// IsZero reports whether the update carries no deltas.
func (u Update) IsZero() bool {
	return u.Subtopics == nil &&
		u.CurrentSubtopicIndex == nil &&
		len(u.SearchResults) == 0 &&
		len(u.ScrapedPages) == 0 &&
		len(u.SubtopicSummaries) == 0 &&
		len(u.SeenURLs) == 0 &&
		len(u.Errors) == 0 &&
		u.FinalReport == nil &&
		u.ReportMetadata == nil &&
		u.DegradationTier == nil &&
		len(u.MaskContentURLs) == 0
}

// Apply folds an update into the state: append-list for accumulators,
// set-union for seen_urls, overwrite for scalars.
func Apply(s *ResearchState, u Update) {
	if u.Subtopics != nil {
		s.Subtopics = u.Subtopics
	}
	if u.CurrentSubtopicIndex != nil {
		s.CurrentSubtopicIndex = *u.CurrentSubtopicIndex
	}
	s.SearchResults = append(s.SearchResults, u.SearchResults...)
	s.ScrapedPages = append(s.ScrapedPages, u.ScrapedPages...)
	s.SubtopicSummaries = append(s.SubtopicSummaries, u.SubtopicSummaries...)
	s.Errors = append(s.Errors, u.Errors...)
	if len(u.SeenURLs) > 0 {
		s.SeenURLs = unionSorted(s.SeenURLs, u.SeenURLs)
	}
	if u.FinalReport != nil {
		s.FinalReport = *u.FinalReport
	}
	if u.ReportMetadata != nil {
		meta := *u.ReportMetadata
		s.ReportMetadata = &meta
	}
	if u.DegradationTier != nil {
		s.DegradationTier = *u.DegradationTier
	}
	if len(u.MaskContentURLs) > 0 {
		masked := make(map[string]struct{}, len(u.MaskContentURLs))
		for _, url := range u.MaskContentURLs {
			masked[url] = struct{}{}
		}
		for i := range s.ScrapedPages {
			if _, ok := masked[s.ScrapedPages[i].URL]; ok {
				s.ScrapedPages[i].Content = ""
			}
		}
	}
}

func unionSorted(old, delta []string) []string {
	set := make(map[string]struct{}, len(old)+len(delta))
	for _, v := range old {
		set[v] = struct{}{}
	}
	for _, v := range delta {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// HasSeenURL reports set membership in seen_urls. Callers pass already
// normalized URLs.
func (s *ResearchState) HasSeenURL(url string) bool {
	i := sort.SearchStrings(s.SeenURLs, url)
	return i < len(s.SeenURLs) && s.SeenURLs[i] == url
}

// CurrentSubtopic returns the subtopic under work, or nil when the index has
// run past the plan.
func (s *ResearchState) CurrentSubtopic() *Subtopic {
	if s.CurrentSubtopicIndex < 0 || s.CurrentSubtopicIndex >= len(s.Subtopics) {
		return nil
	}
	return &s.Subtopics[s.CurrentSubtopicIndex]
}

// SummaryFor returns the summary for a subtopic if one exists.
func (s *ResearchState) SummaryFor(subtopicID string) *SubtopicSummary {
	for i := range s.SubtopicSummaries {
		if s.SubtopicSummaries[i].SubtopicID == subtopicID {
			return &s.SubtopicSummaries[i]
		}
	}
	return nil
}

// PagesFor returns the scraped pages attributed to a subtopic, ordered by
// descending quality then URL so downstream behavior is deterministic even
// when scrapes completed out of order.
func (s *ResearchState) PagesFor(subtopicID string) []ScrapedPage {
	var pages []ScrapedPage
	for _, p := range s.ScrapedPages {
		if p.SubtopicID == subtopicID {
			pages = append(pages, p)
		}
	}
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].QualityScore != pages[j].QualityScore {
			return pages[i].QualityScore > pages[j].QualityScore
		}
		return pages[i].URL < pages[j].URL
	})
	return pages
}

// ResultsFor returns the search results attributed to a subtopic, ordered by
// descending score.
func (s *ResearchState) ResultsFor(subtopicID string) []SearchResult {
	var results []SearchResult
	for _, r := range s.SearchResults {
		if r.SubtopicID == subtopicID {
			results = append(results, r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// Clone returns a deep copy so stages can never alias executor-owned state.
func (s *ResearchState) Clone() *ResearchState {
	c := *s
	c.Subtopics = append([]Subtopic(nil), s.Subtopics...)
	for i := range c.Subtopics {
		c.Subtopics[i].SearchQueries = append([]string(nil), s.Subtopics[i].SearchQueries...)
	}
	c.SearchResults = append([]SearchResult(nil), s.SearchResults...)
	c.ScrapedPages = append([]ScrapedPage(nil), s.ScrapedPages...)
	for i := range c.ScrapedPages {
		if s.ScrapedPages[i].PublishedAt != nil {
			ts := *s.ScrapedPages[i].PublishedAt
			c.ScrapedPages[i].PublishedAt = &ts
		}
	}
	c.SubtopicSummaries = append([]SubtopicSummary(nil), s.SubtopicSummaries...)
	for i := range c.SubtopicSummaries {
		c.SubtopicSummaries[i].Citations = append([]string(nil), s.SubtopicSummaries[i].Citations...)
	}
	c.SeenURLs = append([]string(nil), s.SeenURLs...)
	c.Errors = append([]RunError(nil), s.Errors...)
	if s.ReportMetadata != nil {
		meta := *s.ReportMetadata
		meta.CoverageGaps = append([]string(nil), s.ReportMetadata.CoverageGaps...)
		c.ReportMetadata = &meta
	}
	return &c
}

// Marshal serializes the state deterministically: struct field order is
// fixed, seen_urls is kept sorted, timestamps are UTC.
func (s *ResearchState) Marshal() ([]byte, error) {
	sort.Strings(s.SeenURLs)
	return json.Marshal(s)
}

// Unmarshal loads a serialized state, tolerating unknown fields from newer
// writers.
func Unmarshal(data []byte) (*ResearchState, error) {
	var s ResearchState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &s, nil
}

// Validate checks the structural invariants the pipeline relies on.
func (s *ResearchState) Validate() error {
	if s.CurrentSubtopicIndex < 0 || s.CurrentSubtopicIndex > len(s.Subtopics) {
		return fmt.Errorf("current_subtopic_index %d out of range [0,%d]", s.CurrentSubtopicIndex, len(s.Subtopics))
	}
	if s.TotalCost < 0 {
		return fmt.Errorf("total_cost %f negative", s.TotalCost)
	}
	seen := make(map[string]int)
	for _, sum := range s.SubtopicSummaries {
		seen[sum.SubtopicID]++
		if seen[sum.SubtopicID] > 1 {
			return fmt.Errorf("duplicate summary for subtopic %s", sum.SubtopicID)
		}
	}
	if len(s.SubtopicSummaries) > len(s.Subtopics) {
		return fmt.Errorf("%d summaries for %d subtopics", len(s.SubtopicSummaries), len(s.Subtopics))
	}
	return nil
}
