package research

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/deepscout/internal/budget"
	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/internal/llm"
	"github.com/mohammad-safakhou/deepscout/internal/state"
	"github.com/mohammad-safakhou/deepscout/tools/web_fetch"
	"github.com/mohammad-safakhou/deepscout/tools/web_search"
)

// stubCaller answers by intent; unscripted intents echo a fixed reply.
type stubCaller struct {
	replies map[llm.Intent]string
	errs    map[llm.Intent]error
	calls   []llm.CallRequest
}

func (c *stubCaller) Call(_ context.Context, req llm.CallRequest) (llm.CallResult, error) {
	c.calls = append(c.calls, req)
	if err, ok := c.errs[req.Intent]; ok && err != nil {
		return llm.CallResult{}, err
	}
	text, ok := c.replies[req.Intent]
	if !ok {
		text = "stub reply"
	}
	return llm.CallResult{
		Text:         text,
		InputTokens:  100,
		OutputTokens: 50,
		Provider:     "stub",
		Model:        "stub-model",
		CostUSD:      0.01,
	}, nil
}

// stubSearcher returns fixed hits for every query.
type stubSearcher struct {
	name string
	hits []web_search.Result
	err  error
}

func (s *stubSearcher) Name() string { return s.name }
func (s *stubSearcher) Discover(context.Context, string, int) ([]web_search.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.hits, nil
}

// stubFetcher returns a canned page for every URL.
type stubFetcher struct {
	name string
	text string
	err  error
}

func (f *stubFetcher) Name() string { return f.name }
func (f *stubFetcher) Fetch(_ context.Context, url string) (web_fetch.Result, error) {
	if f.err != nil {
		return web_fetch.Result{}, f.err
	}
	return web_fetch.Result{URL: url, Title: "Page " + url, Text: f.text, Status: 200, Extractor: f.name}, nil
}

// articleText builds a plausible article body of roughly n words.
func articleText(n int) string {
	var b strings.Builder
	for i := 0; i < n; i += 12 {
		b.WriteString("The system records every stage transition before advancing to the next node. ")
	}
	return b.String()
}

func newTestPipeline(t *testing.T, caller Caller, searchers []web_search.WebSearcher, fetcher web_fetch.WebFetcher, ctrl *budget.Controller) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.InterCallDelay = 0
	return New(cfg, caller, searchers, fetcher, nil, ctrl,
		WithLogger(log.New(io.Discard, "", 0)))
}

func planReply(n int) string {
	var items []string
	for i := 1; i <= n; i++ {
		items = append(items, fmt.Sprintf(
			`{"title":"Subtopic %d","description":"about %d","search_queries":["q%da","q%db"]}`, i, i, i, i))
	}
	return "[" + strings.Join(items, ",") + "]"
}

func TestPlanProducesSubtopics(t *testing.T) {
	t.Parallel()
	caller := &stubCaller{replies: map[llm.Intent]string{llm.IntentPlan: "```json\n" + planReply(3) + "\n```"}}
	p := newTestPipeline(t, caller, nil, nil, nil)
	st := state.New("run-1", "what is a vector database")

	u, err := p.Plan(context.Background(), st)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(u.Subtopics) != 3 {
		t.Fatalf("got %d subtopics, want 3", len(u.Subtopics))
	}
	if u.Subtopics[0].ID != "st-1" || u.Subtopics[0].Status != state.SubtopicPending {
		t.Fatalf("unexpected first subtopic: %+v", u.Subtopics[0])
	}
	if u.CurrentSubtopicIndex == nil || *u.CurrentSubtopicIndex != 0 {
		t.Fatalf("cursor not reset to 0")
	}
}

func TestPlanCapsAtSevenAndDedupes(t *testing.T) {
	t.Parallel()
	reply := planReply(9)
	reply = strings.Replace(reply, `"Subtopic 9"`, `"Subtopic 1"`, 1)
	caller := &stubCaller{replies: map[llm.Intent]string{llm.IntentPlan: reply}}
	p := newTestPipeline(t, caller, nil, nil, nil)

	u, err := p.Plan(context.Background(), state.New("run-1", "q"))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(u.Subtopics) != 7 {
		t.Fatalf("got %d subtopics, want 7", len(u.Subtopics))
	}
}

func TestPlanInvalidOnGarbage(t *testing.T) {
	t.Parallel()
	caller := &stubCaller{replies: map[llm.Intent]string{llm.IntentPlan: "I cannot help with that."}}
	p := newTestPipeline(t, caller, nil, nil, nil)

	_, err := p.Plan(context.Background(), state.New("run-1", "q"))
	if !errkind.Is(err, errkind.PlanInvalid) {
		t.Fatalf("err kind = %v, want plan_invalid", errkind.KindOf(err))
	}
}

func TestPlanInvalidOnEmptyArray(t *testing.T) {
	t.Parallel()
	caller := &stubCaller{replies: map[llm.Intent]string{llm.IntentPlan: "[]"}}
	p := newTestPipeline(t, caller, nil, nil, nil)

	_, err := p.Plan(context.Background(), state.New("run-1", "q"))
	if !errkind.Is(err, errkind.PlanInvalid) {
		t.Fatalf("err kind = %v, want plan_invalid", errkind.KindOf(err))
	}
}

func plannedState(n int) *state.ResearchState {
	st := state.New("run-1", "what is a vector database")
	for i := 1; i <= n; i++ {
		st.Subtopics = append(st.Subtopics, state.Subtopic{
			ID:     fmt.Sprintf("st-%d", i),
			Title:  fmt.Sprintf("Subtopic %d", i),
			Status: state.SubtopicPending,
		})
	}
	return st
}

func TestSearchScoresAndDedupes(t *testing.T) {
	t.Parallel()
	searcher := &stubSearcher{name: "stub", hits: []web_search.Result{
		{Title: "A", URL: "https://Example.com/a/", Rank: 0},
		{Title: "B", URL: "https://example.com/b?utm_source=x", Rank: 1},
		{Title: "A again", URL: "https://example.com/a", Rank: 2},
	}}
	caller := &stubCaller{replies: map[llm.Intent]string{llm.IntentSummarize: `["direct","broader","narrower"]`}}
	p := newTestPipeline(t, caller, []web_search.WebSearcher{searcher}, nil, nil)
	st := plannedState(2)

	u, err := p.Search(context.Background(), st)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(u.SearchResults) != 2 {
		t.Fatalf("got %d results, want 2 after dedup: %+v", len(u.SearchResults), u.SearchResults)
	}
	for _, r := range u.SearchResults {
		if strings.Contains(r.URL, "utm_source") || strings.HasSuffix(r.URL, "/a/") {
			t.Fatalf("URL not canonicalized: %s", r.URL)
		}
		if r.SubtopicID != "st-1" {
			t.Fatalf("result attributed to %s", r.SubtopicID)
		}
	}
	if u.SearchResults[0].Score < u.SearchResults[1].Score {
		t.Fatal("results not sorted by descending score")
	}
}

func TestSearchSkipsSeenURLs(t *testing.T) {
	t.Parallel()
	searcher := &stubSearcher{name: "stub", hits: []web_search.Result{
		{Title: "X", URL: "https://example.com/x", Rank: 0},
		{Title: "Y", URL: "https://example.com/y", Rank: 1},
	}}
	caller := &stubCaller{replies: map[llm.Intent]string{llm.IntentSummarize: `["q"]`}}
	p := newTestPipeline(t, caller, []web_search.WebSearcher{searcher}, nil, nil)
	st := plannedState(1)
	st.SeenURLs = []string{"https://example.com/x"}

	u, err := p.Search(context.Background(), st)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(u.SearchResults) != 1 || u.SearchResults[0].URL != "https://example.com/y" {
		t.Fatalf("seen URL not skipped: %+v", u.SearchResults)
	}
}

func TestSearchAllProvidersFailMarksSubtopicFailed(t *testing.T) {
	t.Parallel()
	dead := &stubSearcher{name: "dead", err: errkind.Newf(errkind.Permanent, "test", "key revoked")}
	caller := &stubCaller{replies: map[llm.Intent]string{llm.IntentSummarize: `["q1","q2","q3"]`}}
	p := newTestPipeline(t, caller, []web_search.WebSearcher{dead}, nil, nil)
	st := plannedState(1)

	u, err := p.Search(context.Background(), st)
	if err != nil {
		t.Fatalf("Search must not fail the run: %v", err)
	}
	if len(u.SearchResults) != 0 {
		t.Fatalf("results from dead provider: %+v", u.SearchResults)
	}
	if len(u.Errors) < 3 {
		t.Fatalf("got %d errors, want one per query (3)", len(u.Errors))
	}
	for _, e := range u.Errors {
		if e.SubtopicID != "st-1" {
			t.Fatalf("error missing subtopic attribution: %+v", e)
		}
	}
	if u.Subtopics[0].Status != state.SubtopicFailed {
		t.Fatalf("subtopic status = %s, want failed", u.Subtopics[0].Status)
	}
}

func TestSearchFallsThroughProviderChain(t *testing.T) {
	t.Parallel()
	dead := &stubSearcher{name: "dead", err: errkind.Newf(errkind.Permanent, "test", "nope")}
	alive := &stubSearcher{name: "alive", hits: []web_search.Result{{Title: "Z", URL: "https://example.com/z", Rank: 0}}}
	caller := &stubCaller{replies: map[llm.Intent]string{llm.IntentSummarize: `["q"]`}}
	p := newTestPipeline(t, caller, []web_search.WebSearcher{dead, alive}, nil, nil)

	u, err := p.Search(context.Background(), plannedState(1))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(u.SearchResults) != 1 {
		t.Fatalf("fallback provider not used: %+v", u.SearchResults)
	}
}

func TestScrapeKeepsGoodDropsBad(t *testing.T) {
	t.Parallel()
	fetcher := &stubFetcher{name: "http", text: articleText(400)}
	p := newTestPipeline(t, &stubCaller{}, nil, fetcher, nil)
	st := plannedState(1)
	st.Subtopics[0].Status = state.SubtopicScraping
	st.SearchResults = []state.SearchResult{
		{URL: "https://example.com/good", Score: 0.9, SubtopicID: "st-1"},
	}

	u, err := p.Scrape(context.Background(), st)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(u.ScrapedPages) != 1 {
		t.Fatalf("got %d pages, want 1", len(u.ScrapedPages))
	}
	pg := u.ScrapedPages[0]
	if pg.WordCount < 300 {
		t.Fatalf("word count = %d", pg.WordCount)
	}
	if pg.QualityScore <= 0 || pg.QualityScore > 1 {
		t.Fatalf("quality = %v", pg.QualityScore)
	}
}

func TestScrapeRecordsFailuresAndContinues(t *testing.T) {
	t.Parallel()
	fetcher := &stubFetcher{name: "http", err: errkind.Newf(errkind.Permanent, "test", "404")}
	p := newTestPipeline(t, &stubCaller{}, nil, fetcher, nil)
	st := plannedState(1)
	st.Subtopics[0].Status = state.SubtopicScraping
	st.SearchResults = []state.SearchResult{
		{URL: "https://example.com/gone", Score: 0.9, SubtopicID: "st-1"},
	}

	u, err := p.Scrape(context.Background(), st)
	if err != nil {
		t.Fatalf("Scrape must not fail the run: %v", err)
	}
	if len(u.ScrapedPages) != 0 {
		t.Fatalf("pages from failed fetch: %+v", u.ScrapedPages)
	}
	if len(u.Errors) != 1 || u.Errors[0].URL != "https://example.com/gone" {
		t.Fatalf("failure not recorded: %+v", u.Errors)
	}
}

func TestScrapeDropsThinContent(t *testing.T) {
	t.Parallel()
	fetcher := &stubFetcher{name: "http", text: "too short"}
	p := newTestPipeline(t, &stubCaller{}, nil, fetcher, nil)
	st := plannedState(1)
	st.Subtopics[0].Status = state.SubtopicScraping
	st.SearchResults = []state.SearchResult{
		{URL: "https://example.com/thin", Score: 0.9, SubtopicID: "st-1"},
	}

	u, err := p.Scrape(context.Background(), st)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(u.ScrapedPages) != 0 {
		t.Fatalf("thin page kept: %+v", u.ScrapedPages)
	}
}

func summarizedState() *state.ResearchState {
	st := plannedState(2)
	st.Subtopics[0].Status = state.SubtopicSummarizing
	st.ScrapedPages = []state.ScrapedPage{
		{URL: "https://example.com/a", Title: "A", Content: articleText(300), QualityScore: 0.8, SubtopicID: "st-1"},
		{URL: "https://example.com/b", Title: "B", Content: articleText(300), QualityScore: 0.7, SubtopicID: "st-1"},
	}
	return st
}

func TestSummarizeProducesOneSummaryAndMasks(t *testing.T) {
	t.Parallel()
	caller := &stubCaller{replies: map[llm.Intent]string{
		llm.IntentSummarize: "Findings drawn from [https://example.com/a] and more.",
	}}
	p := newTestPipeline(t, caller, nil, nil, nil)
	st := summarizedState()

	u, err := p.Summarize(context.Background(), st)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(u.SubtopicSummaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(u.SubtopicSummaries))
	}
	sum := u.SubtopicSummaries[0]
	if sum.SubtopicID != "st-1" {
		t.Fatalf("summary for %s", sum.SubtopicID)
	}
	if len(sum.Citations) != 1 || sum.Citations[0] != "https://example.com/a" {
		t.Fatalf("citations = %v", sum.Citations)
	}
	if len(u.MaskContentURLs) != 2 {
		t.Fatalf("mask urls = %v, want both consumed pages", u.MaskContentURLs)
	}
	if u.CurrentSubtopicIndex == nil || *u.CurrentSubtopicIndex != 1 {
		t.Fatal("cursor not advanced")
	}
	if u.Subtopics[0].Status != state.SubtopicDone {
		t.Fatalf("status = %s, want done", u.Subtopics[0].Status)
	}
}

func TestSummarizeSkipsEmptySubtopic(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, &stubCaller{}, nil, nil, nil)
	st := plannedState(2)

	u, err := p.Summarize(context.Background(), st)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(u.SubtopicSummaries) != 0 {
		t.Fatalf("summary from empty subtopic: %+v", u.SubtopicSummaries)
	}
	if u.CurrentSubtopicIndex == nil || *u.CurrentSubtopicIndex != 1 {
		t.Fatal("cursor not advanced past empty subtopic")
	}
	if u.Subtopics[0].Status != state.SubtopicFailed {
		t.Fatalf("status = %s, want failed", u.Subtopics[0].Status)
	}
}

func TestSummarizeModelExhaustionIsNonFatal(t *testing.T) {
	t.Parallel()
	caller := &stubCaller{errs: map[llm.Intent]error{
		llm.IntentSummarize: errkind.Newf(errkind.ModelCallExhausted, "test", "all providers down"),
	}}
	p := newTestPipeline(t, caller, nil, nil, nil)
	st := summarizedState()

	u, err := p.Summarize(context.Background(), st)
	if err != nil {
		t.Fatalf("Summarize must not fail the run on exhaustion: %v", err)
	}
	if len(u.Errors) != 1 {
		t.Fatalf("exhaustion not recorded: %+v", u.Errors)
	}
	if u.CurrentSubtopicIndex == nil || *u.CurrentSubtopicIndex != 1 {
		t.Fatal("cursor not advanced")
	}
}

func synthesizedState() *state.ResearchState {
	st := plannedState(3)
	for i := range st.Subtopics {
		st.Subtopics[i].Status = state.SubtopicDone
	}
	st.SubtopicSummaries = []state.SubtopicSummary{
		{SubtopicID: "st-1", Title: "Subtopic 1", Summary: "Alpha findings.", Citations: []string{"https://example.com/a"}},
		{SubtopicID: "st-2", Title: "Subtopic 2", Summary: "Beta findings.", Citations: []string{"https://example.com/b", "https://example.com/a"}},
		{SubtopicID: "st-3", Title: "Subtopic 3", Summary: "Gamma findings.", Citations: []string{"https://example.com/c"}},
	}
	st.ScrapedPages = []state.ScrapedPage{
		{URL: "https://example.com/a", Title: "Alpha"},
		{URL: "https://example.com/b", Title: "Beta"},
		{URL: "https://example.com/c", Title: "Gamma"},
	}
	return st
}

func TestSynthesizeBuildsCitedReport(t *testing.T) {
	t.Parallel()
	caller := &stubCaller{replies: map[llm.Intent]string{
		llm.IntentSynthesize: "# Vector Databases\n\n## Executive Summary\n\nOverview [1].\n\n## Key Findings\n\n### Subtopic 1\n\nDetails [1][2].\n\n## Conclusions\n\nDone [3].",
	}}
	p := newTestPipeline(t, caller, nil, nil, nil)
	st := synthesizedState()

	u, err := p.Synthesize(context.Background(), st)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	report := *u.FinalReport
	for _, section := range []string{"## Executive Summary", "## Key Findings", "## Sources"} {
		if !strings.Contains(report, section) {
			t.Fatalf("report missing %q", section)
		}
	}
	// Three distinct URLs, each numbered once.
	if u.ReportMetadata.SourceCount != 3 {
		t.Fatalf("source count = %d, want 3", u.ReportMetadata.SourceCount)
	}
	if strings.Count(report, "https://example.com/a") != 1 {
		t.Fatal("duplicate source entry for shared citation")
	}
	if len(u.ReportMetadata.CoverageGaps) != 0 {
		t.Fatalf("unexpected gaps: %v", u.ReportMetadata.CoverageGaps)
	}
}

func TestSynthesizeCoverageGaps(t *testing.T) {
	t.Parallel()
	caller := &stubCaller{replies: map[llm.Intent]string{
		llm.IntentSynthesize: "# Report\n\n## Executive Summary\n\nPartial [1].\n\n## Key Findings\n\n### Subtopic 1\n\nX [1].\n\n## Conclusions\n\nY.",
	}}
	p := newTestPipeline(t, caller, nil, nil, nil)
	st := synthesizedState()
	st.SubtopicSummaries = st.SubtopicSummaries[:1]
	st.DegradationTier = "partial"

	u, err := p.Synthesize(context.Background(), st)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !strings.Contains(*u.FinalReport, "## Coverage Gaps") {
		t.Fatal("report missing coverage gaps section")
	}
	if len(u.ReportMetadata.CoverageGaps) != 2 {
		t.Fatalf("gaps = %v, want st-2 and st-3", u.ReportMetadata.CoverageGaps)
	}
	for _, id := range []string{"st-2", "st-3"} {
		if !strings.Contains(*u.FinalReport, id) {
			t.Fatalf("gap section missing %s", id)
		}
	}
}

func TestSynthesizeModelExhaustionIsFatal(t *testing.T) {
	t.Parallel()
	caller := &stubCaller{errs: map[llm.Intent]error{
		llm.IntentSynthesize: errkind.Newf(errkind.ModelCallExhausted, "test", "chain dead"),
	}}
	p := newTestPipeline(t, caller, nil, nil, nil)

	_, err := p.Synthesize(context.Background(), synthesizedState())
	if !errkind.Is(err, errkind.ModelCallExhausted) {
		t.Fatalf("err = %v, want model_call_exhausted to propagate", err)
	}
}

func TestSynthesizePartialModeAssemblesLocally(t *testing.T) {
	t.Parallel()
	// Any model call in partial mode would be a bug.
	caller := &stubCaller{errs: map[llm.Intent]error{
		llm.IntentSynthesize: errkind.Newf(errkind.ModelCallExhausted, "test", "must not be called"),
	}}
	ctrl := budget.NewController(budget.StartingAt(budget.TierPartial))
	p := newTestPipeline(t, caller, nil, nil, ctrl)

	u, err := p.Synthesize(context.Background(), synthesizedState())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(caller.calls) != 0 {
		t.Fatalf("partial mode made %d model calls, want 0", len(caller.calls))
	}
	report := *u.FinalReport
	for _, section := range []string{"## Executive Summary", "## Key Findings", "### Subtopic 1", "## Sources"} {
		if !strings.Contains(report, section) {
			t.Fatalf("assembled report missing %q", section)
		}
	}
}

func TestSynthesizeBudgetBreachStillProducesReport(t *testing.T) {
	t.Parallel()
	caller := &stubCaller{errs: map[llm.Intent]error{
		llm.IntentSynthesize: errkind.Newf(errkind.BudgetExceeded, "test", "cost limit"),
	}}
	p := newTestPipeline(t, caller, nil, nil, nil)

	u, err := p.Synthesize(context.Background(), synthesizedState())
	if err != nil {
		t.Fatalf("Synthesize must still produce a report on budget breach: %v", err)
	}
	if !strings.Contains(*u.FinalReport, "## Key Findings") {
		t.Fatal("assembled report missing findings")
	}
}
