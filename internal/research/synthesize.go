package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/internal/helpers"
	"github.com/mohammad-safakhou/deepscout/internal/llm"
	"github.com/mohammad-safakhou/deepscout/internal/state"
)

const synthesizeSystemPrompt = `You are a research report writer. Compose a
Markdown report from the subtopic summaries provided, using exactly these
sections: a "# " title line, "## Executive Summary", "## Key Findings" with
one "### " subsection per subtopic, and "## Conclusions". Cite sources inline
as [n] using only the numbers from the provided source list. Do not add a
Sources section; it is appended separately. Target at most %d words.`

// Synthesize folds every subtopic summary into the final cited report. In
// partial mode the report is assembled locally from the summaries without a
// model call; outside it, synthesis failures fail the run, except a budget
// breach mid-call, which still ends with the locally assembled report.
func (p *Pipeline) Synthesize(ctx context.Context, st *state.ResearchState) (state.Update, error) {
	sources := buildSourceIndex(st)

	var body string
	switch {
	case len(st.SubtopicSummaries) == 0:
		body = emptyReportBody(st.Query)
	case p.effects().SkipRemaining:
		p.logger.Printf("budget exhausted, assembling report locally")
		body = assembleFallbackReport(st, sources)
	default:
		var err error
		body, err = p.synthesizeWithModel(ctx, st, sources)
		if err != nil {
			if !errkind.Is(err, errkind.BudgetExceeded) {
				return state.Update{}, err
			}
			p.logger.Printf("budget exhausted during synthesis, assembling report locally: %v", err)
			body = assembleFallbackReport(st, sources)
		}
	}

	if missing, unreferenced := helpers.ValidateCitations(body, sources); len(missing) > 0 || len(unreferenced) > 0 {
		if len(missing) > 0 {
			p.logger.Printf("report cites undefined sources %v", missing)
		}
		if len(unreferenced) > 0 {
			p.logger.Printf("sources defined but never cited: %v", unreferenced)
		}
	}

	gaps := coverageGaps(st)
	if len(gaps) > 0 {
		body += "\n\n## Coverage Gaps\n\nThe following subtopics could not be researched before the run ended:\n"
		for _, g := range gaps {
			body += fmt.Sprintf("- %s\n", g)
		}
	}

	body += "\n\n## Sources\n\n"
	for _, s := range sources.Sources() {
		body += helpers.FormatSource(s) + "\n"
	}

	meta := state.ReportMetadata{
		GeneratedAt:  time.Now().UTC(),
		WordCount:    len(strings.Fields(body)),
		SourceCount:  sources.Len(),
		TotalCost:    st.TotalCost,
		Tier:         st.DegradationTier,
		CoverageGaps: gaps,
	}
	if p.tracker != nil {
		meta.TotalCost = p.tracker.Snapshot().Cost
	}

	return state.Update{FinalReport: &body, ReportMetadata: &meta}, nil
}

func (p *Pipeline) synthesizeWithModel(ctx context.Context, st *state.ResearchState, sources *helpers.SourceIndex) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research query: %s\n\nSources:\n", st.Query)
	for _, s := range sources.Sources() {
		fmt.Fprintf(&b, "[%d] %s %s\n", s.Number, s.Title, s.URL)
	}
	b.WriteString("\nSubtopic summaries:\n\n")
	for _, sum := range st.SubtopicSummaries {
		fmt.Fprintf(&b, "### %s\n%s\n", sum.Title, numberCitations(sum, sources))
		b.WriteString("\n")
	}

	res, err := p.router.Call(ctx, llm.CallRequest{
		Intent: llm.IntentSynthesize,
		Messages: llm.ComposeMessages(
			[]llm.Message{{Role: "system", Content: fmt.Sprintf(synthesizeSystemPrompt, p.cfg.ReportMaxWords)}},
			nil,
			llm.Message{Role: "user", Content: b.String()},
		),
		Temperature: p.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}

// buildSourceIndex numbers every cited URL across all summaries, first seen
// first numbered, duplicates collapsing onto one entry.
func buildSourceIndex(st *state.ResearchState) *helpers.SourceIndex {
	idx := helpers.NewSourceIndex()
	titles := make(map[string]string, len(st.ScrapedPages))
	for _, pg := range st.ScrapedPages {
		titles[pg.URL] = pg.Title
	}
	for _, sum := range st.SubtopicSummaries {
		for _, u := range sum.Citations {
			idx.Add(u, titles[u])
		}
	}
	return idx
}

// numberCitations rewrites a summary's inline [url] citations to the global
// [n] numbering so the model never sees raw URLs in the body text.
func numberCitations(sum state.SubtopicSummary, sources *helpers.SourceIndex) string {
	text := sum.Summary
	for _, u := range sum.Citations {
		if n := sources.Number(u); n > 0 {
			text = strings.ReplaceAll(text, "["+u+"]", fmt.Sprintf("[%d]", n))
			text = strings.ReplaceAll(text, u, fmt.Sprintf("[%d]", n))
		}
	}
	return text
}

// coverageGaps lists subtopics that never produced a summary.
func coverageGaps(st *state.ResearchState) []string {
	var gaps []string
	for _, sub := range st.Subtopics {
		if st.SummaryFor(sub.ID) == nil {
			gaps = append(gaps, fmt.Sprintf("%s: %s", sub.ID, sub.Title))
		}
	}
	return gaps
}

// assembleFallbackReport builds a serviceable report without a model call, so
// a run that exhausted its budget still ends with its findings on disk.
func assembleFallbackReport(st *state.ResearchState, sources *helpers.SourceIndex) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", st.Query)
	b.WriteString("## Executive Summary\n\n")
	fmt.Fprintf(&b, "This report aggregates findings across %d researched subtopics. ", len(st.SubtopicSummaries))
	b.WriteString("It was assembled directly from subtopic summaries because report synthesis was unavailable.\n\n")
	b.WriteString("## Key Findings\n\n")
	for _, sum := range st.SubtopicSummaries {
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", sum.Title, numberCitations(sum, sources))
	}
	b.WriteString("## Conclusions\n\n")
	b.WriteString("See the per-subtopic findings above; no cross-subtopic synthesis was performed.\n")
	return b.String()
}

func emptyReportBody(query string) string {
	return fmt.Sprintf("# Research Report: %s\n\n## Executive Summary\n\nNo subtopics could be researched before the run ended.\n\n## Key Findings\n\nNone.\n\n## Conclusions\n\nThe run produced no findings.\n", query)
}
