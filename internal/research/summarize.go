package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/internal/llm"
	"github.com/mohammad-safakhou/deepscout/internal/research/cache"
	"github.com/mohammad-safakhou/deepscout/internal/state"
)

const summarizeSystemPrompt = `You are a research summarizer. Given extracted
web pages for one subtopic, write a dense factual summary in prose. Cite
sources inline as [url] using the exact URLs provided. Do not invent facts
not present in the pages.`

// maxPageCharsForSummary bounds how much of each page goes into the prompt.
const maxPageCharsForSummary = 12000

// Summarize condenses the current subtopic's pages into one summary, masks
// the consumed page content out of state, and advances the subtopic cursor.
// A subtopic with nothing to summarize advances with a failed status instead
// of aborting the run.
func (p *Pipeline) Summarize(ctx context.Context, st *state.ResearchState) (state.Update, error) {
	sub := st.CurrentSubtopic()
	if sub == nil {
		return state.Update{}, nil
	}
	next := st.CurrentSubtopicIndex + 1

	pages := st.PagesFor(sub.ID)
	pages = withContent(pages)
	if len(pages) == 0 || sub.Status == state.SubtopicFailed {
		p.logger.Printf("subtopic %s: nothing to summarize, skipping", sub.ID)
		return state.Update{
			CurrentSubtopicIndex: &next,
			Subtopics:            subtopicsWithStatus(st, sub.ID, state.SubtopicFailed),
		}, nil
	}

	summary, err := p.summarizePages(ctx, sub, pages)
	if err != nil {
		if errkind.Is(err, errkind.Cancelled) || errkind.Is(err, errkind.BudgetExceeded) {
			return state.Update{}, err
		}
		// Model chain exhausted: record and move on, synthesis can still use
		// the other subtopics.
		return state.Update{
			CurrentSubtopicIndex: &next,
			Subtopics:            subtopicsWithStatus(st, sub.ID, state.SubtopicFailed),
			Errors: []state.RunError{{
				Node:       "summarize",
				SubtopicID: sub.ID,
				Kind:       string(errkind.KindOf(err)),
				Message:    err.Error(),
				At:         time.Now().UTC(),
			}},
		}, nil
	}

	masked := make([]string, 0, len(pages))
	for _, pg := range pages {
		masked = append(masked, pg.URL)
	}
	return state.Update{
		SubtopicSummaries:    []state.SubtopicSummary{summary},
		MaskContentURLs:      masked,
		CurrentSubtopicIndex: &next,
		Subtopics:            subtopicsWithStatus(st, sub.ID, state.SubtopicDone),
	}, nil
}

func (p *Pipeline) summarizePages(ctx context.Context, sub *state.Subtopic, pages []state.ScrapedPage) (state.SubtopicSummary, error) {
	urls := make([]string, 0, len(pages))
	for _, pg := range pages {
		urls = append(urls, pg.URL)
	}

	cacheKey := cache.Key("summary", append([]string{sub.Title}, urls...)...)
	if raw, ok, _ := p.cache.Get(ctx, cacheKey); ok {
		return state.SubtopicSummary{
			SubtopicID: sub.ID,
			Title:      sub.Title,
			Summary:    string(raw),
			Citations:  urls,
			TokenCount: estimateTokens(string(raw)),
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Subtopic: %s\n%s\n\n", sub.Title, sub.Description)
	if p.effects().ShortSummaries {
		b.WriteString("Keep the summary under 150 words.\n\n")
	}
	for _, pg := range pages {
		text := pg.Content
		if len(text) > maxPageCharsForSummary {
			text = text[:maxPageCharsForSummary]
		}
		fmt.Fprintf(&b, "--- Source: %s (%s)\n%s\n\n", pg.URL, pg.Title, text)
	}

	res, err := p.router.Call(ctx, llm.CallRequest{
		Intent: llm.IntentSummarize,
		Messages: llm.ComposeMessages(
			[]llm.Message{{Role: "system", Content: summarizeSystemPrompt}},
			nil,
			llm.Message{Role: "user", Content: b.String()},
		),
		Temperature: p.cfg.Temperature,
	})
	if err != nil {
		return state.SubtopicSummary{}, err
	}

	text := strings.TrimSpace(res.Text)
	_ = p.cache.Set(ctx, cacheKey, []byte(text), p.cfg.CacheTTL)
	return state.SubtopicSummary{
		SubtopicID: sub.ID,
		Title:      sub.Title,
		Summary:    text,
		Citations:  citedURLs(text, urls),
		TokenCount: res.OutputTokens,
	}, nil
}

// citedURLs keeps the source URLs the model actually cited, in page order.
// If the model cited nothing recognizable, all consumed URLs are kept so the
// provenance chain stays intact.
func citedURLs(summary string, urls []string) []string {
	var cited []string
	for _, u := range urls {
		if strings.Contains(summary, u) {
			cited = append(cited, u)
		}
	}
	if len(cited) == 0 {
		return urls
	}
	return cited
}

// withContent filters out pages whose content was already masked.
func withContent(pages []state.ScrapedPage) []state.ScrapedPage {
	var out []state.ScrapedPage
	for _, p := range pages {
		if p.Content != "" {
			out = append(out, p)
		}
	}
	return out
}

// estimateTokens is the usual 4-chars-per-token rough cut, used only when a
// summary comes from cache and carries no usage data.
func estimateTokens(s string) int {
	return len(s) / 4
}
