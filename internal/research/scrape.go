package research

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/deepscout/internal/content"
	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/internal/metrics"
	"github.com/mohammad-safakhou/deepscout/internal/research/index"
	"github.com/mohammad-safakhou/deepscout/internal/state"
	"github.com/mohammad-safakhou/deepscout/tools/web_fetch"
)

// Composite quality weights: extraction quality carries most of it, freshness
// and paywall accessibility the rest.
const (
	compositeQualityWeight   = 0.7
	compositeFreshnessWeight = 0.2
	compositeAccessWeight    = 0.1
)

// Scrape fetches and scores the current subtopic's search results. Pages
// below the reject threshold are dropped; pages in the band between reject
// and accept are kept but flagged. URL-level failures land in errors and the
// run continues.
func (p *Pipeline) Scrape(ctx context.Context, st *state.ResearchState) (state.Update, error) {
	sub := st.CurrentSubtopic()
	if sub == nil || sub.Status == state.SubtopicFailed {
		return state.Update{}, nil
	}
	effects := p.effects()
	if !effects.AllowNetwork {
		// Cached mode reuses pages already in state and in the index.
		return state.Update{Subtopics: subtopicsWithStatus(st, sub.ID, state.SubtopicSummarizing)}, nil
	}

	results := st.ResultsFor(sub.ID)
	if len(results) > effects.MaxResults {
		results = results[:effects.MaxResults]
	}

	type scrapeOutcome struct {
		page state.ScrapedPage
		keep bool
		err  error
	}
	outcomes := make([]scrapeOutcome, len(results))
	sem := make(chan struct{}, p.cfg.ScrapeMaxConcurrent)
	var wg sync.WaitGroup
	for i, r := range results {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			page, keep, err := p.scrapeOne(ctx, url, sub.ID)
			outcomes[i] = scrapeOutcome{page: page, keep: keep, err: err}
		}(i, r.URL)
	}
	wg.Wait()

	var update state.Update
	for i, out := range outcomes {
		if out.err != nil {
			update.Errors = append(update.Errors, state.RunError{
				Node:       "scrape",
				SubtopicID: sub.ID,
				URL:        results[i].URL,
				Kind:       string(errkind.KindOf(out.err)),
				Message:    out.err.Error(),
				At:         time.Now().UTC(),
			})
			continue
		}
		if !out.keep {
			continue
		}
		update.ScrapedPages = append(update.ScrapedPages, out.page)
		if p.index != nil {
			if err := p.index.Add(index.Document{
				URL:        out.page.URL,
				Title:      out.page.Title,
				Content:    out.page.Content,
				SubtopicID: sub.ID,
			}); err != nil {
				p.logger.Printf("index %s: %v", out.page.URL, err)
			}
		}
	}

	update.Subtopics = subtopicsWithStatus(st, sub.ID, state.SubtopicSummarizing)
	return update, nil
}

// scrapeOne fetches one URL, falling back to the JS-capable extractor when
// plain extraction scores under the accept threshold. keep=false with nil
// error means the page was fetched but judged not worth retaining.
func (p *Pipeline) scrapeOne(ctx context.Context, url, subtopicID string) (state.ScrapedPage, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ScrapeTimeout)
	defer cancel()

	res, score, err := p.fetchAndScore(ctx, p.fetcher, url)
	if err == nil && score.composite < p.cfg.QualityAccept && p.jsFetcher != nil {
		if jsRes, jsScore, jsErr := p.fetchAndScore(ctx, p.jsFetcher, url); jsErr == nil && jsScore.composite > score.composite {
			res, score = jsRes, jsScore
		}
	}
	if err != nil {
		if p.jsFetcher == nil {
			return state.ScrapedPage{}, false, err
		}
		res, score, err = p.fetchAndScore(ctx, p.jsFetcher, url)
		if err != nil {
			return state.ScrapedPage{}, false, err
		}
	}

	wordCount := len(strings.Fields(score.text))
	if wordCount < p.quality.MinWords {
		p.logger.Printf("dropping %s: %d words below minimum %d", url, wordCount, p.quality.MinWords)
		return state.ScrapedPage{}, false, nil
	}
	if score.composite < p.cfg.QualityReject {
		p.logger.Printf("dropping %s: composite quality %.2f below %.2f", url, score.composite, p.cfg.QualityReject)
		return state.ScrapedPage{}, false, nil
	}

	page := state.ScrapedPage{
		URL:          url,
		Title:        res.Title,
		Content:      score.text,
		QualityScore: score.composite,
		WordCount:    wordCount,
		SubtopicID:   subtopicID,
		Flagged:      score.composite < p.cfg.QualityAccept,
		PublishedAt:  score.publishedAt,
	}
	return page, true, nil
}

type pageScore struct {
	text        string
	composite   float64
	publishedAt *time.Time
}

// fetchAndScore runs one extractor and computes the composite quality score
// over the sanitized text.
func (p *Pipeline) fetchAndScore(ctx context.Context, f web_fetch.WebFetcher, url string) (web_fetch.Result, pageScore, error) {
	res, err := f.Fetch(ctx, url)
	if err != nil {
		metrics.Scrapes.WithLabelValues(f.Name(), string(errkind.KindOf(err))).Inc()
		return web_fetch.Result{}, pageScore{}, err
	}
	metrics.Scrapes.WithLabelValues(f.Name(), "success").Inc()

	sanitized := content.Sanitize(res.Text)
	quality := p.quality.Score(sanitized.Text, res.RawHTML, "")
	fresh := p.freshness.Score(res.RawHTML, sanitized.Text)
	wall := p.paywall.Detect(res.RawHTML)

	access := 1.0
	if wall.Paywalled {
		access = 0
	}
	composite := compositeQualityWeight*quality.Overall +
		compositeFreshnessWeight*fresh.Score +
		compositeAccessWeight*access

	score := pageScore{text: sanitized.Text, composite: composite, publishedAt: res.PublishedAt}
	if score.publishedAt == nil {
		score.publishedAt = fresh.PublishedAt
	}
	if sanitized.InjectionMarkers > 0 {
		p.logger.Printf("neutralized %d injection markers in %s", sanitized.InjectionMarkers, url)
	}
	return res, score, nil
}
