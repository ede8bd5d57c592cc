package research

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/internal/helpers"
	"github.com/mohammad-safakhou/deepscout/internal/llm"
	"github.com/mohammad-safakhou/deepscout/internal/metrics"
	"github.com/mohammad-safakhou/deepscout/internal/research/cache"
	"github.com/mohammad-safakhou/deepscout/internal/state"
	"github.com/mohammad-safakhou/deepscout/tools/web_search"
)

const expandSystemPrompt = `You expand a research subtopic into web search
queries. Given a subtopic, respond with a JSON array of exactly %d query
strings: the first targets the subtopic directly, then one broader framing,
then one narrower. No commentary.`

// rankScore converts a provider rank into a [0,1] relevance score.
// Position 0 scores 1.0 and each position down costs 0.1.
func rankScore(rank int) float64 {
	s := 1.0 - 0.1*float64(rank)
	if s < 0 {
		return 0
	}
	return s
}

// Search runs the current subtopic's queries against the search providers,
// deduplicates against the run's seen URLs, and appends scored results. It
// never fails the run: a subtopic whose queries all come back empty or broken
// is marked failed and the pipeline moves on.
func (p *Pipeline) Search(ctx context.Context, st *state.ResearchState) (state.Update, error) {
	sub := st.CurrentSubtopic()
	if sub == nil {
		return state.Update{}, nil
	}
	effects := p.effects()

	if !effects.AllowNetwork {
		return p.searchLocal(st, sub, p.resultCap()), nil
	}

	queries := p.expandQueries(ctx, sub, effects.ExpansionK)

	type queryOutcome struct {
		hits []web_search.Result
		err  error
	}
	outcomes := make([]queryOutcome, len(queries))
	sem := make(chan struct{}, p.cfg.SearchMaxConcurrent)
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			hits, err := p.runQuery(ctx, q)
			outcomes[i] = queryOutcome{hits: hits, err: err}
		}(i, q)
	}
	wg.Wait()

	var (
		update  state.Update
		results []state.SearchResult
		batch   = make(map[string]struct{})
	)
	for i, out := range outcomes {
		if out.err != nil {
			update.Errors = append(update.Errors, state.RunError{
				Node:       "search",
				SubtopicID: sub.ID,
				Kind:       string(errkind.KindOf(out.err)),
				Message:    fmt.Sprintf("query %q: %v", queries[i], out.err),
				At:         time.Now().UTC(),
			})
			continue
		}
		for _, h := range out.hits {
			canonical, err := helpers.CanonicalURL(h.URL)
			if err != nil {
				continue
			}
			if _, dup := batch[canonical]; dup {
				continue
			}
			if st.HasSeenURL(canonical) {
				continue
			}
			score := rankScore(h.Rank)
			if score < p.cfg.SearchMinScore {
				continue
			}
			batch[canonical] = struct{}{}
			results = append(results, state.SearchResult{
				URL:        canonical,
				Title:      h.Title,
				Snippet:    h.Snippet,
				Score:      score,
				SubtopicID: sub.ID,
			})
			update.SeenURLs = append(update.SeenURLs, canonical)
		}
	}

	if len(results) == 0 {
		p.logger.Printf("subtopic %s: no usable search results, marking failed", sub.ID)
		update.Subtopics = subtopicsWithStatus(st, sub.ID, state.SubtopicFailed)
		return update, nil
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit := p.resultCap(); len(results) > limit {
		results = results[:limit]
		update.SeenURLs = nil
		for _, r := range results {
			update.SeenURLs = append(update.SeenURLs, r.URL)
		}
	}
	update.SearchResults = results
	update.Subtopics = subtopicsWithStatus(st, sub.ID, state.SubtopicScraping)
	return update, nil
}

// searchLocal serves a subtopic from the per-run index when the tier forbids
// network calls.
func (p *Pipeline) searchLocal(st *state.ResearchState, sub *state.Subtopic, max int) state.Update {
	var update state.Update
	if p.index == nil {
		update.Subtopics = subtopicsWithStatus(st, sub.ID, state.SubtopicFailed)
		return update
	}
	hits, err := p.index.Search(sub.Title+" "+sub.Description, max)
	if err != nil || len(hits) == 0 {
		update.Subtopics = subtopicsWithStatus(st, sub.ID, state.SubtopicFailed)
		return update
	}
	for _, h := range hits {
		score := h.Score
		if score > 1 {
			score = 1
		}
		update.SearchResults = append(update.SearchResults, state.SearchResult{
			URL:        h.URL,
			Title:      h.Title,
			Snippet:    h.Fragment,
			Score:      score,
			SubtopicID: sub.ID,
		})
	}
	update.Subtopics = subtopicsWithStatus(st, sub.ID, state.SubtopicScraping)
	return update
}

// expandQueries produces up to k queries for a subtopic: direct, broader,
// narrower. Stored planner queries and the title itself are the fallback when
// expansion fails or is disabled.
func (p *Pipeline) expandQueries(ctx context.Context, sub *state.Subtopic, k int) []string {
	fallback := append([]string{sub.Title}, sub.SearchQueries...)
	if k <= 1 {
		return fallback[:1]
	}

	res, err := p.router.Call(ctx, llm.CallRequest{
		Intent: llm.IntentSummarize,
		Messages: llm.ComposeMessages(
			[]llm.Message{{Role: "system", Content: fmt.Sprintf(expandSystemPrompt, k)}},
			nil,
			llm.Message{Role: "user", Content: sub.Title + ": " + sub.Description},
		),
		Temperature: p.cfg.Temperature,
	})
	if err != nil {
		p.logger.Printf("query expansion failed for %s, using planner queries: %v", sub.ID, err)
		if len(fallback) > k {
			return fallback[:k]
		}
		return fallback
	}

	var expanded []string
	if err := parseModelJSON(res.Text, &expanded); err != nil || len(expanded) == 0 {
		if len(fallback) > k {
			return fallback[:k]
		}
		return fallback
	}
	var out []string
	for _, q := range expanded {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
		if len(out) == k {
			break
		}
	}
	if len(out) == 0 {
		return fallback[:1]
	}
	return out
}

// runQuery executes one query with cache read-through and the provider
// fallback chain. Transient failures retry up to three times per provider;
// the adaptive limiter spaces calls and widens delays when a provider
// degrades.
func (p *Pipeline) runQuery(ctx context.Context, query string) ([]web_search.Result, error) {
	key := cache.Key("search", query)
	if raw, ok, _ := p.cache.Get(ctx, key); ok {
		var hits []web_search.Result
		if err := json.Unmarshal(raw, &hits); err == nil {
			return hits, nil
		}
	}

	var lastErr error
	for _, s := range p.searchers {
		hits, err := p.queryProvider(ctx, s, query)
		if err == nil {
			if raw, mErr := json.Marshal(hits); mErr == nil {
				_ = p.cache.Set(ctx, key, raw, p.cfg.CacheTTL)
			}
			return hits, nil
		}
		lastErr = err
		if errkind.Is(err, errkind.Cancelled) {
			return nil, err
		}
	}
	if lastErr == nil {
		lastErr = errkind.Newf(errkind.ConfigInvalid, "research.search", "no search providers configured")
	}
	return nil, lastErr
}

func (p *Pipeline) queryProvider(ctx context.Context, s web_search.WebSearcher, query string) ([]web_search.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if err := p.limits.Wait(ctx, s.Name()); err != nil {
			return nil, errkind.New(errkind.Cancelled, "research.search", err)
		}
		hits, err := p.discover(ctx, s, query)
		p.limits.Record(s.Name(), err == nil)
		if err == nil {
			metrics.Searches.WithLabelValues(s.Name(), "success").Inc()
			return hits, nil
		}
		metrics.Searches.WithLabelValues(s.Name(), string(errkind.KindOf(err))).Inc()
		lastErr = err
		if !errkind.Retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// discover runs one provider call under the search timeout. The per-call cap
// is the tier's result limit, tightened further by config.
func (p *Pipeline) discover(ctx context.Context, s web_search.WebSearcher, query string) ([]web_search.Result, error) {
	if p.cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.SearchTimeout)
		defer cancel()
	}
	return s.Discover(ctx, query, p.resultCap())
}

func (p *Pipeline) resultCap() int {
	limit := p.effects().MaxResults
	if p.cfg.SearchMaxResults > 0 && p.cfg.SearchMaxResults < limit {
		limit = p.cfg.SearchMaxResults
	}
	return limit
}

// subtopicsWithStatus returns a copy of the plan with one subtopic's status
// replaced, for the scalar-overwrite reducer.
func subtopicsWithStatus(st *state.ResearchState, id string, status state.SubtopicStatus) []state.Subtopic {
	out := make([]state.Subtopic, len(st.Subtopics))
	copy(out, st.Subtopics)
	for i := range out {
		if out[i].ID == id {
			out[i].Status = status
		}
	}
	return out
}
