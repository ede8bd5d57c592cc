// Package web_search abstracts web search providers behind a single Discover
// call. Provider failures come back kinded so the caller can distinguish a
// rate limit from a dead API key.
package web_search

import (
	"context"

	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/tools/web_search/brave"
	"github.com/mohammad-safakhou/deepscout/tools/web_search/serper"
)

// Result is one raw search hit before scoring and deduplication.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
	// Rank is the provider's 0-based position, kept for rank-decay scoring.
	Rank int `json:"rank"`
}

// WebSearcher runs one query against a provider and returns up to k hits.
type WebSearcher interface {
	Name() string
	Discover(ctx context.Context, query string, k int) ([]Result, error)
}

// Provider selects the search backend.
type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

// NewWebSearcher builds a searcher for the named provider.
func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return &serperSearcher{inner: serper.Search{APIKey: apiKey}}, nil
	case BraveProvider:
		return &braveSearcher{inner: brave.Search{APIKey: apiKey}}, nil
	default:
		return nil, errkind.Newf(errkind.ConfigInvalid, "web_search", "unsupported search provider %q", provider)
	}
}

type serperSearcher struct{ inner serper.Search }

func (s *serperSearcher) Name() string { return string(SerperProvider) }

func (s *serperSearcher) Discover(ctx context.Context, query string, k int) ([]Result, error) {
	hits, err := s.inner.Discover(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for i, h := range hits {
		out = append(out, Result{Title: h.Title, URL: h.URL, Snippet: h.Snippet, Rank: i})
	}
	return out, nil
}

type braveSearcher struct{ inner brave.Search }

func (s *braveSearcher) Name() string { return string(BraveProvider) }

func (s *braveSearcher) Discover(ctx context.Context, query string, k int) ([]Result, error) {
	hits, err := s.inner.Discover(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for i, h := range hits {
		out = append(out, Result{Title: h.Title, URL: h.URL, Snippet: h.Snippet, Rank: i})
	}
	return out, nil
}
