// Package brave implements search over the Brave Web Search API.
// https://api.search.brave.com/app/documentation/web-search
package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mohammad-safakhou/deepscout/internal/errkind"
)

const endpoint = "https://api.search.brave.com/res/v1/web/search"

// Hit is one raw Brave result.
type Hit struct {
	Title   string
	URL     string
	Snippet string
}

// Search holds the Brave subscription token.
type Search struct {
	APIKey string
	// Client defaults to a 30s-timeout client when nil.
	Client *http.Client
}

func (s Search) httpClient() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Discover runs one query and returns up to k hits in provider order.
func (s Search) Discover(ctx context.Context, query string, k int) ([]Hit, error) {
	u := fmt.Sprintf("%s?q=%s&count=%d", endpoint, url.QueryEscape(query), k)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errkind.New(errkind.Permanent, "brave", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.APIKey)

	resp, err := s.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errkind.New(errkind.Cancelled, "brave", ctx.Err())
		}
		return nil, errkind.New(errkind.Transient, "brave", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errkind.Newf(errkind.FromHTTPStatus(resp.StatusCode), "brave",
			"%s: %s", resp.Status, string(snippet))
	}

	var raw struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errkind.New(errkind.Permanent, "brave", fmt.Errorf("decode response: %w", err))
	}

	var out []Hit
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, Hit{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return out, nil
}
