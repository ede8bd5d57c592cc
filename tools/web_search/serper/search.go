// Package serper implements search over the Serper.dev Google proxy.
// https://serper.dev/
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/deepscout/internal/errkind"
)

const endpoint = "https://google.serper.dev/search"

// Hit is one raw Serper organic result.
type Hit struct {
	Title   string
	URL     string
	Snippet string
}

// Search holds the Serper API key.
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

// Discover runs one query and returns up to k organic hits in provider order.
func (s Search) Discover(ctx context.Context, query string, k int) ([]Hit, error) {
	body, err := json.Marshal(map[string]any{"q": query, "num": k})
	if err != nil {
		return nil, errkind.New(errkind.Permanent, "serper", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errkind.New(errkind.Permanent, "serper", err)
	}
	req.Header.Set("X-API-KEY", s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errkind.New(errkind.Cancelled, "serper", ctx.Err())
		}
		return nil, errkind.New(errkind.Transient, "serper", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errkind.Newf(errkind.FromHTTPStatus(resp.StatusCode), "serper",
			"%s: %s", resp.Status, string(snippet))
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errkind.New(errkind.Permanent, "serper", fmt.Errorf("decode response: %w", err))
	}

	var out []Hit
	for i, r := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, Hit{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}
