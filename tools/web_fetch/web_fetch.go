// Package web_fetch retrieves page HTML and extracts readable article text.
// The plain HTTP extractor is the default; the chromedp extractor renders
// JavaScript-heavy pages and serves as the fallback when plain extraction
// yields thin content.
package web_fetch

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/deepscout/internal/errkind"
)

const (
	// DefaultTimeout bounds one fetch including rendering.
	DefaultTimeout = 15 * time.Second
	// DefaultMaxChars caps extracted article text before sanitization.
	DefaultMaxChars = 500_000
)

// Result is extracted page content plus fetch metadata.
type Result struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Byline      string     `json:"byline,omitempty"`
	Text        string     `json:"text"`
	RawHTML     string     `json:"-"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Status      int        `json:"status"`
	RenderMS    int        `json:"render_ms"`
	Extractor   string     `json:"extractor"`
}

// WebFetcher fetches one URL and extracts its article content.
type WebFetcher interface {
	Name() string
	Fetch(ctx context.Context, url string) (Result, error)
}

// ExtractArticle runs readability over fetched HTML and fills the shared
// Result fields. Extraction failure is Permanent: the same HTML will not
// parse better on retry.
func ExtractArticle(rawHTML, pageURL string, maxChars int, op string) (Result, error) {
	article, err := readability.FromReader(strings.NewReader(rawHTML), parseURLOrEmpty(pageURL))
	if err != nil {
		return Result{}, errkind.New(errkind.Permanent, op, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}
	return Result{
		URL:         pageURL,
		Title:       strings.TrimSpace(article.Title),
		Byline:      strings.TrimSpace(article.Byline),
		Text:        text,
		RawHTML:     rawHTML,
		PublishedAt: article.PublishedTime,
	}, nil
}

func parseURLOrEmpty(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
