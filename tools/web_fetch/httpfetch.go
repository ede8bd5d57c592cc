package web_fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/deepscout/internal/errkind"
)

const userAgent = "deepscout/1.0 (+https://github.com/mohammad-safakhou/deepscout)"

// HTTPFetcher is the plain-HTTP extractor. It downloads the page body with a
// regular GET and runs readability over it, no JavaScript execution.
type HTTPFetcher struct {
	Timeout  time.Duration
	MaxChars int
	// Client defaults to a client with Timeout when nil.
	Client *http.Client
}

// NewHTTPFetcher applies defaults for zero-valued knobs.
func NewHTTPFetcher(timeout time.Duration, maxChars int) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &HTTPFetcher{Timeout: timeout, MaxChars: maxChars}
}

func (f *HTTPFetcher) Name() string { return "http" }

func (f *HTTPFetcher) httpClient() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return &http.Client{Timeout: f.Timeout}
}

// Fetch downloads and extracts one page. Non-2xx statuses come back kinded
// so the scrape stage can tell a 404 from a 503.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (Result, error) {
	t0 := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Result{}, errkind.New(errkind.Permanent, "web_fetch.http", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, errkind.New(errkind.Cancelled, "web_fetch.http", ctx.Err())
		}
		return Result{}, errkind.New(errkind.Transient, "web_fetch.http", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Result{}, errkind.Newf(errkind.FromHTTPStatus(resp.StatusCode), "web_fetch.http",
			"GET %s: %s", pageURL, resp.Status)
	}

	// Page bodies beyond a few MB are never articles worth keeping whole.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Result{}, errkind.New(errkind.Transient, "web_fetch.http", err)
	}

	res, err := ExtractArticle(string(body), pageURL, f.MaxChars, "web_fetch.http")
	if err != nil {
		return Result{}, err
	}
	res.Status = resp.StatusCode
	res.RenderMS = int(time.Since(t0) / time.Millisecond)
	res.Extractor = f.Name()
	return res, nil
}
