// Package chromedp renders pages in headless Chrome before extraction. It is
// the fallback for pages where plain HTTP fetching yields thin content
// because the article body is built by JavaScript.
package chromedp

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/tools/web_fetch"
)

// Fetch renders one URL in a fresh headless browser context.
type Fetch struct {
	Timeout  time.Duration
	MaxChars int
}

// NewFetch applies defaults for zero-valued knobs.
func NewFetch(timeout time.Duration, maxChars int) *Fetch {
	if timeout <= 0 {
		timeout = web_fetch.DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = web_fetch.DefaultMaxChars
	}
	return &Fetch{Timeout: timeout, MaxChars: maxChars}
}

func (f *Fetch) Name() string { return "chromedp" }

// Fetch navigates to the page, waits for the body to be ready, and extracts
// the rendered DOM. Render failures are Transient; headless Chrome dies for
// reasons unrelated to the page often enough that a retry is worthwhile.
func (f *Fetch) Fetch(ctx context.Context, pageURL string) (web_fetch.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	html, err := renderHTML(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return web_fetch.Result{}, errkind.New(errkind.Cancelled, "web_fetch.chromedp", ctx.Err())
		}
		return web_fetch.Result{}, errkind.New(errkind.Transient, "web_fetch.chromedp", err)
	}

	res, err := web_fetch.ExtractArticle(html, pageURL, f.MaxChars, "web_fetch.chromedp")
	if err != nil {
		return web_fetch.Result{}, err
	}
	res.Status = 200
	res.RenderMS = int(time.Since(t0) / time.Millisecond)
	res.Extractor = f.Name()
	return res, nil
}

func renderHTML(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("deepscout/1.0 (+https://github.com/mohammad-safakhou/deepscout)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
