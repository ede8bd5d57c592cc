package llm

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

// HTTPClient performs one JSON round trip per call and classifies HTTP
// failures into error kinds. Retry policy lives with the caller.
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient builds a client with a per-call timeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// DoJSON posts body as JSON and decodes the response into out. Non-2xx
// statuses come back as kinded errors: 429 is RateLimited, 5xx and 408 are
// Transient, everything else Permanent.
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errkind.New(errkind.Permanent, "llm.http", err)
		}
		bodyReader = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return errkind.New(errkind.Permanent, "llm.http", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errkind.New(errkind.Cancelled, "llm.http", ctx.Err())
		}
		// Timeouts and connection resets are worth retrying.
		return errkind.New(errkind.Transient, "llm.http", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errkind.New(errkind.Permanent, "llm.http", fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return errkind.Newf(errkind.FromHTTPStatus(resp.StatusCode), "llm.http",
		"%s: %s", resp.Status, string(snippet))
}
