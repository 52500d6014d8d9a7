// Package fetch downloads raster images on a best-effort basis.
package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	u "collectopdf/internal/utils"
)

// Client performs single timed GETs with no retries.
type Client struct {
	HTTP *http.Client
}

// NewClient returns a Client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

// Fetch downloads url and returns its body. Every failure mode (timeout,
// connection error, non-2xx status, empty body) reports absent (nil, false).
// Image unavailability is routine and must never abort sheet generation, so
// the absorb-everything policy lives at exactly this boundary.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		u.Debug("Image fetch skipped", "url", url, "error", err.Error())
		return nil, false
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		u.Debug("Image fetch failed", "url", url, "error", err.Error())
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		u.Debug("Image fetch rejected", "url", url, "status", resp.StatusCode)
		return nil, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil || len(body) == 0 {
		u.Debug("Image fetch empty", "url", url)
		return nil, false
	}
	return body, true
}
