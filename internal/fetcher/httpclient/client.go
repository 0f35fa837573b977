// Package httpclient fetches origin documents over plain net/http. Bodies
// are returned as streams so callers can parse incrementally and stop early.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/unfurld/unfurld/internal/preview"
)

// Options tune the client.
type Options struct {
	// Timeout bounds a single request attempt. Zero means 10 seconds.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after the first on
	// transport-level failure or a 5xx status.
	MaxRetries int
	// BackoffInitial is the delay before the first retry; it doubles per
	// attempt. Zero means 200ms.
	BackoffInitial time.Duration
	// UserAgent is sent with every request.
	UserAgent string
}

// Client implements preview.Fetcher over the standard HTTP stack.
type Client struct {
	http    *http.Client
	opts    Options
	logger  *zap.Logger
	backoff time.Duration
}

// New builds a Client.
func New(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		logger:  logger,
		backoff: opts.BackoffInitial,
	}
}

// Fetch issues a GET and returns the response with its body unread.
// The caller owns the body and must close it. Redirects are followed by the
// underlying client; the returned URL is the one finally served.
func (c *Client) Fetch(ctx context.Context, url string) (preview.FetchResponse, error) {
	var lastErr error
	delay := c.backoff

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return preview.FetchResponse{}, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		resp, err := c.do(ctx, url)
		if err != nil {
			lastErr = err
			c.logger.Debug("fetch attempt failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		if resp.StatusCode >= 500 && attempt < c.opts.MaxRetries {
			resp.Body.Close()
			lastErr = fmt.Errorf("origin returned %d", resp.StatusCode)
			continue
		}
		return preview.FetchResponse{
			URL:        resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       resp.Body,
		}, nil
	}
	return preview.FetchResponse{}, fmt.Errorf("fetching %s: %w", url, lastErr)
}

func (c *Client) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,image/*,*/*;q=0.8")
	return c.http.Do(req)
}
