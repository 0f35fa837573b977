// Package colly adapts a gocolly collector to the fetcher capability. Colly
// buffers the full body before returning, so it trades the streaming early
// exit for the collector's transport and politeness machinery.
package colly

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/unfurld/unfurld/internal/preview"
)

// Options tune the collector.
type Options struct {
	Timeout   time.Duration
	UserAgent string
}

// Fetcher implements preview.Fetcher with a gocolly collector.
type Fetcher struct {
	base   *colly.Collector
	opts   Options
	logger *zap.Logger
}

// New builds a Fetcher.
func New(opts Options, logger *zap.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		base:   colly.NewCollector(colly.Async(false)),
		opts:   opts,
		logger: logger,
	}
}

// Fetch visits the URL on a cloned collector and returns the buffered
// response. Cloning keeps visits independent; colly refuses to revisit a URL
// within one collector.
func (f *Fetcher) Fetch(ctx context.Context, url string) (preview.FetchResponse, error) {
	collector := f.base.Clone()
	if f.opts.UserAgent != "" {
		collector.UserAgent = f.opts.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.opts.Timeout)

	var (
		result   preview.FetchResponse
		got      bool
		fetchErr error
	)

	collector.OnResponse(func(r *colly.Response) {
		result = responseOf(r)
		got = true
	})
	collector.OnError(func(r *colly.Response, err error) {
		// Error statuses still carry a usable code for the caller.
		if r != nil && r.StatusCode != 0 {
			result = responseOf(r)
			got = true
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return preview.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if got {
			return result, nil
		}
		if fetchErr != nil {
			return preview.FetchResponse{}, fmt.Errorf("colly visit failed: %w", fetchErr)
		}
		if err != nil {
			return preview.FetchResponse{}, fmt.Errorf("colly visit failed: %w", err)
		}
		return preview.FetchResponse{}, fmt.Errorf("colly visit of %s yielded no response", url)
	}
}

func responseOf(r *colly.Response) preview.FetchResponse {
	header := http.Header{}
	if r.Headers != nil {
		header = r.Headers.Clone()
	}
	finalURL := ""
	if r.Request != nil && r.Request.URL != nil {
		finalURL = r.Request.URL.String()
	}
	return preview.FetchResponse{
		URL:        finalURL,
		StatusCode: r.StatusCode,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(append([]byte(nil), r.Body...))),
	}
}
