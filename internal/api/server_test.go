package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/unfurld/unfurld/internal/cache"
	"github.com/unfurld/unfurld/internal/cache/memory"
	"github.com/unfurld/unfurld/internal/cachekey"
	"github.com/unfurld/unfurld/internal/clock/system"
	"github.com/unfurld/unfurld/internal/config"
	"github.com/unfurld/unfurld/internal/edge"
	"github.com/unfurld/unfurld/internal/extract"
	"github.com/unfurld/unfurld/internal/hash/sha256"
	"github.com/unfurld/unfurld/internal/id/uuid"
	"github.com/unfurld/unfurld/internal/preview"
	"github.com/unfurld/unfurld/internal/resolver"
	"github.com/unfurld/unfurld/internal/tasks"
	"github.com/unfurld/unfurld/internal/telemetry"
)

const pageHTML = `<html><head>
	<title>Example Domain</title>
	<meta property="og:title" content="Example">
	<meta property="og:image" content="https://example.com/hero.png">
</head><body></body></html>`

type stubFetcher struct {
	status int
	body   string
}

func (s stubFetcher) Fetch(_ context.Context, url string) (preview.FetchResponse, error) {
	return preview.FetchResponse{
		URL:        url,
		StatusCode: s.status,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       io.NopCloser(strings.NewReader(s.body)),
	}, nil
}

type stubImages struct {
	art preview.ImageArtifact
	err error
}

func (s stubImages) Fetch(context.Context, string) (preview.ImageArtifact, error) {
	if s.err != nil {
		return preview.ImageArtifact{}, s.err
	}
	return s.art, nil
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080, TimeoutSeconds: 5},
		Cache: config.CacheConfig{
			Namespace:            "open-graph",
			BrowserMaxAge:        600,
			StaleWhileRevalidate: 600,
		},
	}
}

func newTestServer(t *testing.T, fetcher preview.Fetcher, images stubImages, cfg config.Config) *Server {
	t.Helper()
	telemetry.Init()

	store := memory.New(system.Clock{})
	runner := tasks.NewRunner(time.Second, nil)
	t.Cleanup(runner.Close)

	keys, err := cachekey.New(cfg.Cache.Namespace, sha256.New())
	if err != nil {
		t.Fatalf("cachekey.New() error = %v", err)
	}
	res := resolver.New(resolver.Options{
		Fetcher:   fetcher,
		Extractor: extract.New(extract.NewStreamEngine(), 1<<20, nil),
		Images:    images,
		Cache:     cache.New(store, store, runner, time.Hour, time.Hour, nil),
		Keys:      keys,
		Runner:    runner,
		IDs:       uuid.Generator{},
		Clock:     system.Clock{},
	})
	return NewServer(res, images, nil, cfg, nil)
}

func TestOpenGraphMissingURL(t *testing.T) {
	s := newTestServer(t, stubFetcher{status: 200, body: pageHTML}, stubImages{}, testConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/open-graph", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOpenGraphInvalidURL(t *testing.T) {
	s := newTestServer(t, stubFetcher{status: 200, body: pageHTML}, stubImages{}, testConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/open-graph?url=ftp%3A%2F%2Fexample.com", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOpenGraphSuccessJSON(t *testing.T) {
	images := stubImages{art: preview.ImageArtifact{ContentType: "image/png", Data: []byte{0x89}}}
	s := newTestServer(t, stubFetcher{status: 200, body: pageHTML}, images, testConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/open-graph?url=https%3A%2F%2Fexample.com%2Fpage", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=600, stale-while-revalidate=600" {
		t.Fatalf("Cache-Control = %q", cc)
	}
	var meta preview.Metadata
	if err := json.Unmarshal(rec.Body.Bytes(), &meta); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if meta.Title != "Example Domain" || meta.OGTitle != "Example" {
		t.Fatalf("metadata = %+v", meta)
	}
	if !strings.HasPrefix(meta.OGImage, "/open-graph?url=") || !strings.HasSuffix(meta.OGImage, "&image=true") {
		t.Fatalf("ogImage = %q, want proxy URL", meta.OGImage)
	}
}

func TestOpenGraphImageBytes(t *testing.T) {
	images := stubImages{art: preview.ImageArtifact{ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}}
	s := newTestServer(t, stubFetcher{status: 200, body: pageHTML}, images, testConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/open-graph?url=https%3A%2F%2Fexample.com%2Fpage&image=true", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Content-Type = %q, want image/png", ct)
	}
	if rec.Body.Len() != 4 {
		t.Fatalf("body length = %d, want raw image bytes", rec.Body.Len())
	}
}

func TestOpenGraphOriginFailure(t *testing.T) {
	s := newTestServer(t, stubFetcher{status: 500, body: "boom"}, stubImages{}, testConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/open-graph?url=https%3A%2F%2Fexample.com%2Fdown", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestImageProxySuccess(t *testing.T) {
	images := stubImages{art: preview.ImageArtifact{ContentType: "image/webp", Data: []byte{1, 2, 3}}}
	s := newTestServer(t, stubFetcher{status: 200, body: pageHTML}, images, testConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/open-graph/image?url=https%3A%2F%2Fexample.com%2Fhero.png", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/webp" {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestImageProxyMissingURL(t *testing.T) {
	s := newTestServer(t, stubFetcher{status: 200, body: pageHTML}, stubImages{}, testConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/open-graph/image", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, stubFetcher{status: 200, body: pageHTML}, stubImages{}, testConfig())

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, stubFetcher{status: 200, body: pageHTML}, stubImages{}, testConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}

func TestAPIKeyGuardsPreviewRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "sekrit"}
	s := newTestServer(t, stubFetcher{status: 200, body: pageHTML}, stubImages{}, cfg)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/open-graph?url=https%3A%2F%2Fexample.com", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status without key = %d, want 403", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/open-graph?url=https%3A%2F%2Fexample.com", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with key = %d, want 200", rec.Code)
	}

	// Probes stay open.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
}

func TestEdgeCacheShortCircuitsSecondRequest(t *testing.T) {
	cfg := testConfig()
	telemetry.Init()

	store := memory.New(system.Clock{})
	runner := tasks.NewRunner(time.Second, nil)
	t.Cleanup(runner.Close)
	keys, err := cachekey.New(cfg.Cache.Namespace, sha256.New())
	if err != nil {
		t.Fatalf("cachekey.New() error = %v", err)
	}
	res := resolver.New(resolver.Options{
		Fetcher:   stubFetcher{status: 200, body: pageHTML},
		Extractor: extract.New(extract.NewStreamEngine(), 1<<20, nil),
		Images:    stubImages{art: preview.ImageArtifact{ContentType: "image/png", Data: []byte{1}}},
		Cache:     cache.New(store, store, runner, time.Hour, time.Hour, nil),
		Keys:      keys,
		Runner:    runner,
		IDs:       uuid.Generator{},
		Clock:     system.Clock{},
	})
	edgeCache := edge.New(system.Clock{}, time.Minute, 16)
	s := NewServer(res, stubImages{}, edgeCache, cfg, nil)

	target := "/open-graph?url=https%3A%2F%2Fexample.com%2Fpage"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("second status = %d", rec.Code)
	}
	if rec.Header().Get("X-Edge-Cache") != "hit" {
		t.Fatal("expected second response from the edge cache")
	}
}
