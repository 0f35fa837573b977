package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unfurld/unfurld/internal/cache"
	"github.com/unfurld/unfurld/internal/cache/memory"
	"github.com/unfurld/unfurld/internal/cachekey"
	"github.com/unfurld/unfurld/internal/clock/system"
	"github.com/unfurld/unfurld/internal/extract"
	"github.com/unfurld/unfurld/internal/hash/sha256"
	"github.com/unfurld/unfurld/internal/id/uuid"
	"github.com/unfurld/unfurld/internal/image"
	"github.com/unfurld/unfurld/internal/preview"
	pubmemory "github.com/unfurld/unfurld/internal/publisher/memory"
	"github.com/unfurld/unfurld/internal/tasks"
	"github.com/unfurld/unfurld/internal/telemetry"
)

const pageHTML = `<html><head>
	<title>Example Domain</title>
	<meta name="description" content="A page.">
	<meta property="og:title" content="Example">
	<meta property="og:image" content="https://example.com/hero.png">
</head><body></body></html>`

type stubFetcher struct {
	status int
	body   string
	err    error
	calls  atomic.Int32
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (preview.FetchResponse, error) {
	s.calls.Add(1)
	if s.err != nil {
		return preview.FetchResponse{}, s.err
	}
	return preview.FetchResponse{
		URL:        url,
		StatusCode: s.status,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       io.NopCloser(strings.NewReader(s.body)),
	}, nil
}

type stubImages struct {
	art   preview.ImageArtifact
	err   error
	calls atomic.Int32
}

func (s *stubImages) Fetch(context.Context, string) (preview.ImageArtifact, error) {
	s.calls.Add(1)
	if s.err != nil {
		return preview.ImageArtifact{}, s.err
	}
	return s.art, nil
}

type fixture struct {
	resolver *Resolver
	fetcher  *stubFetcher
	images   *stubImages
	cache    *cache.Manager
	runner   *tasks.Runner
	pub      *pubmemory.Publisher
}

func newFixture(t *testing.T, fetcher *stubFetcher, images *stubImages) fixture {
	t.Helper()
	telemetry.Init()

	store := memory.New(system.Clock{})
	runner := tasks.NewRunner(time.Second, nil)
	t.Cleanup(runner.Close)

	mgr := cache.New(store, store, runner, time.Hour, time.Hour, nil)
	keys, err := cachekey.New("open-graph", sha256.New())
	if err != nil {
		t.Fatalf("cachekey.New() error = %v", err)
	}
	pub := pubmemory.New()

	r := New(Options{
		Fetcher:   fetcher,
		Extractor: extract.New(extract.NewStreamEngine(), 1<<20, nil),
		Images:    images,
		Cache:     mgr,
		Keys:      keys,
		Publisher: pub,
		Runner:    runner,
		IDs:       uuid.Generator{},
		Clock:     system.Clock{},
		Topic:     "preview-events",
	})
	return fixture{resolver: r, fetcher: fetcher, images: images, cache: mgr, runner: runner, pub: pub}
}

func TestResolveFullScenario(t *testing.T) {
	fetcher := &stubFetcher{status: 200, body: pageHTML}
	images := &stubImages{art: preview.ImageArtifact{ContentType: "image/png", Data: []byte{0x89}}}
	f := newFixture(t, fetcher, images)

	res, err := f.resolver.Resolve(context.Background(), "https://Example.com/page?b=2&a=1", false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.CacheHit {
		t.Fatal("CacheHit = true on first resolution")
	}
	if res.Metadata.Title != "Example Domain" || res.Metadata.OGTitle != "Example" {
		t.Fatalf("Metadata = %+v", res.Metadata)
	}
	wantProxy := "/open-graph?url=" + "https%3A%2F%2Fexample.com%2Fpage%3Fa%3D1%26b%3D2" + "&image=true"
	if res.Metadata.OGImage != wantProxy {
		t.Fatalf("OGImage = %q, want proxy URL %q", res.Metadata.OGImage, wantProxy)
	}

	f.runner.Wait()

	// Second resolution of an equivalent spelling is served from cache.
	res2, err := f.resolver.Resolve(context.Background(), "https://example.com:443/page?a=1&b=2", false)
	if err != nil {
		t.Fatalf("Resolve() second error = %v", err)
	}
	if !res2.CacheHit {
		t.Fatal("CacheHit = false on second resolution")
	}
	if res2.Metadata != res.Metadata {
		t.Fatalf("cached metadata %+v differs from first %+v", res2.Metadata, res.Metadata)
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("origin fetches = %d, want 1", got)
	}

	f.runner.Wait()
	if msgs := f.pub.Messages(); len(msgs) != 2 {
		t.Fatalf("published events = %d, want 2", len(msgs))
	}
}

func TestResolveImageArtifact(t *testing.T) {
	fetcher := &stubFetcher{status: 200, body: pageHTML}
	images := &stubImages{art: preview.ImageArtifact{ContentType: "image/png", Data: []byte{0x89, 'P'}}}
	f := newFixture(t, fetcher, images)

	res, err := f.resolver.Resolve(context.Background(), "https://example.com/page", true)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Image == nil {
		t.Fatal("Image = nil, want artifact")
	}
	if res.Image.ContentType != "image/png" {
		t.Fatalf("ContentType = %q", res.Image.ContentType)
	}

	f.runner.Wait()

	// Second image request hits the image cache without touching the origin.
	res2, err := f.resolver.Resolve(context.Background(), "https://example.com/page", true)
	if err != nil {
		t.Fatalf("Resolve() second error = %v", err)
	}
	if !res2.CacheHit || res2.Image == nil {
		t.Fatalf("second resolution = %+v, want image cache hit", res2)
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("origin fetches = %d, want 1", got)
	}
	if got := images.calls.Load(); got != 1 {
		t.Fatalf("image fetches = %d, want 1", got)
	}
}

func TestResolveInvalidURL(t *testing.T) {
	f := newFixture(t, &stubFetcher{status: 200, body: pageHTML}, &stubImages{})

	_, err := f.resolver.Resolve(context.Background(), "not a url", false)
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("Resolve() error = %v, want ErrInvalidURL", err)
	}
	if got := f.fetcher.calls.Load(); got != 0 {
		t.Fatalf("origin fetches = %d, want 0 for invalid input", got)
	}
}

func TestResolveOriginErrorCachesNothing(t *testing.T) {
	fetcher := &stubFetcher{status: 500, body: "boom"}
	f := newFixture(t, fetcher, &stubImages{})

	_, err := f.resolver.Resolve(context.Background(), "https://example.com/down", false)
	if !errors.Is(err, ErrOriginUnavailable) {
		t.Fatalf("Resolve() error = %v, want ErrOriginUnavailable", err)
	}

	f.runner.Wait()

	// The failure left no record behind; the next attempt goes to origin.
	_, err = f.resolver.Resolve(context.Background(), "https://example.com/down", false)
	if !errors.Is(err, ErrOriginUnavailable) {
		t.Fatalf("Resolve() second error = %v", err)
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Fatalf("origin fetches = %d, want 2", got)
	}
}

func TestResolveUnreachableOrigin(t *testing.T) {
	fetcher := &stubFetcher{err: fmt.Errorf("connection refused")}
	f := newFixture(t, fetcher, &stubImages{})

	_, err := f.resolver.Resolve(context.Background(), "https://example.com/gone", false)
	if !errors.Is(err, ErrOriginUnavailable) {
		t.Fatalf("Resolve() error = %v, want ErrOriginUnavailable", err)
	}
}

func TestResolveDisallowedImageKeepsOriginURL(t *testing.T) {
	fetcher := &stubFetcher{status: 200, body: pageHTML}
	images := &stubImages{err: fmt.Errorf("%w: text/html", image.ErrUnsupportedMediaType)}
	f := newFixture(t, fetcher, images)

	res, err := f.resolver.Resolve(context.Background(), "https://example.com/page", false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Metadata.OGImage != "https://example.com/hero.png" {
		t.Fatalf("OGImage = %q, want origin URL kept", res.Metadata.OGImage)
	}
	if res.Image != nil {
		t.Fatal("Image != nil for disallowed artifact")
	}
}

func TestResolveTransformFailurePropagates(t *testing.T) {
	fetcher := &stubFetcher{status: 200, body: pageHTML}
	images := &stubImages{err: fmt.Errorf("%w: encoder exploded", image.ErrTransform)}
	f := newFixture(t, fetcher, images)

	_, err := f.resolver.Resolve(context.Background(), "https://example.com/page", false)
	if !errors.Is(err, image.ErrTransform) {
		t.Fatalf("Resolve() error = %v, want ErrTransform", err)
	}
}

func TestResolveImageRequestFallsBackToMetadata(t *testing.T) {
	page := `<html><head><title>No Image Here</title></head></html>`
	fetcher := &stubFetcher{status: 200, body: page}
	images := &stubImages{}
	f := newFixture(t, fetcher, images)

	res, err := f.resolver.Resolve(context.Background(), "https://example.com/plain", true)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Image != nil {
		t.Fatal("Image != nil for page without og:image")
	}
	if res.Metadata.Title != "No Image Here" {
		t.Fatalf("Metadata = %+v", res.Metadata)
	}
	if got := images.calls.Load(); got != 0 {
		t.Fatalf("image fetches = %d, want 0", got)
	}
}
