// Package resolver drives a link-preview resolution end to end: normalize,
// consult the cache, fetch and extract on a miss, capture the preview image,
// and schedule the background writes that make the next request a hit.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/unfurld/unfurld/internal/cache"
	"github.com/unfurld/unfurld/internal/cachekey"
	"github.com/unfurld/unfurld/internal/image"
	"github.com/unfurld/unfurld/internal/preview"
	"github.com/unfurld/unfurld/internal/telemetry"
	"github.com/unfurld/unfurld/internal/urlnorm"
)

// ErrInvalidURL is returned for input that cannot be normalized. Maps to a
// 400; retrying the same input cannot succeed.
var ErrInvalidURL = urlnorm.ErrInvalidURL

// ErrOriginUnavailable is returned when the origin cannot be fetched or
// answers with an error status. Maps to a 404; nothing is cached.
var ErrOriginUnavailable = errors.New("origin unavailable")

// Result is a completed resolution. Image is non-nil only when the caller
// asked for the image artifact and one resolved.
type Result struct {
	URL      string
	Metadata preview.Metadata
	Image    *preview.ImageArtifact
	CacheHit bool
}

type metadataExtractor interface {
	Extract(ctx context.Context, r io.Reader) (preview.Metadata, error)
}

type imagePipeline interface {
	Fetch(ctx context.Context, url string) (preview.ImageArtifact, error)
}

// Resolver wires the resolution pipeline together.
type Resolver struct {
	fetcher   preview.Fetcher
	extractor metadataExtractor
	images    imagePipeline
	cache     *cache.Manager
	keys      *cachekey.Deriver
	publisher preview.Publisher
	runner    preview.TaskRunner
	ids       preview.IDGenerator
	clock     preview.Clock
	topic     string
	logger    *zap.Logger
}

// Options collects the resolver's collaborators.
type Options struct {
	Fetcher   preview.Fetcher
	Extractor metadataExtractor
	Images    imagePipeline
	Cache     *cache.Manager
	Keys      *cachekey.Deriver
	Publisher preview.Publisher
	Runner    preview.TaskRunner
	IDs       preview.IDGenerator
	Clock     preview.Clock
	Topic     string
	Logger    *zap.Logger
}

// New builds a Resolver.
func New(opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		fetcher:   opts.Fetcher,
		extractor: opts.Extractor,
		images:    opts.Images,
		cache:     opts.Cache,
		keys:      opts.Keys,
		publisher: opts.Publisher,
		runner:    opts.Runner,
		ids:       opts.IDs,
		clock:     opts.Clock,
		topic:     opts.Topic,
		logger:    logger,
	}
}

// Resolve runs one resolution. wantImage selects the image artifact as the
// primary result; when no artifact resolves the metadata record is returned
// instead so the caller can fall back to JSON.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, wantImage bool) (Result, error) {
	started := r.clock.Now()

	normalized, err := urlnorm.Normalize(rawURL)
	if err != nil {
		telemetry.ObserveResolution("invalid")
		return Result{}, err
	}
	keys, err := r.keys.Derive(normalized)
	if err != nil {
		return Result{}, fmt.Errorf("deriving cache keys: %w", err)
	}

	if wantImage {
		if art, ok := r.cache.GetImage(ctx, keys.Image); ok {
			telemetry.ObserveResolution("hit")
			r.publishEvent(normalized, true, true, started)
			return Result{URL: normalized, Image: &art, CacheHit: true}, nil
		}
	} else {
		if meta, ok := r.cache.GetMetadata(ctx, keys.Metadata); ok {
			telemetry.ObserveResolution("hit")
			r.publishEvent(normalized, true, meta.OGImage != "", started)
			return Result{URL: normalized, Metadata: meta, CacheHit: true}, nil
		}
	}

	meta, art, err := r.resolveOrigin(ctx, normalized)
	if err != nil {
		return Result{}, err
	}

	if art != nil {
		// The stored record points back at this service so clients never
		// hit the origin image host directly.
		meta.OGImage = proxyImageURL(normalized)
	}

	r.cache.PutMetadataAsync(keys.Metadata, meta)
	if art != nil {
		r.cache.PutImageAsync(keys.Image, *art)
	}
	telemetry.ObserveResolution("miss")
	r.publishEvent(normalized, false, art != nil, started)

	res := Result{URL: normalized, Metadata: meta, CacheHit: false}
	if wantImage {
		res.Image = art
	}
	return res, nil
}

func (r *Resolver) resolveOrigin(ctx context.Context, normalized string) (preview.Metadata, *preview.ImageArtifact, error) {
	fetchStart := r.clock.Now()
	resp, err := r.fetcher.Fetch(ctx, normalized)
	if err != nil {
		telemetry.ObserveResolution("origin_error")
		return preview.Metadata{}, nil, fmt.Errorf("%w: %w", ErrOriginUnavailable, err)
	}
	defer resp.Body.Close()
	telemetry.ObserveOriginFetch(normalized, r.clock.Now().Sub(fetchStart))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		telemetry.ObserveResolution("origin_error")
		return preview.Metadata{}, nil, fmt.Errorf("%w: status %d", ErrOriginUnavailable, resp.StatusCode)
	}

	meta, err := r.extractor.Extract(ctx, resp.Body)
	if err != nil {
		return preview.Metadata{}, nil, fmt.Errorf("extracting metadata: %w", err)
	}

	var art *preview.ImageArtifact
	if meta.OGImage != "" {
		captured, err := r.images.Fetch(ctx, meta.OGImage)
		switch {
		case err == nil:
			art = &captured
		case errors.Is(err, image.ErrTransform):
			return preview.Metadata{}, nil, err
		default:
			// Unreachable, disallowed or oversized images drop silently;
			// the record keeps its origin ogImage URL.
			r.logger.Debug("preview image dropped",
				zap.String("url", normalized),
				zap.Error(err))
		}
	}
	return meta, art, nil
}

// publishEvent schedules the completion event on the background runner so
// publication never delays the response.
func (r *Resolver) publishEvent(normalized string, cacheHit, hasImage bool, started time.Time) {
	if r.publisher == nil || r.topic == "" {
		return
	}
	resolvedAt := r.clock.Now()
	id, err := r.ids.NewID()
	if err != nil {
		r.logger.Warn("generating event id failed", zap.Error(err))
		return
	}
	event := preview.Event{
		ID:         id,
		URL:        normalized,
		CacheHit:   cacheHit,
		HasImage:   hasImage,
		ResolvedAt: resolvedAt,
		DurationMs: resolvedAt.Sub(started).Milliseconds(),
	}
	r.runner.Submit("publish_event", func(ctx context.Context) error {
		_, err := r.publisher.Publish(ctx, r.topic, event)
		return err
	})
}

func proxyImageURL(normalized string) string {
	return "/open-graph?url=" + url.QueryEscape(normalized) + "&image=true"
}
