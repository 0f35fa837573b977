// Package image fetches, gates and optionally transcodes preview images.
package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"

	"go.uber.org/zap"

	"github.com/unfurld/unfurld/internal/preview"
)

// ErrUnsupportedMediaType marks an origin response whose content type is not
// an allow-listed image format. Callers drop the image silently.
var ErrUnsupportedMediaType = errors.New("unsupported media type")

// ErrTooLarge marks an image body exceeding the configured ceiling.
var ErrTooLarge = errors.New("image exceeds size limit")

// ErrTransform marks a genuine transcode failure on an accepted image.
// Unlike the gating errors above it is not dropped silently.
var ErrTransform = errors.New("image transform failed")

// allowedTypes is the closed set of image formats the service will serve.
var allowedTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/gif":  {},
	"image/webp": {},
	"image/avif": {},
}

// Pipeline retrieves an image from its origin, gates it by media type and
// size, and runs it through the configured transformer.
type Pipeline struct {
	fetcher     preview.Fetcher
	transformer Transformer
	maxBytes    int64
	logger      *zap.Logger
}

// New builds a Pipeline. maxBytes <= 0 means 10 MiB.
func New(fetcher preview.Fetcher, transformer Transformer, maxBytes int64, logger *zap.Logger) *Pipeline {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	if transformer == nil {
		transformer = NopTransformer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:     fetcher,
		transformer: transformer,
		maxBytes:    maxBytes,
		logger:      logger,
	}
}

// Fetch retrieves the image at url and returns the transformed artifact.
func (p *Pipeline) Fetch(ctx context.Context, url string) (preview.ImageArtifact, error) {
	resp, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return preview.ImageArtifact{}, fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return preview.ImageArtifact{}, fmt.Errorf("image origin returned %d", resp.StatusCode)
	}

	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return preview.ImageArtifact{}, fmt.Errorf("%w: unparseable content type", ErrUnsupportedMediaType)
	}
	if _, ok := allowedTypes[contentType]; !ok {
		return preview.ImageArtifact{}, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return preview.ImageArtifact{}, fmt.Errorf("reading image body: %w", err)
	}
	if int64(len(data)) > p.maxBytes {
		return preview.ImageArtifact{}, ErrTooLarge
	}

	art := preview.ImageArtifact{ContentType: contentType, Data: data}
	transformed, err := p.transformer.Transform(art)
	if err != nil {
		return preview.ImageArtifact{}, fmt.Errorf("%w: %w", ErrTransform, err)
	}
	return transformed, nil
}
