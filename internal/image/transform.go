package image

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"

	"github.com/unfurld/unfurld/internal/preview"
	"github.com/unfurld/unfurld/internal/telemetry"
)

// Transformer rewrites an image artifact into its stored form.
type Transformer interface {
	Transform(art preview.ImageArtifact) (preview.ImageArtifact, error)
}

// NopTransformer passes the artifact through untouched.
type NopTransformer struct{}

// Transform returns art unchanged.
func (NopTransformer) Transform(art preview.ImageArtifact) (preview.ImageArtifact, error) {
	return art, nil
}

// WebPTransformer downscales to a fixed height and re-encodes as WebP.
// Formats without a registered decoder (AVIF, animated GIF payloads that
// only decode their first frame usefully) pass through unchanged.
type WebPTransformer struct {
	// Height is the target pixel height; width scales proportionally.
	// Images already at or below Height keep their dimensions.
	Height uint
	// Quality is the WebP encoder quality, 1..100.
	Quality float32
}

// NewWebPTransformer builds a transformer with sane bounds applied.
func NewWebPTransformer(height uint, quality float32) *WebPTransformer {
	if height == 0 {
		height = 600
	}
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &WebPTransformer{Height: height, Quality: quality}
}

// Transform decodes, scales and re-encodes the artifact.
func (t *WebPTransformer) Transform(art preview.ImageArtifact) (preview.ImageArtifact, error) {
	src, _, err := image.Decode(bytes.NewReader(art.Data))
	if err != nil {
		// No decoder for this format; serve the original bytes.
		telemetry.ObserveImageTransform("passthrough")
		return art, nil
	}

	if h := uint(src.Bounds().Dy()); h > t.Height {
		src = resize.Resize(0, t.Height, src, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, src, &webp.Options{Quality: t.Quality}); err != nil {
		telemetry.ObserveImageTransform("error")
		return preview.ImageArtifact{}, fmt.Errorf("encoding webp: %w", err)
	}
	telemetry.ObserveImageTransform("ok")
	return preview.ImageArtifact{ContentType: "image/webp", Data: buf.Bytes()}, nil
}
