// Package extract pulls a bounded set of metadata fields out of untrusted
// HTML without materializing the whole document. Parsing is event-driven:
// an Engine walks the byte stream and fires title-text and meta-element
// callbacks, so the extractor works identically over the incremental
// tokenizer and the tree-building engine.
package extract

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/unfurld/unfurld/internal/preview"
)

// Handlers receive tag events from an Engine.
type Handlers struct {
	// OnTitleText fires for text inside a <title> element in the document
	// head. The text arrives entity-decoded.
	OnTitleText func(text string)
	// OnMeta fires for each <meta> element with its lower-cased attribute
	// keys and entity-decoded values.
	OnMeta func(attrs map[string]string)
	// Done reports whether the subscriber needs no further events; engines
	// may stop consuming input once it returns true.
	Done func() bool
}

// Engine is the parsing backend capability: anything that can walk an HTML
// stream and emit title/meta events can serve the extractor.
type Engine interface {
	Parse(ctx context.Context, r io.Reader, h Handlers) error
}

// fieldMapping maps case-folded meta identifiers to record fields.
// og:image:url is the canonical secondary alias for ogImage.
var fieldMapping = map[string]func(*preview.Metadata) *string{
	"description":    func(m *preview.Metadata) *string { return &m.Description },
	"og:title":       func(m *preview.Metadata) *string { return &m.OGTitle },
	"og:description": func(m *preview.Metadata) *string { return &m.OGDescription },
	"og:image":       func(m *preview.Metadata) *string { return &m.OGImage },
	"og:image:url":   func(m *preview.Metadata) *string { return &m.OGImage },
	"twitter:card":   func(m *preview.Metadata) *string { return &m.TwitterCard },
}

// Extractor populates a Metadata record from an HTML stream.
type Extractor struct {
	engine   Engine
	maxBytes int64
	logger   *zap.Logger
}

// New constructs an Extractor. maxBytes bounds how much of an adversarial
// document is ever scanned; zero or negative falls back to 1 MiB.
func New(engine Engine, maxBytes int64, logger *zap.Logger) *Extractor {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{engine: engine, maxBytes: maxBytes, logger: logger}
}

// Extract consumes the stream and returns whatever fields were collected.
// Parser-level failures are swallowed: a malformed tail never discards the
// fields already found. Only context cancellation is reported as an error.
func (e *Extractor) Extract(ctx context.Context, r io.Reader) (preview.Metadata, error) {
	b := &builder{}
	h := Handlers{
		OnTitleText: b.setTitle,
		OnMeta:      b.setMeta,
		Done:        b.done,
	}

	err := e.engine.Parse(ctx, io.LimitReader(r, e.maxBytes), h)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return b.meta, err
		}
		e.logger.Debug("html parse stopped early", zap.Error(err))
	}
	return b.meta, nil
}

// builder enforces first-writer-wins across all fields.
type builder struct {
	meta preview.Metadata
}

func (b *builder) setTitle(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || b.meta.Title != "" {
		return
	}
	b.meta.Title = trimmed
}

func (b *builder) setMeta(attrs map[string]string) {
	content := strings.TrimSpace(attrs["content"])
	if content == "" {
		return
	}
	// name identifies the tag; property is the fallback identifier.
	key := attrs["name"]
	if key == "" {
		key = attrs["property"]
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}
	field, ok := fieldMapping[key]
	if !ok {
		return
	}
	target := field(&b.meta)
	if *target != "" {
		return
	}
	*target = content
}

func (b *builder) done() bool {
	m := b.meta
	return m.Title != "" &&
		m.Description != "" &&
		m.OGTitle != "" &&
		m.OGDescription != "" &&
		m.OGImage != "" &&
		m.TwitterCard != ""
}
