// Package cache provides the read-through manager sitting between the
// resolver and the configured store backends. Metadata and image artifacts
// may live in different stores with independent TTLs.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unfurld/unfurld/internal/preview"
	"github.com/unfurld/unfurld/internal/telemetry"
)

const (
	kindMetadata = "metadata"
	kindImage    = "image"
)

// Manager wraps the store backends with serialization, TTL policy and the
// degrade-to-miss read semantics: a failing store read is reported as a miss
// so resolution can proceed against the origin.
type Manager struct {
	metadata preview.Store
	images   preview.Store
	runner   preview.TaskRunner

	metadataTTL time.Duration
	imageTTL    time.Duration
	logger      *zap.Logger
}

// New builds a Manager. images may equal metadata when both artifact kinds
// share one backend.
func New(metadata, images preview.Store, runner preview.TaskRunner, metadataTTL, imageTTL time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		metadata:    metadata,
		images:      images,
		runner:      runner,
		metadataTTL: metadataTTL,
		imageTTL:    imageTTL,
		logger:      logger,
	}
}

// GetMetadata looks up a cached metadata record. Store errors degrade to a
// miss.
func (m *Manager) GetMetadata(ctx context.Context, key string) (preview.Metadata, bool) {
	entry, ok, err := m.metadata.Get(ctx, key)
	if err != nil {
		telemetry.ObserveCacheOp(kindMetadata, "get", "error")
		m.logger.Warn("metadata cache read failed", zap.String("key", key), zap.Error(err))
		return preview.Metadata{}, false
	}
	if !ok {
		telemetry.ObserveCacheOp(kindMetadata, "get", "miss")
		return preview.Metadata{}, false
	}

	var meta preview.Metadata
	if err := json.Unmarshal(entry.Value, &meta); err != nil {
		telemetry.ObserveCacheOp(kindMetadata, "get", "error")
		m.logger.Warn("metadata cache entry corrupt", zap.String("key", key), zap.Error(err))
		return preview.Metadata{}, false
	}
	telemetry.ObserveCacheOp(kindMetadata, "get", "hit")
	return meta, true
}

// PutMetadata writes a metadata record synchronously.
func (m *Manager) PutMetadata(ctx context.Context, key string, meta preview.Metadata) error {
	value, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	entry := preview.Entry{Value: value, ContentType: "application/json"}
	if err := m.metadata.Put(ctx, key, entry, m.metadataTTL); err != nil {
		telemetry.ObserveCacheOp(kindMetadata, "put", "error")
		return fmt.Errorf("storing metadata: %w", err)
	}
	telemetry.ObserveCacheOp(kindMetadata, "put", "ok")
	return nil
}

// PutMetadataAsync schedules the write on the background runner so it
// completes even if the originating request is gone.
func (m *Manager) PutMetadataAsync(key string, meta preview.Metadata) {
	m.runner.Submit("cache_put_metadata", func(ctx context.Context) error {
		return m.PutMetadata(ctx, key, meta)
	})
}

// GetImage looks up a cached image artifact. Store errors degrade to a miss.
func (m *Manager) GetImage(ctx context.Context, key string) (preview.ImageArtifact, bool) {
	entry, ok, err := m.images.Get(ctx, key)
	if err != nil {
		telemetry.ObserveCacheOp(kindImage, "get", "error")
		m.logger.Warn("image cache read failed", zap.String("key", key), zap.Error(err))
		return preview.ImageArtifact{}, false
	}
	if !ok {
		telemetry.ObserveCacheOp(kindImage, "get", "miss")
		return preview.ImageArtifact{}, false
	}
	telemetry.ObserveCacheOp(kindImage, "get", "hit")
	return preview.ImageArtifact{ContentType: entry.ContentType, Data: entry.Value}, true
}

// PutImage writes an image artifact synchronously.
func (m *Manager) PutImage(ctx context.Context, key string, art preview.ImageArtifact) error {
	entry := preview.Entry{Value: art.Data, ContentType: art.ContentType}
	if err := m.images.Put(ctx, key, entry, m.imageTTL); err != nil {
		telemetry.ObserveCacheOp(kindImage, "put", "error")
		return fmt.Errorf("storing image: %w", err)
	}
	telemetry.ObserveCacheOp(kindImage, "put", "ok")
	return nil
}

// PutImageAsync schedules the image write on the background runner.
func (m *Manager) PutImageAsync(key string, art preview.ImageArtifact) {
	m.runner.Submit("cache_put_image", func(ctx context.Context) error {
		return m.PutImage(ctx, key, art)
	})
}
