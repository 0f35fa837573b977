// Package gcs stores image artifacts as objects in a Google Cloud Storage
// bucket. Authentication uses Application Default Credentials.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/unfurld/unfurld/internal/preview"
)

const expiresAtKey = "expires-at"

// Config controls bucket placement.
type Config struct {
	Bucket string
	Prefix string
}

// Store implements preview.Store on top of a GCS bucket. Expiry rides along
// as object metadata and is enforced at read time; a bucket lifecycle rule
// handles physical deletion.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	clock  preview.Clock
	logger *zap.Logger
}

// New initializes the client and verifies the bucket is reachable, failing
// fast on startup misconfiguration.
func New(ctx context.Context, cfg Config, clock preview.Clock, logger *zap.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs.bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("failed to close GCS client after bucket check failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("failed to get GCS bucket %q attributes: %w", cfg.Bucket, err)
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		clock:  clock,
		logger: logger,
	}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Get reads the object for key. Missing objects and objects past their
// recorded deadline are both misses.
func (s *Store) Get(ctx context.Context, key string) (preview.Entry, bool, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectName(key))

	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return preview.Entry{}, false, nil
	}
	if err != nil {
		return preview.Entry{}, false, fmt.Errorf("stat object %s: %w", s.objectName(key), err)
	}
	if raw, ok := attrs.Metadata[expiresAtKey]; ok {
		deadline, err := time.Parse(time.RFC3339, raw)
		if err == nil && !s.clock.Now().Before(deadline) {
			return preview.Entry{}, false, nil
		}
	}

	rc, err := obj.NewReader(ctx)
	if err != nil {
		return preview.Entry{}, false, fmt.Errorf("open object %s: %w", s.objectName(key), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return preview.Entry{}, false, fmt.Errorf("read object %s: %w", s.objectName(key), err)
	}
	return preview.Entry{Value: data, ContentType: attrs.ContentType}, true, nil
}

// Put uploads the entry, recording the deadline in object metadata.
func (s *Store) Put(ctx context.Context, key string, entry preview.Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	wc := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewWriter(ctx)
	wc.ContentType = entry.ContentType
	wc.Metadata = map[string]string{
		expiresAtKey: s.clock.Now().Add(ttl).Format(time.RFC3339),
	}

	if _, err := wc.Write(entry.Value); err != nil {
		if cerr := wc.Close(); cerr != nil {
			s.logger.Warn("failed to close GCS writer after write failure", zap.Error(cerr))
		}
		return fmt.Errorf("write object %s: %w", s.objectName(key), err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finalize object %s: %w", s.objectName(key), err)
	}
	return nil
}
