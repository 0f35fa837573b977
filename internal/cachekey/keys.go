// Package cachekey derives deterministic cache keys from normalized URLs.
package cachekey

import (
	"fmt"

	"github.com/unfurld/unfurld/internal/preview"
)

// imageSuffix distinguishes the binary artifact key from the metadata key.
// Both share one URL hash so either artifact can exist, expire, or be
// absent independently while staying trivially correlated.
const imageSuffix = ":image"

// Keys holds the pair of related keys for one logical URL.
type Keys struct {
	Metadata string
	Image    string
}

// Deriver turns normalized URLs into namespaced cache keys.
type Deriver struct {
	namespace string
	hasher    preview.Hasher
}

// New creates a Deriver. The namespace prefixes every key, e.g.
// "open-graph:<sha256-hex>".
func New(namespace string, hasher preview.Hasher) (*Deriver, error) {
	if namespace == "" {
		return nil, fmt.Errorf("cache namespace is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	return &Deriver{namespace: namespace, hasher: hasher}, nil
}

// Derive computes the metadata and image keys for a normalized URL.
func (d *Deriver) Derive(normalizedURL string) (Keys, error) {
	if normalizedURL == "" {
		return Keys{}, fmt.Errorf("normalized url is required")
	}
	digest, err := d.hasher.Hash([]byte(normalizedURL))
	if err != nil {
		return Keys{}, fmt.Errorf("hash url: %w", err)
	}
	base := fmt.Sprintf("%s:%s", d.namespace, digest)
	return Keys{
		Metadata: base,
		Image:    base + imageSuffix,
	}, nil
}
