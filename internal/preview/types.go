package preview

import (
	"io"
	"net/http"
	"time"
)

// Metadata is the record extracted from a remote page. Every field is
// optional; population is first-writer-wins while the HTML stream is
// consumed, and the record is immutable once extraction finishes.
type Metadata struct {
	Title         string `json:"title,omitempty"`
	Description   string `json:"description,omitempty"`
	OGTitle       string `json:"ogTitle,omitempty"`
	OGDescription string `json:"ogDescription,omitempty"`
	OGImage       string `json:"ogImage,omitempty"`
	TwitterCard   string `json:"twitterCard,omitempty"`
}

// IsEmpty reports whether no field was populated.
func (m Metadata) IsEmpty() bool {
	return m == Metadata{}
}

// ImageArtifact is a fetched (and possibly transcoded) preview image.
// ContentType is always one of the allow-listed image MIME types.
type ImageArtifact struct {
	ContentType string
	Data        []byte
}

// Entry is the value stored under one cache key: raw bytes plus a
// content-type sidecar so image responses can be reconstructed on read.
type Entry struct {
	Value       []byte
	ContentType string
}

// FetchResponse is the result returned by a Fetcher implementation. Body is
// open and owned by the caller; streaming implementations hand back the
// network reader directly.
type FetchResponse struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Event is published after a resolution completes. Publication is
// fire-and-forget and never gates the response.
type Event struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	CacheHit   bool      `json:"cache_hit"`
	HasImage   bool      `json:"has_image"`
	ResolvedAt time.Time `json:"resolved_at"`
	DurationMs int64     `json:"duration_ms"`
}
