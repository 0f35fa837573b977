package preview

import (
	"context"
	"time"
)

// Fetcher retrieves a remote resource. Implementations must honor context
// cancellation; a non-nil response carries an open Body the caller closes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Store is the key-value cache capability: get/put with TTL. Absence is not
// an error. Values past their TTL are logically absent on Get.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, entry Entry, ttl time.Duration) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for cache key derivation.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces event and request IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// TaskRunner accepts fire-and-forget work that must outlive the request
// that scheduled it. Submit never blocks on the work itself.
type TaskRunner interface {
	Submit(name string, fn func(ctx context.Context) error)
}
