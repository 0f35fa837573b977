// Package edge is a short-lived in-process response cache sitting in front
// of the API handlers. It absorbs bursts of identical requests without
// touching the resolver or the durable stores.
package edge

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/unfurld/unfurld/internal/preview"
)

type cached struct {
	status    int
	header    http.Header
	body      []byte
	expiresAt time.Time
}

// Cache stores whole responses keyed by method and request URI. Capacity is
// bounded; inserting past the limit evicts expired entries first and then
// an arbitrary victim.
type Cache struct {
	clock      preview.Clock
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]cached
}

// New builds a Cache. maxEntries <= 0 means 1024.
func New(clock preview.Clock, ttl time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Cache{
		clock:      clock,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cached),
	}
}

func cacheKey(r *http.Request) string {
	return r.Method + " " + r.URL.RequestURI()
}

func (c *Cache) get(key string) (cached, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return cached{}, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return cached{}, false
	}
	return e, true
}

func (c *Cache) put(key string, e cached) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		now := c.clock.Now()
		for k, v := range c.entries {
			if !now.Before(v.expiresAt) {
				delete(c.entries, k)
			}
		}
		for k := range c.entries {
			if len(c.entries) < c.maxEntries {
				break
			}
			delete(c.entries, k)
		}
	}
	e.expiresAt = c.clock.Now().Add(c.ttl)
	c.entries[key] = e
}

// Len reports the number of stored responses; used by tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Middleware serves eligible GET responses from the cache and records fresh
// 200 responses on the way out.
func (c *Cache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		key := cacheKey(r)
		if e, ok := c.get(key); ok {
			copyHeader(w.Header(), e.header)
			w.Header().Set("X-Edge-Cache", "hit")
			w.WriteHeader(e.status)
			w.Write(e.body)
			return
		}

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status == http.StatusOK {
			c.put(key, cached{
				status: rec.status,
				header: w.Header().Clone(),
				body:   rec.buf.Bytes(),
			})
		}
	})
}

// recorder tees the response body while passing it through.
type recorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	r.buf.Write(p)
	return r.ResponseWriter.Write(p)
}

// copyHeader fills dst from the stored copy without clobbering values the
// outer middleware already set for this request (request IDs and the like).
func copyHeader(dst, src http.Header) {
	for k, values := range src {
		if len(dst.Values(k)) > 0 {
			continue
		}
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}
