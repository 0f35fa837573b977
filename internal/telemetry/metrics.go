// Package telemetry exposes Prometheus collectors for the preview service.
package telemetry

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	previewResolutionsTotal     *prometheus.CounterVec
	previewOriginFetchSeconds   *prometheus.HistogramVec
	previewCacheOpsTotal        *prometheus.CounterVec
	previewImageTransformsTotal *prometheus.CounterVec
	previewBackgroundTasksTotal *prometheus.CounterVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		previewResolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_resolutions_total",
				Help: "Total number of link-preview resolutions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		previewOriginFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "preview_origin_fetch_duration_seconds",
				Help:    "Histogram of origin fetch latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		previewCacheOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_cache_ops_total",
				Help: "Total cache operations, labeled by artifact kind, op and result.",
			},
			[]string{"kind", "op", "result"},
		)

		previewImageTransformsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_image_transforms_total",
				Help: "Total image transform attempts, labeled by result.",
			},
			[]string{"result"},
		)

		previewBackgroundTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_background_tasks_total",
				Help: "Total background tasks executed, labeled by name and result.",
			},
			[]string{"name", "result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveResolution increments the resolution counter for the given outcome.
func ObserveResolution(outcome string) {
	previewResolutionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveOriginFetch records an origin fetch latency.
func ObserveOriginFetch(site string, duration time.Duration) {
	previewOriginFetchSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveCacheOp increments the cache op counter.
func ObserveCacheOp(kind, op, result string) {
	previewCacheOpsTotal.WithLabelValues(kind, op, result).Inc()
}

// ObserveImageTransform increments the transform counter.
func ObserveImageTransform(result string) {
	previewImageTransformsTotal.WithLabelValues(result).Inc()
}

// ObserveBackgroundTask increments the background task counter.
func ObserveBackgroundTask(name, result string) {
	previewBackgroundTasksTotal.WithLabelValues(name, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
