// Package api hosts the HTTP server, middleware, and REST handlers for the
// link-preview service. Notable routes:
//   - GET /open-graph?url=...&image=true|false for metadata or image bytes.
//   - GET /open-graph/image?url=... for direct image proxying.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
