// Package main starts the unfurld link-preview service: an HTTP server that
// resolves Open Graph metadata and preview images for arbitrary URLs and
// caches both behind content-derived keys.
package main
