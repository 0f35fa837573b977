package api

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/unfurld/unfurld/internal/resolver"
	"github.com/unfurld/unfurld/internal/urlnorm"
)

// handleOpenGraph serves GET /open-graph?url=...&image=true|false. The
// default response is the metadata record as JSON; image=true returns the
// captured artifact bytes, falling back to JSON when none resolved.
func (s *Server) handleOpenGraph(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, s.logger, http.StatusBadRequest, "missing url parameter")
		return
	}
	wantImage := r.URL.Query().Get("image") == "true"

	res, err := s.resolver.Resolve(r.Context(), rawURL, wantImage)
	if err != nil {
		s.writeResolveError(w, rawURL, err)
		return
	}

	s.setCacheControl(w)
	if wantImage && res.Image != nil {
		w.Header().Set("Content-Type", res.Image.ContentType)
		if _, err := w.Write(res.Image.Data); err != nil {
			s.logger.Error("write image failed", zap.Error(err))
		}
		return
	}
	writeJSON(w, s.logger, http.StatusOK, res.Metadata)
}

// handleImage serves GET /open-graph/image?url=..., proxying an arbitrary
// image URL through the fetch/transform pipeline without touching the cache.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, s.logger, http.StatusBadRequest, "missing url parameter")
		return
	}
	normalized, err := urlnorm.Normalize(rawURL)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid url")
		return
	}

	art, err := s.images.Fetch(r.Context(), normalized)
	if err != nil {
		s.logger.Debug("image proxy failed", zap.String("url", normalized), zap.Error(err))
		writeError(w, s.logger, http.StatusNotFound, "image unavailable")
		return
	}

	s.setCacheControl(w)
	w.Header().Set("Content-Type", art.ContentType)
	if _, err := w.Write(art.Data); err != nil {
		s.logger.Error("write image failed", zap.Error(err))
	}
}

func (s *Server) writeResolveError(w http.ResponseWriter, rawURL string, err error) {
	switch {
	case errors.Is(err, resolver.ErrInvalidURL):
		writeError(w, s.logger, http.StatusBadRequest, "invalid url")
	case errors.Is(err, resolver.ErrOriginUnavailable):
		writeError(w, s.logger, http.StatusNotFound, "origin unavailable")
	default:
		s.logger.Error("resolution failed", zap.String("url", rawURL), zap.Error(err))
		writeError(w, s.logger, http.StatusInternalServerError, "resolution failed")
	}
}

func (s *Server) setCacheControl(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", fmt.Sprintf(
		"public, max-age=%d, stale-while-revalidate=%d",
		s.cfg.Cache.BrowserMaxAge,
		s.cfg.Cache.StaleWhileRevalidate,
	))
}
