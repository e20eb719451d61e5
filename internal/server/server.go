// Package server exposes the splitting engine over HTTP. Every route is
// scoped to a session cookie: uploads land in the session's upload
// directory and splits write to the session's output directory, so
// concurrent clients never see each other's files.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/alnah/go-audiosplit/internal/config"
	"github.com/alnah/go-audiosplit/internal/plan"
	"github.com/alnah/go-audiosplit/internal/split"
	"github.com/alnah/go-audiosplit/internal/store"
)

// splitter runs one segmentation job. Satisfied by *split.Splitter.
type splitter interface {
	Split(ctx context.Context, inputPath, outputDir string, req plan.Request) (split.Manifest, error)
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	cfg      config.Config
	store    *store.Store
	splitter splitter
	log      zerolog.Logger
	metrics  *metrics
	registry *prometheus.Registry
}

// New creates a Server around the given store and splitter.
func New(cfg config.Config, st *store.Store, sp splitter, log zerolog.Logger) *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		cfg:      cfg,
		store:    st,
		splitter: sp,
		log:      log,
		metrics:  newMetrics(reg),
		registry: reg,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	r.Use(withSession)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/config", s.handleConfig)
	r.Get("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP)

	r.Get("/download/{filename}", s.handleDownload)
	r.Get("/download-all", s.handleDownloadAll)
	r.Get("/api/uploads", s.handleListUploads)
	r.Get("/api/stats", s.handleStats)

	// Mutating routes are rate limited per client IP.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
		r.Post("/upload", s.handleUpload)
		r.Post("/upload-chunk", s.handleUploadChunk)
		r.Post("/split", s.handleSplit)
		r.Post("/cleanup", s.handleCleanup)
	})

	return r
}

// accessLog emits one structured line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig reports the client-relevant limits.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"max_upload_bytes":    s.cfg.MaxUploadBytes,
		"allowed_extensions":  allowedExtensionList(),
		"max_segment_seconds": plan.MaxTargetSeconds,
		"max_segment_mb":      plan.MaxTargetMegabytes,
	})
}
