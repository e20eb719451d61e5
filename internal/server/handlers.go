package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-chi/chi/v5"

	"github.com/alnah/go-audiosplit/internal/archive"
	"github.com/alnah/go-audiosplit/internal/encode"
	"github.com/alnah/go-audiosplit/internal/plan"
	"github.com/alnah/go-audiosplit/internal/split"
	"github.com/alnah/go-audiosplit/internal/store"
)

// allowedExtensions are the upload formats the engine accepts. FFmpeg
// handles many more, but the ladder is tuned for these.
var allowedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".ogg":  true,
	".m4a":  true,
	".flac": true,
	".aac":  true,
	".wma":  true,
}

func allowedExtensionList() []string {
	exts := make([]string, 0, len(allowedExtensions))
	for ext := range allowedExtensions {
		exts = append(exts, strings.TrimPrefix(ext, "."))
	}
	sort.Strings(exts)
	return exts
}

// sanitizeFilename keeps the extension and cleans the base name, so the
// stored file name is always safe to join into a session directory.
func sanitizeFilename(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	return encode.SanitizeBaseName(name) + ext
}

// sessionUploadDir returns (and creates) the session's upload directory.
func (s *Server) sessionUploadDir(sid string) (string, error) {
	dir := filepath.Join(s.cfg.UploadDir(), sid)
	return dir, os.MkdirAll(dir, 0750)
}

// sessionOutputDir returns the session's split output directory. The
// splitter creates it on demand.
func (s *Server) sessionOutputDir(sid string) string {
	return filepath.Join(s.cfg.OutputDir(), sid)
}

// handleUpload accepts a single multipart file upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large or malformed")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		writeError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("unsupported format %q", ext))
		return
	}

	sid := sessionID(r)
	dir, err := s.sessionUploadDir(sid)
	if err != nil {
		s.log.Error().Err(err).Msg("create upload dir")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	name := sanitizeFilename(header.Filename)
	dstPath := filepath.Join(dir, name)
	size, err := writeFile(dstPath, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if size == 0 {
		_ = os.Remove(dstPath)
		writeError(w, http.StatusBadRequest, "empty file")
		return
	}

	title, artist := readTags(dstPath)
	up := &store.Upload{
		SessionID:        sid,
		OriginalFilename: name,
		SizeBytes:        size,
		Format:           strings.TrimPrefix(ext, "."),
		Title:            title,
		Artist:           artist,
	}
	id, err := s.store.CreateUpload(r.Context(), up)
	if err != nil {
		s.log.Error().Err(err).Msg("record upload")
		writeError(w, http.StatusInternalServerError, "failed to record upload")
		return
	}

	s.metrics.uploadsTotal.Inc()
	s.log.Info().Str("session", sid).Str("file", name).Int64("bytes", size).Msg("upload accepted")
	writeJSON(w, http.StatusOK, map[string]any{
		"upload_id":  id,
		"filename":   name,
		"size_bytes": size,
	})
}

// handleUploadChunk accepts one chunk of a client-side chunked upload.
// Chunks arrive as .part files; the final chunk triggers assembly into the
// real upload, after which the request behaves like handleUpload.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "chunk too large or malformed")
		return
	}

	chunkNum, err1 := strconv.Atoi(r.FormValue("chunk_number"))
	totalChunks, err2 := strconv.Atoi(r.FormValue("total_chunks"))
	origName := r.FormValue("filename")
	if err1 != nil || err2 != nil || origName == "" ||
		chunkNum < 0 || totalChunks <= 0 || chunkNum >= totalChunks {
		writeError(w, http.StatusBadRequest, "invalid chunk parameters")
		return
	}

	ext := strings.ToLower(filepath.Ext(origName))
	if !allowedExtensions[ext] {
		writeError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("unsupported format %q", ext))
		return
	}

	file, _, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing chunk field")
		return
	}
	defer func() { _ = file.Close() }()

	sid := sessionID(r)
	dir, err := s.sessionUploadDir(sid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	name := sanitizeFilename(origName)
	partPath := filepath.Join(dir, fmt.Sprintf("%s.part%d", name, chunkNum))
	if _, err := writeFile(partPath, file); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store chunk")
		return
	}

	if chunkNum < totalChunks-1 {
		writeJSON(w, http.StatusOK, map[string]any{
			"complete":       false,
			"chunk_number":   chunkNum,
			"chunks_pending": totalChunks - chunkNum - 1,
		})
		return
	}

	size, err := assembleChunks(dir, name, totalChunks)
	if err != nil {
		s.log.Error().Err(err).Str("file", name).Msg("assemble chunks")
		writeError(w, http.StatusInternalServerError, "failed to assemble upload")
		return
	}
	if size == 0 {
		_ = os.Remove(filepath.Join(dir, name))
		writeError(w, http.StatusBadRequest, "empty file")
		return
	}

	dstPath := filepath.Join(dir, name)
	title, artist := readTags(dstPath)
	up := &store.Upload{
		SessionID:        sid,
		OriginalFilename: name,
		SizeBytes:        size,
		Format:           strings.TrimPrefix(ext, "."),
		Title:            title,
		Artist:           artist,
	}
	id, err := s.store.CreateUpload(r.Context(), up)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record upload")
		return
	}

	s.metrics.uploadsTotal.Inc()
	s.log.Info().Str("session", sid).Str("file", name).Int64("bytes", size).
		Int("chunks", totalChunks).Msg("chunked upload assembled")
	writeJSON(w, http.StatusOK, map[string]any{
		"complete":   true,
		"upload_id":  id,
		"filename":   name,
		"size_bytes": size,
	})
}

// handleSplit runs the segmentation job for the session's latest upload.
func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form")
		return
	}

	target, err := strconv.Atoi(r.FormValue("segment_size"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "segment_size must be an integer")
		return
	}
	unit, err := plan.ParseUnit(r.FormValue("split_type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "split_type must be seconds or megabytes")
		return
	}
	req := plan.Request{Unit: unit, Target: target}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sid := sessionID(r)
	up, err := s.store.LatestUploadBySession(r.Context(), sid)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no uploaded file for this session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	if err := s.store.MarkProcessing(r.Context(), up.ID, target, string(unit)); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start processing")
		return
	}

	inputPath := filepath.Join(s.cfg.UploadDir(), sid, up.OriginalFilename)
	outputDir := s.sessionOutputDir(sid)

	manifest, err := s.splitter.Split(r.Context(), inputPath, outputDir, req)
	if err != nil {
		s.metrics.splitJobsTotal.WithLabelValues("error").Inc()
		_ = s.store.MarkError(r.Context(), up.ID, err.Error())
		s.log.Error().Err(err).Str("session", sid).Msg("split failed")
		writeError(w, splitErrorStatus(err), err.Error())
		return
	}

	if err := s.recordManifest(r, up.ID, manifest); err != nil {
		s.log.Error().Err(err).Int64("upload", up.ID).Msg("record split outcome")
	}

	s.metrics.splitJobsTotal.WithLabelValues("complete").Inc()
	s.metrics.segmentsTotal.Add(float64(manifest.SegmentCount))
	s.metrics.segmentFailures.Add(float64(len(manifest.Failures)))
	s.metrics.splitSeconds.Observe(manifest.ProcessingTime.Seconds())

	writeJSON(w, http.StatusOK, manifestJSON(manifest))
}

// recordManifest persists segments and the completed status.
func (s *Server) recordManifest(r *http.Request, uploadID int64, m split.Manifest) error {
	segs := make([]store.Segment, len(m.Segments))
	for i, seg := range m.Segments {
		segs[i] = store.Segment{
			UploadID:      uploadID,
			Filename:      seg.Filename,
			SegmentNumber: seg.Range.Index + 1,
			SizeBytes:     seg.SizeBytes,
			DurationMs:    seg.Range.Duration().Milliseconds(),
			StartMs:       seg.Range.Start.Milliseconds(),
			EndMs:         seg.Range.End.Milliseconds(),
		}
	}
	if err := s.store.InsertSegments(r.Context(), uploadID, segs); err != nil {
		return err
	}
	return s.store.MarkCompleted(r.Context(), uploadID,
		m.SegmentCount, m.TotalSizeBytes, m.ProcessingTime.Milliseconds())
}

// splitErrorStatus maps engine sentinels to HTTP statuses.
func splitErrorStatus(err error) int {
	switch {
	case errors.Is(err, split.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, split.ErrProbeFailed), errors.Is(err, split.ErrFileTooShort):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// manifestJSON shapes a manifest for the API response.
func manifestJSON(m split.Manifest) map[string]any {
	type segJSON struct {
		Filename  string `json:"filename"`
		SizeBytes int64  `json:"size_bytes"`
		StartMs   int64  `json:"start_ms"`
		EndMs     int64  `json:"end_ms"`
		Strategy  string `json:"strategy"`
	}
	segs := make([]segJSON, len(m.Segments))
	for i, seg := range m.Segments {
		segs[i] = segJSON{
			Filename:  seg.Filename,
			SizeBytes: seg.SizeBytes,
			StartMs:   seg.Range.Start.Milliseconds(),
			EndMs:     seg.Range.End.Milliseconds(),
			Strategy:  seg.Strategy,
		}
	}
	failures := make([]map[string]any, len(m.Failures))
	for i, f := range m.Failures {
		failures[i] = map[string]any{
			"start_ms": f.Range.Start.Milliseconds(),
			"end_ms":   f.Range.End.Milliseconds(),
			"error":    f.Err,
		}
	}
	return map[string]any{
		"status":           string(m.Status),
		"segments":         segs,
		"failures":         failures,
		"segment_count":    m.SegmentCount,
		"total_size_bytes": m.TotalSizeBytes,
		"processing_ms":    m.ProcessingTime.Milliseconds(),
	}
}

// handleDownload serves one produced segment from the session's output
// directory.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	sid := sessionID(r)
	path := filepath.Join(s.sessionOutputDir(sid), name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "no such segment")
		return
	}

	// Best effort: the counter is bookkeeping, not correctness.
	if up, err := s.store.LatestUploadBySession(r.Context(), sid); err == nil {
		_ = s.store.IncrementDownload(r.Context(), up.ID, name)
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

// handleDownloadAll zips every segment in the session's output directory
// and serves the archive.
func (s *Server) handleDownloadAll(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	outDir := s.sessionOutputDir(sid)

	entries, err := os.ReadDir(outDir)
	if err != nil {
		writeError(w, http.StatusNotFound, "no segments for this session")
		return
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".zip") || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		files = append(files, filepath.Join(outDir, e.Name()))
	}
	if len(files) == 0 {
		writeError(w, http.StatusNotFound, "no segments for this session")
		return
	}
	sort.Strings(files)

	zipName := fmt.Sprintf("segments_%s.zip", time.Now().Format("20060102_150405"))
	zipPath := filepath.Join(outDir, zipName)
	if err := archive.WriteZip(zipPath, files); err != nil {
		s.log.Error().Err(err).Str("session", sid).Msg("build archive")
		writeError(w, http.StatusInternalServerError, "failed to build archive")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", zipName))
	http.ServeFile(w, r, zipPath)
}

// handleCleanup removes the session's uploads and outputs.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	for _, dir := range []string{
		filepath.Join(s.cfg.UploadDir(), sid),
		s.sessionOutputDir(sid),
	} {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Error().Err(err).Str("dir", dir).Msg("cleanup")
			writeError(w, http.StatusInternalServerError, "cleanup failed")
			return
		}
	}
	s.log.Info().Str("session", sid).Msg("session cleaned up")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned"})
}

// handleListUploads returns recent uploads across all sessions.
func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	uploads, err := s.store.ListUploads(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	out := make([]map[string]any, len(uploads))
	for i, u := range uploads {
		out[i] = map[string]any{
			"id":               u.ID,
			"filename":         u.OriginalFilename,
			"size_bytes":       u.SizeBytes,
			"format":           u.Format,
			"title":            u.Title,
			"artist":           u.Artist,
			"uploaded_at":      u.UploadedAt.UTC().Format(time.RFC3339),
			"status":           u.Status,
			"segments_created": u.SegmentsCreated,
			"processing_ms":    u.ProcessingMs,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": out})
}

// handleStats returns aggregate processing figures.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GatherStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeFile copies src to path and returns the byte count.
func writeFile(path string, src io.Reader) (int64, error) {
	dst, err := os.Create(path) // #nosec G304 -- path is built from a sanitized name
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}

// assembleChunks concatenates .part files in order into the final upload
// and removes them. Returns the assembled size.
func assembleChunks(dir, name string, totalChunks int) (int64, error) {
	dstPath := filepath.Join(dir, name)
	dst, err := os.Create(dstPath) // #nosec G304 -- path is built from a sanitized name
	if err != nil {
		return 0, err
	}

	var total int64
	for i := 0; i < totalChunks; i++ {
		partPath := filepath.Join(dir, fmt.Sprintf("%s.part%d", name, i))
		n, err := appendFile(dst, partPath)
		if err != nil {
			_ = dst.Close()
			_ = os.Remove(dstPath)
			return 0, fmt.Errorf("chunk %d: %w", i, err)
		}
		total += n
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dstPath)
		return 0, err
	}

	for i := 0; i < totalChunks; i++ {
		_ = os.Remove(filepath.Join(dir, fmt.Sprintf("%s.part%d", name, i)))
	}
	return total, nil
}

func appendFile(dst io.Writer, path string) (int64, error) {
	f, err := os.Open(path) // #nosec G304 -- part files are server-named
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return io.Copy(dst, f)
}

// readTags extracts embedded title and artist metadata, best effort.
func readTags(path string) (title, artist string) {
	f, err := os.Open(path) // #nosec G304 -- path is built from a sanitized name
	if err != nil {
		return "", ""
	}
	defer func() { _ = f.Close() }()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return "", ""
	}
	return m.Title(), m.Artist()
}
