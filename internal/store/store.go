// Package store persists upload and segment records in SQLite. The engine
// itself never touches the database; the server records what the engine
// returns.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// Upload status values.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Upload is one uploaded source file and its processing state.
type Upload struct {
	ID               int64
	SessionID        string
	OriginalFilename string
	SizeBytes        int64
	Format           string
	Title            string
	Artist           string
	UploadedAt       time.Time

	// Processing details, set once a split has been requested.
	SegmentTarget   int
	SplitUnit       string
	SegmentsCreated int
	TotalOutputSize int64
	ProcessingMs    int64
	ProcessedAt     time.Time // Zero until processing starts.

	Status       string
	ErrorMessage string
}

// Segment is one produced output file.
type Segment struct {
	ID            int64
	UploadID      int64
	Filename      string
	SegmentNumber int
	SizeBytes     int64
	DurationMs    int64
	StartMs       int64
	EndMs         int64
	CreatedAt     time.Time
	DownloadCount int
}

// Stats are aggregate processing figures, recomputed on demand.
type Stats struct {
	TotalFiles       int64 `json:"total_files"`
	TotalSegments    int64 `json:"total_segments"`
	TotalSizeBytes   int64 `json:"total_size_bytes"`
	TotalDownloads   int64 `json:"total_downloads"`
	AvgProcessingMs  int64 `json:"avg_processing_ms"`
	CompletedUploads int64 `json:"completed_uploads"`
}

// Store wraps the SQLite connection pool.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite database at path, applying WAL mode,
// busy_timeout, and foreign keys through the DSN so every pooled
// connection gets them, then runs migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL readers share the connection

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	format TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	artist TEXT NOT NULL DEFAULT '',
	uploaded_at INTEGER NOT NULL,
	segment_target INTEGER NOT NULL DEFAULT 0,
	split_unit TEXT NOT NULL DEFAULT '',
	segments_created INTEGER NOT NULL DEFAULT 0,
	total_output_size INTEGER NOT NULL DEFAULT 0,
	processing_ms INTEGER NOT NULL DEFAULT 0,
	processed_at INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'uploaded',
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_uploads_session ON uploads(session_id);

CREATE TABLE IF NOT EXISTS segments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	upload_id INTEGER NOT NULL REFERENCES uploads(id) ON DELETE CASCADE,
	filename TEXT NOT NULL,
	segment_number INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	start_ms INTEGER NOT NULL,
	end_ms INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	download_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_segments_upload ON segments(upload_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: migrate failed: %w", err)
	}
	return nil
}

// CreateUpload inserts a new upload record and returns its id.
func (s *Store) CreateUpload(ctx context.Context, u *Upload) (int64, error) {
	if u.UploadedAt.IsZero() {
		u.UploadedAt = time.Now()
	}
	if u.Status == "" {
		u.Status = StatusUploaded
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (session_id, original_filename, size_bytes, format, title, artist, uploaded_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.SessionID, u.OriginalFilename, u.SizeBytes, u.Format, u.Title, u.Artist, u.UploadedAt.Unix(), u.Status)
	if err != nil {
		return 0, fmt.Errorf("create upload: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create upload: %w", err)
	}
	u.ID = id
	return id, nil
}

const uploadColumns = `id, session_id, original_filename, size_bytes, format, title, artist, uploaded_at,
	segment_target, split_unit, segments_created, total_output_size, processing_ms, processed_at,
	status, error_message`

func scanUpload(row interface{ Scan(dest ...any) error }) (Upload, error) {
	var u Upload
	var uploadedAt, processedAt int64
	err := row.Scan(&u.ID, &u.SessionID, &u.OriginalFilename, &u.SizeBytes, &u.Format, &u.Title, &u.Artist,
		&uploadedAt, &u.SegmentTarget, &u.SplitUnit, &u.SegmentsCreated, &u.TotalOutputSize,
		&u.ProcessingMs, &processedAt, &u.Status, &u.ErrorMessage)
	if err != nil {
		return Upload{}, err
	}
	u.UploadedAt = time.Unix(uploadedAt, 0)
	if processedAt > 0 {
		u.ProcessedAt = time.Unix(processedAt, 0)
	}
	return u, nil
}

// GetUpload fetches one upload by id.
func (s *Store) GetUpload(ctx context.Context, id int64) (Upload, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id)
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Upload{}, fmt.Errorf("upload %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Upload{}, fmt.Errorf("get upload: %w", err)
	}
	return u, nil
}

// LatestUploadBySession fetches the most recent upload for a session.
func (s *Store) LatestUploadBySession(ctx context.Context, sessionID string) (Upload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID)
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Upload{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return Upload{}, fmt.Errorf("latest upload: %w", err)
	}
	return u, nil
}

// MarkProcessing records the split parameters and flips status to processing.
func (s *Store) MarkProcessing(ctx context.Context, id int64, target int, unit string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE uploads SET segment_target = ?, split_unit = ?, status = ?, processed_at = ?
		WHERE id = ?`,
		target, unit, StatusProcessing, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

// MarkCompleted records the job outcome and flips status to completed.
func (s *Store) MarkCompleted(ctx context.Context, id int64, segments int, totalSize, processingMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE uploads SET segments_created = ?, total_output_size = ?, processing_ms = ?, status = ?, error_message = ''
		WHERE id = ?`,
		segments, totalSize, processingMs, StatusCompleted, id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkError records a failure reason and flips status to error.
func (s *Store) MarkError(ctx context.Context, id int64, msg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE uploads SET status = ?, error_message = ? WHERE id = ?`,
		StatusError, msg, id)
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	return nil
}

// InsertSegments stores the produced segments for an upload in one
// transaction.
func (s *Store) InsertSegments(ctx context.Context, uploadID int64, segs []Segment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert segments: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	now := time.Now().Unix()
	for _, seg := range segs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO segments (upload_id, filename, segment_number, size_bytes, duration_ms, start_ms, end_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uploadID, seg.Filename, seg.SegmentNumber, seg.SizeBytes,
			seg.DurationMs, seg.StartMs, seg.EndMs, now); err != nil {
			return fmt.Errorf("insert segment %s: %w", seg.Filename, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert segments: %w", err)
	}
	return nil
}

// SegmentsByUpload lists an upload's segments in segment order.
func (s *Store) SegmentsByUpload(ctx context.Context, uploadID int64) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, upload_id, filename, segment_number, size_bytes, duration_ms, start_ms, end_ms, created_at, download_count
		FROM segments WHERE upload_id = ? ORDER BY segment_number`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var segs []Segment
	for rows.Next() {
		var seg Segment
		var createdAt int64
		if err := rows.Scan(&seg.ID, &seg.UploadID, &seg.Filename, &seg.SegmentNumber, &seg.SizeBytes,
			&seg.DurationMs, &seg.StartMs, &seg.EndMs, &createdAt, &seg.DownloadCount); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.CreatedAt = time.Unix(createdAt, 0)
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

// IncrementDownload bumps a segment's download counter.
func (s *Store) IncrementDownload(ctx context.Context, uploadID int64, filename string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE segments SET download_count = download_count + 1
		WHERE upload_id = ? AND filename = ?`, uploadID, filename)
	if err != nil {
		return fmt.Errorf("increment download: %w", err)
	}
	return nil
}

// ListUploads returns the most recent uploads, newest first.
func (s *Store) ListUploads(ctx context.Context, limit int) ([]Upload, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var uploads []Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// GatherStats computes aggregate figures across all uploads.
func (s *Store) GatherStats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(segments_created), 0),
		       COALESCE(SUM(size_bytes), 0),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(CAST(AVG(CASE WHEN processing_ms > 0 THEN processing_ms END) AS INTEGER), 0)
		FROM uploads`, StatusCompleted).
		Scan(&st.TotalFiles, &st.TotalSegments, &st.TotalSizeBytes, &st.CompletedUploads, &st.AvgProcessingMs)
	if err != nil {
		return Stats{}, fmt.Errorf("gather stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(download_count), 0) FROM segments`).Scan(&st.TotalDownloads)
	if err != nil {
		return Stats{}, fmt.Errorf("gather stats: %w", err)
	}
	return st, nil
}
