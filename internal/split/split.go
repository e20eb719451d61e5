// Package split drives the full segmentation job: probe the source, plan
// the ranges, encode each range, and aggregate the results into a manifest.
// The engine holds no state across jobs.
package split

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/alnah/go-audiosplit/internal/encode"
	"github.com/alnah/go-audiosplit/internal/plan"
	"github.com/alnah/go-audiosplit/internal/probe"
)

// Config carries every limit the engine applies. It is built once by the
// caller and passed in explicitly; the engine never reads the environment.
type Config struct {
	FFmpegPath string

	// Planning limits (see plan.Limits).
	MinSegment           time.Duration
	SizeFloor            time.Duration
	LargeFileBytes       int64
	LargeFileMaxSegments int
	SizeSafetyMargin     float64

	// EncodeTimeout bounds each segment's encode. Zero means no limit.
	// A timed-out encode fails that segment only, not the job.
	EncodeTimeout time.Duration

	// MaxParallel bounds concurrent encodes. Zero or negative means one
	// worker per CPU core.
	MaxParallel int
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig(ffmpegPath string) Config {
	lim := plan.DefaultLimits()
	return Config{
		FFmpegPath:           ffmpegPath,
		MinSegment:           lim.MinSegment,
		SizeFloor:            lim.SizeFloor,
		LargeFileBytes:       lim.LargeFileBytes,
		LargeFileMaxSegments: lim.LargeFileMaxSegments,
		SizeSafetyMargin:     lim.SizeSafetyMargin,
		EncodeTimeout:        5 * time.Minute,
		MaxParallel:          0,
	}
}

// limits converts the engine config to planning limits.
func (c Config) limits() plan.Limits {
	return plan.Limits{
		MinSegment:           c.MinSegment,
		SizeFloor:            c.SizeFloor,
		LargeFileBytes:       c.LargeFileBytes,
		LargeFileMaxSegments: c.LargeFileMaxSegments,
		SizeSafetyMargin:     c.SizeSafetyMargin,
	}
}

// Failure records one range whose entire encoding ladder was exhausted.
type Failure struct {
	Range plan.Range
	Err   string
}

// Status of a finished job. A manifest is only returned for complete jobs;
// every other outcome surfaces as an error.
type Status string

// StatusComplete means at least one segment was produced.
const StatusComplete Status = "complete"

// Manifest is the final, immutable result of a split job.
type Manifest struct {
	Segments       []encode.Segment // Sorted by range index.
	Failures       []Failure        // Ranges that produced no output.
	TotalSizeBytes int64
	SegmentCount   int
	ProcessingTime time.Duration
	Status         Status
}

// Files returns the output file names in segment order.
func (m Manifest) Files() []string {
	files := make([]string, len(m.Segments))
	for i, seg := range m.Segments {
		files[i] = seg.Filename
	}
	return files
}

// prober determines source audio properties.
type prober interface {
	Probe(ctx context.Context, path string) (probe.SourceAudio, error)
}

// encoder extracts and encodes one planned range.
type encoder interface {
	Encode(ctx context.Context, src probe.SourceAudio, rng plan.Range, outputDir string) (encode.Segment, error)
}

// dirMaker creates output directories.
type dirMaker interface {
	MkdirAll(path string, perm os.FileMode) error
}

// osDirMaker implements dirMaker using os.MkdirAll.
type osDirMaker struct{}

func (osDirMaker) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Splitter orchestrates probe, plan, and encode for one job at a time.
type Splitter struct {
	cfg Config
	log zerolog.Logger

	prober  prober
	encoder encoder
	dirs    dirMaker
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithLogger sets the job logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Splitter) { s.log = log }
}

// WithProber sets a custom prober (for testing).
func WithProber(p prober) Option {
	return func(s *Splitter) { s.prober = p }
}

// WithEncoder sets a custom encoder (for testing).
func WithEncoder(e encoder) Option {
	return func(s *Splitter) { s.encoder = e }
}

// WithDirMaker sets a custom directory maker (for testing).
func WithDirMaker(d dirMaker) Option {
	return func(s *Splitter) { s.dirs = d }
}

// New creates a Splitter. The default prober and encoder shell out to the
// configured ffmpeg binary.
func New(cfg Config, opts ...Option) (*Splitter, error) {
	s := &Splitter{
		cfg:  cfg,
		log:  zerolog.Nop(),
		dirs: osDirMaker{},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.prober == nil {
		p, err := probe.NewProber(cfg.FFmpegPath)
		if err != nil {
			return nil, err
		}
		s.prober = p
	}
	if s.encoder == nil {
		e, err := encode.NewEncoder(cfg.FFmpegPath,
			encode.WithLargeFileBytes(cfg.LargeFileBytes),
			encode.WithLogger(s.log))
		if err != nil {
			return nil, err
		}
		s.encoder = e
	}

	return s, nil
}

// Split runs one segmentation job: probe, plan, encode every range, and
// aggregate. A single range's failure never aborts its siblings; the job
// fails only when probing fails, planning yields nothing viable, or every
// encode fails.
func (s *Splitter) Split(ctx context.Context, inputPath, outputDir string, req plan.Request) (Manifest, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}

	src, err := s.prober.Probe(ctx, inputPath)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	s.log.Info().
		Stringer("source", src).
		Int("bitrate_bps", src.BitrateBPS).
		Msg("probed source audio")

	pl, err := plan.Compute(src, req, s.cfg.limits())
	if err != nil {
		switch {
		case errors.Is(err, plan.ErrNoViableSegments):
			return Manifest{}, fmt.Errorf("%w: %w", ErrFileTooShort, err)
		case errors.Is(err, plan.ErrInvalidRequest):
			return Manifest{}, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
		default:
			return Manifest{}, err
		}
	}
	s.log.Info().
		Int("segments", len(pl.Ranges)).
		Dur("segment_length", pl.SegmentLength).
		Msg("computed segment plan")

	if err := s.dirs.MkdirAll(outputDir, 0750); err != nil {
		return Manifest{}, fmt.Errorf("create output directory: %w", err)
	}

	segments, failures, err := s.encodeAll(ctx, src, pl.Ranges, outputDir)
	if err != nil {
		return Manifest{}, err
	}

	if len(segments) == 0 {
		return Manifest{}, fmt.Errorf("%w: all %d ranges failed to encode",
			ErrNoSegmentsProduced, len(pl.Ranges))
	}

	var totalSize int64
	for _, seg := range segments {
		totalSize += seg.SizeBytes
	}

	m := Manifest{
		Segments:       segments,
		Failures:       failures,
		TotalSizeBytes: totalSize,
		SegmentCount:   len(segments),
		ProcessingTime: time.Since(start),
		Status:         StatusComplete,
	}
	s.log.Info().
		Int("segments", m.SegmentCount).
		Int("failures", len(m.Failures)).
		Int64("total_bytes", m.TotalSizeBytes).
		Dur("elapsed", m.ProcessingTime).
		Msg("split complete")
	return m, nil
}

// encodeAll encodes every range with a bounded worker pool. Results come
// back sorted by range index regardless of completion order. The returned
// error is non-nil only when the job context is canceled.
func (s *Splitter) encodeAll(ctx context.Context, src probe.SourceAudio, ranges []plan.Range, outputDir string) ([]encode.Segment, []Failure, error) {
	maxParallel := s.cfg.MaxParallel
	if maxParallel < 1 {
		maxParallel = runtime.NumCPU()
	}

	// Result slots indexed by position so output order never depends on
	// encode completion order.
	results := make([]*encode.Segment, len(ranges))
	failed := make([]*Failure, len(ranges))

	sem := make(chan struct{}, maxParallel)
	g, gctx := errgroup.WithContext(ctx)

	for i, rng := range ranges {
		g.Go(func() error {
			// Acquire semaphore slot.
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			ectx := gctx
			if s.cfg.EncodeTimeout > 0 {
				var cancel context.CancelFunc
				ectx, cancel = context.WithTimeout(gctx, s.cfg.EncodeTimeout)
				defer cancel()
			}

			seg, err := s.encoder.Encode(ectx, src, rng, outputDir)
			if err != nil {
				// Job cancellation aborts everything; a lone segment's
				// exhausted ladder (including its own timeout) does not.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.Warn().Stringer("range", rng).Err(err).Msg("segment failed")
				failed[i] = &Failure{Range: rng, Err: err.Error()}
				return nil
			}

			results[i] = &seg
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	segments := make([]encode.Segment, 0, len(ranges))
	var failures []Failure
	for i := range ranges {
		if results[i] != nil {
			segments = append(segments, *results[i])
		} else if failed[i] != nil {
			failures = append(failures, *failed[i])
		}
	}
	return segments, failures, nil
}
