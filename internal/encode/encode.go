// Package encode extracts one planned time range from a source audio file
// into an output file, walking a ladder of encoding strategies until one
// succeeds. Codec work is delegated to FFmpeg; this package never touches
// sample data itself.
package encode

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/alnah/go-audiosplit/internal/ffmpeg"
	"github.com/alnah/go-audiosplit/internal/format"
	"github.com/alnah/go-audiosplit/internal/plan"
	"github.com/alnah/go-audiosplit/internal/probe"
)

// Segment is the result of encoding one range.
type Segment struct {
	Filename      string     // Output file name, e.g. "talk_part01.mp3".
	Path          string     // Full path to the output file.
	SizeBytes     int64      // Size of the output file.
	Strategy      string     // Name of the strategy that succeeded.
	StrategyIndex int        // Position of the winning strategy in the ladder.
	Range         plan.Range // The range this segment covers.
}

// String returns a human-readable representation for logging.
func (s Segment) String() string {
	return fmt.Sprintf("%s (%s, %s)", s.Filename, s.Strategy, format.Size(s.SizeBytes))
}

// defaultLargeFileBytes mirrors the planner's large-file threshold: above
// this size the fast ladder is used.
const defaultLargeFileBytes = 30 * 1024 * 1024

// Encoder extracts and encodes planned ranges.
type Encoder struct {
	ffmpegPath     string
	largeFileBytes int64
	log            zerolog.Logger

	// Injectable dependencies (defaults to OS implementations).
	cmd     commandRunner
	statter fileStatter
	files   fileMover
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithLargeFileBytes sets the size above which the fast ladder is used.
func WithLargeFileBytes(n int64) EncoderOption {
	return func(e *Encoder) { e.largeFileBytes = n }
}

// WithLogger sets the logger for per-attempt diagnostics.
func WithLogger(log zerolog.Logger) EncoderOption {
	return func(e *Encoder) { e.log = log }
}

// WithCommandRunner sets the command runner for the Encoder.
func WithCommandRunner(r commandRunner) EncoderOption {
	return func(e *Encoder) { e.cmd = r }
}

// WithFileStatter sets the file statter for the Encoder.
func WithFileStatter(s fileStatter) EncoderOption {
	return func(e *Encoder) { e.statter = s }
}

// WithFileMover sets the file mover for the Encoder.
func WithFileMover(m fileMover) EncoderOption {
	return func(e *Encoder) { e.files = m }
}

// NewEncoder creates an Encoder with the specified ffmpeg path.
func NewEncoder(ffmpegPath string, opts ...EncoderOption) (*Encoder, error) {
	if ffmpegPath == "" {
		return nil, fmt.Errorf("ffmpegPath cannot be empty: %w", ffmpeg.ErrNotFound)
	}

	e := &Encoder{
		ffmpegPath:     ffmpegPath,
		largeFileBytes: defaultLargeFileBytes,
		log:            zerolog.Nop(),
		cmd:            osCommandRunner{},
		statter:        osFileStatter{},
		files:          osFileMover{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Encode extracts [rng.Start, rng.End) from the source into outputDir.
// Strategies are tried in ladder order; the first one that completes and
// produces a non-empty file wins. Attempts write to a temporary path and
// are renamed into place only on success, so a failed attempt never leaves
// a partial output file behind.
func (e *Encoder) Encode(ctx context.Context, src probe.SourceAudio, rng plan.Range, outputDir string) (Segment, error) {
	ladder := LadderFor(src.SizeBytes, e.largeFileBytes)
	base := SanitizeBaseName(src.Path)

	var causes []error
	for idx, strat := range ladder {
		filename := SegmentFilename(base, rng.Index, strat.Ext)
		outPath := filepath.Join(outputDir, filename)

		seg, err := e.attempt(ctx, src, rng, strat, outPath)
		if err != nil {
			e.log.Warn().
				Int("range", rng.Index).
				Str("strategy", strat.Name).
				Err(err).
				Msg("encode attempt failed")
			causes = append(causes, fmt.Errorf("%s: %w", strat.Name, err))
			continue
		}

		seg.Filename = filename
		seg.Strategy = strat.Name
		seg.StrategyIndex = idx
		seg.Range = rng
		return seg, nil
	}

	return Segment{}, fmt.Errorf("%w for %s: %w", ErrAllStrategiesFailed, rng, errors.Join(causes...))
}

// attempt runs one ladder rung. The output is written to a temporary path
// and renamed into place only after FFmpeg exits cleanly and the file is
// verified non-empty.
func (e *Encoder) attempt(ctx context.Context, src probe.SourceAudio, rng plan.Range, strat Strategy, outPath string) (Segment, error) {
	tmpPath := outPath + ".tmp"

	args := []string{
		"-y",
		"-i", src.Path,
		"-ss", format.FFmpegTime(rng.Start),
		"-to", format.FFmpegTime(rng.End),
	}
	args = append(args, strat.Codec...)
	// Explicit muxer: the temporary path's extension must not steer FFmpeg.
	args = append(args, "-f", strat.Muxer, tmpPath)

	output, err := e.cmd.CombinedOutput(ctx, e.ffmpegPath, args)
	if err != nil {
		_ = e.files.Remove(tmpPath) // best-effort cleanup; original error takes precedence
		return Segment{}, fmt.Errorf("ffmpeg: %v\noutput: %s", err, string(output))
	}

	info, err := e.statter.Stat(tmpPath)
	if err != nil || info.Size() == 0 {
		_ = e.files.Remove(tmpPath)
		return Segment{}, ErrEmptyOutput
	}

	if err := e.files.Rename(tmpPath, outPath); err != nil {
		_ = e.files.Remove(tmpPath)
		return Segment{}, fmt.Errorf("finalize output: %w", err)
	}

	return Segment{
		Path:      outPath,
		SizeBytes: info.Size(),
	}, nil
}

// SegmentFilename builds the output file name for a range:
// {base}_part{NN}.{ext}, 1-based and zero-padded to at least 2 digits.
func SegmentFilename(base string, rangeIndex int, ext string) string {
	return fmt.Sprintf("%s_part%02d.%s", base, rangeIndex+1, ext)
}

var unsafeNameRe = regexp.MustCompile(`[^\w\-.]`)

// SanitizeBaseName derives a filesystem-safe base name from the source path:
// the file name without extension, with unsafe characters replaced.
func SanitizeBaseName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = unsafeNameRe.ReplaceAllString(base, "_")
	if base == "" {
		base = "audio"
	}
	return base
}
