package probe

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alnah/go-audiosplit/internal/ffmpeg"
	"github.com/alnah/go-audiosplit/internal/format"
)

// SourceAudio is an immutable description of an input audio file,
// created once per job by Probe and read-only afterward.
type SourceAudio struct {
	Path       string        // Absolute or caller-relative path to the file.
	Duration   time.Duration // Total duration.
	SizeBytes  int64         // File size on disk.
	Format     string        // Container format (e.g. "mp3", "wav").
	Codec      string        // Audio codec of the first stream.
	Channels   int           // Channel count (0 if unknown).
	SampleRate int           // Sample rate in Hz (0 if unknown).
	BitrateBPS int           // Estimated bitrate in bits per second (0 if unknown).
	Title      string        // Embedded tag, best effort.
	Artist     string        // Embedded tag, best effort.
}

// String returns a human-readable representation for logging.
func (s SourceAudio) String() string {
	return fmt.Sprintf("%s (%s, %s, %s)",
		filepath.Base(s.Path), s.Format, format.Duration(s.Duration), format.Size(s.SizeBytes))
}

// Prober determines duration and basic stream properties of an audio file
// without fully decoding it.
type Prober struct {
	ffmpegPath string

	// Injectable dependencies (defaults to OS implementations).
	cmd     commandRunner
	statter fileStatter
	tags    tagReader
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithCommandRunner sets the command runner for the Prober.
func WithCommandRunner(r commandRunner) ProberOption {
	return func(p *Prober) { p.cmd = r }
}

// WithFileStatter sets the file statter for the Prober.
func WithFileStatter(s fileStatter) ProberOption {
	return func(p *Prober) { p.statter = s }
}

// WithTagReader sets the tag reader for the Prober.
func WithTagReader(t tagReader) ProberOption {
	return func(p *Prober) { p.tags = t }
}

// NewProber creates a Prober with the specified ffmpeg path.
func NewProber(ffmpegPath string, opts ...ProberOption) (*Prober, error) {
	if ffmpegPath == "" {
		return nil, fmt.Errorf("ffmpegPath cannot be empty: %w", ffmpeg.ErrNotFound)
	}

	p := &Prober{
		ffmpegPath: ffmpegPath,
		cmd:        osCommandRunner{},
		statter:    osFileStatter{},
		tags:       dhowdenTagReader{},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Probe reads container metadata for the given file. It is a pure query:
// the file is never modified and no output is produced.
func (p *Prober) Probe(ctx context.Context, path string) (SourceAudio, error) {
	info, err := p.statter.Stat(path)
	if err != nil {
		return SourceAudio{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if info.Size() == 0 {
		return SourceAudio{}, fmt.Errorf("%w: file is empty", ErrUnreadable)
	}

	// The -i flag with a null muxer reads file info without decoding output.
	args := []string{
		"-i", path,
		"-f", "null", "-",
	}
	output, err := p.cmd.CombinedOutput(ctx, p.ffmpegPath, args)
	if err != nil {
		// FFmpeg returns non-zero even when it successfully reads file info,
		// so we try to parse the output anyway.
		if len(output) == 0 {
			return SourceAudio{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
	}

	src, err := parseProbeOutput(string(output))
	if err != nil {
		return SourceAudio{}, err
	}

	src.Path = path
	src.SizeBytes = info.Size()
	if src.Format == "" {
		src.Format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}

	// Embedded tags are a nice-to-have; failure to read them is not an error.
	if title, artist, err := p.tags.ReadTags(path); err == nil {
		src.Title = title
		src.Artist = artist
	}

	return src, nil
}

// Regex patterns for FFmpeg stderr, tolerant of format variations.
var (
	durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)
	bitrateRe  = regexp.MustCompile(`bitrate:\s*(\d+)\s*kb/s`)
	inputRe    = regexp.MustCompile(`Input #\d+,\s*([^,]+),`)
	streamRe   = regexp.MustCompile(`Audio:\s*(\w+)[^,]*,\s*(\d+)\s*Hz,\s*([^,]+)`)
	channelsRe = regexp.MustCompile(`(\d+)\s*channels`)
)

// parseProbeOutput extracts duration and stream properties from FFmpeg stderr.
// FFmpeg prints lines like:
//
//	Input #0, mp3, from 'talk.mp3':
//	  Duration: 00:03:25.40, start: 0.025057, bitrate: 128 kb/s
//	  Stream #0:0: Audio: mp3, 44100 Hz, stereo, fltp, 128 kb/s
func parseProbeOutput(output string) (SourceAudio, error) {
	var src SourceAudio

	stream := streamRe.FindStringSubmatch(output)
	if stream == nil {
		return SourceAudio{}, fmt.Errorf("%w: no audio stream found", ErrUnreadable)
	}
	src.Codec = stream[1]
	if hz, err := strconv.Atoi(stream[2]); err == nil {
		src.SampleRate = hz
	}
	src.Channels = parseChannelLayout(strings.TrimSpace(stream[3]))

	matches := durationRe.FindStringSubmatch(output)
	if matches == nil {
		return SourceAudio{}, fmt.Errorf("%w: could not parse duration from ffmpeg output", ErrUnreadable)
	}
	src.Duration = parseTimeComponents(matches[1], matches[2], matches[3], matches[4])
	if src.Duration == 0 {
		return SourceAudio{}, ErrZeroDuration
	}

	if matches := inputRe.FindStringSubmatch(output); matches != nil {
		// Demuxer names may be a comma list ("mov,mp4,m4a,..."); keep the first.
		src.Format = strings.TrimSpace(strings.Split(matches[1], ",")[0])
	}

	if matches := bitrateRe.FindStringSubmatch(output); matches != nil {
		if kbps, err := strconv.Atoi(matches[1]); err == nil {
			src.BitrateBPS = kbps * 1000
		}
	}

	return src, nil
}

// parseChannelLayout converts an FFmpeg channel layout string to a count.
// Unknown layouts report 0 so callers fall back to sensible defaults.
func parseChannelLayout(layout string) int {
	switch {
	case layout == "mono":
		return 1
	case layout == "stereo":
		return 2
	default:
		if matches := channelsRe.FindStringSubmatch(layout); matches != nil {
			if n, err := strconv.Atoi(matches[1]); err == nil {
				return n
			}
		}
		return 0
	}
}

// parseTimeComponents converts HH:MM:SS.ms strings to a Duration.
func parseTimeComponents(hours, minutes, seconds, fractional string) time.Duration {
	h, _ := strconv.Atoi(hours)
	m, _ := strconv.Atoi(minutes)
	s, _ := strconv.Atoi(seconds)

	// Normalize fractional part to milliseconds.
	// Input may be 1-6+ digits (e.g., ".4", ".45", ".456", ".456789").
	frac, _ := strconv.Atoi(fractional)
	ms := frac
	switch n := len(fractional); {
	case n == 1:
		ms = frac * 100
	case n == 2:
		ms = frac * 10
	case n == 3:
		// Already milliseconds.
	case n > 3:
		// Truncate excess precision by dividing.
		for i := n; i > 3; i-- {
			ms /= 10
		}
	}

	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ms)*time.Millisecond
}
