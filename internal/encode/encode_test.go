package encode_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alnah/go-audiosplit/internal/encode"
	"github.com/alnah/go-audiosplit/internal/plan"
	"github.com/alnah/go-audiosplit/internal/probe"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// scriptedRunner fails or succeeds per call, in order, and records every
// argument list it was given.
type scriptedRunner struct {
	mu    sync.Mutex
	errs  []error // one entry per expected call; nil means success
	calls [][]string
}

func (r *scriptedRunner) CombinedOutput(_ context.Context, _ string, args []string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, args)
	call := len(r.calls) - 1
	if call < len(r.errs) && r.errs[call] != nil {
		return []byte("ffmpeg error output"), r.errs[call]
	}
	return nil, nil
}

type fakeFileInfo struct {
	size int64
}

func (f fakeFileInfo) Name() string       { return "out" }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() fs.FileMode  { return 0644 }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() any           { return nil }

// scriptedStatter reports a size per call, in order.
type scriptedStatter struct {
	mu    sync.Mutex
	sizes []int64
	call  int
}

func (s *scriptedStatter) Stat(_ string) (os.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size := int64(1024)
	if s.call < len(s.sizes) {
		size = s.sizes[s.call]
	}
	s.call++
	if size < 0 {
		return nil, os.ErrNotExist
	}
	return fakeFileInfo{size: size}, nil
}

// recordingMover records removes and renames; renameErr makes every rename
// fail.
type recordingMover struct {
	mu        sync.Mutex
	removed   []string
	renamed   [][2]string
	renameErr error
}

func (m *recordingMover) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, name)
	return nil
}

func (m *recordingMover) Rename(oldpath, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.renameErr != nil {
		return m.renameErr
	}
	m.renamed = append(m.renamed, [2]string{oldpath, newpath})
	return nil
}

func testSource(sizeBytes int64) probe.SourceAudio {
	return probe.SourceAudio{
		Path:      "/audio/morning talk.mp3",
		Duration:  10 * time.Minute,
		SizeBytes: sizeBytes,
		Format:    "mp3",
	}
}

func testRange() plan.Range {
	return plan.Range{Index: 0, Start: 0, End: 30 * time.Second}
}

// ---------------------------------------------------------------------------
// LadderFor
// ---------------------------------------------------------------------------

func TestLadderFor(t *testing.T) {
	t.Parallel()

	const threshold = 30 * 1024 * 1024

	small := encode.LadderFor(threshold, threshold) // at the threshold, not above
	if small[0].Name != "mp3-standard" {
		t.Errorf("small ladder starts with %q, want mp3-standard", small[0].Name)
	}

	large := encode.LadderFor(threshold+1, threshold)
	if large[0].Name != "mp3-economy" {
		t.Errorf("large ladder starts with %q, want mp3-economy", large[0].Name)
	}

	for _, ladder := range [][]encode.Strategy{small, large} {
		if last := ladder[len(ladder)-1]; last.Name != "pcm" || last.Ext != "wav" {
			t.Errorf("ladder must end with pcm/wav, got %q/%q", last.Name, last.Ext)
		}
	}
}

// ---------------------------------------------------------------------------
// Naming
// ---------------------------------------------------------------------------

func TestSegmentFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		base       string
		rangeIndex int
		ext        string
		want       string
	}{
		{name: "first segment", base: "talk", rangeIndex: 0, ext: "mp3", want: "talk_part01.mp3"},
		{name: "tenth segment", base: "talk", rangeIndex: 9, ext: "mp3", want: "talk_part10.mp3"},
		{name: "three digits", base: "talk", rangeIndex: 99, ext: "wav", want: "talk_part100.wav"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := encode.SegmentFilename(tt.base, tt.rangeIndex, tt.ext); got != tt.want {
				t.Errorf("SegmentFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeBaseName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "plain", path: "/audio/talk.mp3", want: "talk"},
		{name: "spaces replaced", path: "morning talk.mp3", want: "morning_talk"},
		{name: "shell metacharacters", path: "a;b&c$(d).wav", want: "a_b_c__d_"},
		{name: "unicode replaced", path: "café.mp3", want: "caf_"},
		{name: "dots kept", path: "v1.2-final.mp3", want: "v1.2-final"},
		{name: "empty base falls back", path: ".mp3", want: "audio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := encode.SanitizeBaseName(tt.path); got != tt.want {
				t.Errorf("SanitizeBaseName(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Encode
// ---------------------------------------------------------------------------

func TestEncode_FirstStrategySucceeds(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{}
	mover := &recordingMover{}
	e, err := encode.NewEncoder("/usr/bin/ffmpeg",
		encode.WithCommandRunner(runner),
		encode.WithFileStatter(&scriptedStatter{sizes: []int64{2048}}),
		encode.WithFileMover(mover),
	)
	if err != nil {
		t.Fatalf("NewEncoder() unexpected error: %v", err)
	}

	seg, err := e.Encode(context.Background(), testSource(1<<20), testRange(), "/out")
	if err != nil {
		t.Fatalf("Encode() unexpected error: %v", err)
	}

	if seg.Filename != "morning_talk_part01.mp3" {
		t.Errorf("Filename = %q, want morning_talk_part01.mp3", seg.Filename)
	}
	if seg.Strategy != "mp3-standard" || seg.StrategyIndex != 0 {
		t.Errorf("Strategy = %q (index %d), want mp3-standard (0)", seg.Strategy, seg.StrategyIndex)
	}
	if seg.SizeBytes != 2048 {
		t.Errorf("SizeBytes = %d, want 2048", seg.SizeBytes)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("runner called %d times, want 1", len(runner.calls))
	}

	// The attempt must target a temporary path with an explicit muxer, then
	// rename into place.
	args := runner.calls[0]
	tmpPath := args[len(args)-1]
	if tmpPath != "/out/morning_talk_part01.mp3.tmp" {
		t.Errorf("ffmpeg output path = %q, want temporary path", tmpPath)
	}
	if args[len(args)-3] != "-f" || args[len(args)-2] != "mp3" {
		t.Errorf("args missing explicit muxer: %v", args)
	}
	if len(mover.renamed) != 1 || mover.renamed[0] != [2]string{tmpPath, "/out/morning_talk_part01.mp3"} {
		t.Errorf("rename = %v, want tmp -> final", mover.renamed)
	}
}

func TestEncode_FallsThroughLadder(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{errs: []error{errors.New("encoder crashed"), nil}}
	mover := &recordingMover{}
	e, err := encode.NewEncoder("/usr/bin/ffmpeg",
		encode.WithCommandRunner(runner),
		encode.WithFileStatter(&scriptedStatter{sizes: []int64{2048}}),
		encode.WithFileMover(mover),
	)
	if err != nil {
		t.Fatalf("NewEncoder() unexpected error: %v", err)
	}

	seg, err := e.Encode(context.Background(), testSource(1<<20), testRange(), "/out")
	if err != nil {
		t.Fatalf("Encode() unexpected error: %v", err)
	}

	if seg.Strategy != "mp3-basic" || seg.StrategyIndex != 1 {
		t.Errorf("Strategy = %q (index %d), want mp3-basic (1)", seg.Strategy, seg.StrategyIndex)
	}
	// The failed attempt's temporary file must be cleaned up.
	if len(mover.removed) == 0 {
		t.Error("failed attempt left its temporary file behind")
	}
}

func TestEncode_LargeFileUsesFastLadder(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{}
	e, err := encode.NewEncoder("/usr/bin/ffmpeg",
		encode.WithCommandRunner(runner),
		encode.WithFileStatter(&scriptedStatter{sizes: []int64{2048}}),
		encode.WithFileMover(&recordingMover{}),
	)
	if err != nil {
		t.Fatalf("NewEncoder() unexpected error: %v", err)
	}

	seg, err := e.Encode(context.Background(), testSource(31<<20), testRange(), "/out")
	if err != nil {
		t.Fatalf("Encode() unexpected error: %v", err)
	}
	if seg.Strategy != "mp3-economy" {
		t.Errorf("Strategy = %q, want mp3-economy", seg.Strategy)
	}
}

func TestEncode_EmptyOutputFallsThrough(t *testing.T) {
	t.Parallel()

	// First rung writes an empty file; the second produces real output.
	runner := &scriptedRunner{}
	e, err := encode.NewEncoder("/usr/bin/ffmpeg",
		encode.WithCommandRunner(runner),
		encode.WithFileStatter(&scriptedStatter{sizes: []int64{0, 2048}}),
		encode.WithFileMover(&recordingMover{}),
	)
	if err != nil {
		t.Fatalf("NewEncoder() unexpected error: %v", err)
	}

	seg, err := e.Encode(context.Background(), testSource(1<<20), testRange(), "/out")
	if err != nil {
		t.Fatalf("Encode() unexpected error: %v", err)
	}
	if seg.StrategyIndex != 1 {
		t.Errorf("StrategyIndex = %d, want 1", seg.StrategyIndex)
	}
}

func TestEncode_AllStrategiesFail(t *testing.T) {
	t.Parallel()

	crash := errors.New("encoder crashed")
	runner := &scriptedRunner{errs: []error{crash, crash, crash}}
	e, err := encode.NewEncoder("/usr/bin/ffmpeg",
		encode.WithCommandRunner(runner),
		encode.WithFileStatter(&scriptedStatter{}),
		encode.WithFileMover(&recordingMover{}),
	)
	if err != nil {
		t.Fatalf("NewEncoder() unexpected error: %v", err)
	}

	_, err = e.Encode(context.Background(), testSource(1<<20), testRange(), "/out")
	if !errors.Is(err, encode.ErrAllStrategiesFailed) {
		t.Fatalf("Encode() error = %v, want ErrAllStrategiesFailed", err)
	}
	if len(runner.calls) != 3 {
		t.Errorf("runner called %d times, want 3 (every rung tried)", len(runner.calls))
	}
}

func TestEncode_RenameFailureFallsThrough(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{}
	mover := &recordingMover{renameErr: errors.New("disk full")}
	e, err := encode.NewEncoder("/usr/bin/ffmpeg",
		encode.WithCommandRunner(runner),
		encode.WithFileStatter(&scriptedStatter{sizes: []int64{2048, 2048, 2048}}),
		encode.WithFileMover(mover),
	)
	if err != nil {
		t.Fatalf("NewEncoder() unexpected error: %v", err)
	}

	_, err = e.Encode(context.Background(), testSource(1<<20), testRange(), "/out")
	if !errors.Is(err, encode.ErrAllStrategiesFailed) {
		t.Fatalf("Encode() error = %v, want ErrAllStrategiesFailed", err)
	}
}

func TestNewEncoder_EmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := encode.NewEncoder(""); err == nil {
		t.Fatal("NewEncoder(\"\") expected error, got nil")
	}
}
