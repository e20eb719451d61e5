package split_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alnah/go-audiosplit/internal/encode"
	"github.com/alnah/go-audiosplit/internal/plan"
	"github.com/alnah/go-audiosplit/internal/probe"
	"github.com/alnah/go-audiosplit/internal/split"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeProber struct {
	src probe.SourceAudio
	err error
}

func (f fakeProber) Probe(_ context.Context, path string) (probe.SourceAudio, error) {
	if f.err != nil {
		return probe.SourceAudio{}, f.err
	}
	src := f.src
	src.Path = path
	return src, nil
}

// fakeEncoder succeeds or fails per range index.
type fakeEncoder struct {
	mu      sync.Mutex
	failIdx map[int]bool // range indexes whose ladder is exhausted
	delay   time.Duration
	calls   int
}

func (f *fakeEncoder) Encode(ctx context.Context, src probe.SourceAudio, rng plan.Range, outputDir string) (encode.Segment, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return encode.Segment{}, ctx.Err()
		}
	}
	if f.failIdx[rng.Index] {
		return encode.Segment{}, fmt.Errorf("%w for %s", encode.ErrAllStrategiesFailed, rng)
	}
	name := encode.SegmentFilename(encode.SanitizeBaseName(src.Path), rng.Index, "mp3")
	return encode.Segment{
		Filename:  name,
		Path:      outputDir + "/" + name,
		SizeBytes: 1000,
		Strategy:  "mp3-standard",
		Range:     rng,
	}, nil
}

type nopDirMaker struct{}

func (nopDirMaker) MkdirAll(string, os.FileMode) error { return nil }

func fiveMinuteSource() probe.SourceAudio {
	return probe.SourceAudio{
		Duration:   5 * time.Minute,
		SizeBytes:  5 << 20,
		Format:     "mp3",
		BitrateBPS: 128_000,
	}
}

func newSplitter(t *testing.T, p fakeProber, e *fakeEncoder) *split.Splitter {
	t.Helper()
	s, err := split.New(split.DefaultConfig("/usr/bin/ffmpeg"),
		split.WithProber(p),
		split.WithEncoder(e),
		split.WithDirMaker(nopDirMaker{}),
	)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Split
// ---------------------------------------------------------------------------

func TestSplit_AllSegmentsSucceed(t *testing.T) {
	t.Parallel()

	enc := &fakeEncoder{}
	s := newSplitter(t, fakeProber{src: fiveMinuteSource()}, enc)

	m, err := s.Split(context.Background(), "talk.mp3", "/out",
		plan.Request{Unit: plan.UnitSeconds, Target: 60})
	if err != nil {
		t.Fatalf("Split() unexpected error: %v", err)
	}

	if m.Status != split.StatusComplete {
		t.Errorf("Status = %q, want %q", m.Status, split.StatusComplete)
	}
	if m.SegmentCount != 5 || len(m.Segments) != 5 {
		t.Fatalf("SegmentCount = %d, want 5", m.SegmentCount)
	}
	if len(m.Failures) != 0 {
		t.Errorf("Failures = %v, want none", m.Failures)
	}
	if m.TotalSizeBytes != 5000 {
		t.Errorf("TotalSizeBytes = %d, want 5000", m.TotalSizeBytes)
	}

	// Segments come back in range order regardless of completion order.
	for i, seg := range m.Segments {
		if seg.Range.Index != i {
			t.Errorf("segment %d has range index %d", i, seg.Range.Index)
		}
	}
	want := []string{
		"talk_part01.mp3", "talk_part02.mp3", "talk_part03.mp3",
		"talk_part04.mp3", "talk_part05.mp3",
	}
	files := m.Files()
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("Files()[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestSplit_PartialFailureStillCompletes(t *testing.T) {
	t.Parallel()

	enc := &fakeEncoder{failIdx: map[int]bool{2: true}}
	s := newSplitter(t, fakeProber{src: fiveMinuteSource()}, enc)

	m, err := s.Split(context.Background(), "talk.mp3", "/out",
		plan.Request{Unit: plan.UnitSeconds, Target: 60})
	if err != nil {
		t.Fatalf("Split() unexpected error: %v", err)
	}

	if m.SegmentCount != 4 {
		t.Errorf("SegmentCount = %d, want 4", m.SegmentCount)
	}
	if len(m.Failures) != 1 {
		t.Fatalf("Failures = %d, want 1", len(m.Failures))
	}
	if m.Failures[0].Range.Index != 2 {
		t.Errorf("failed range index = %d, want 2", m.Failures[0].Range.Index)
	}
	if enc.calls != 5 {
		t.Errorf("encoder called %d times, want 5 (failure must not abort siblings)", enc.calls)
	}
}

func TestSplit_AllEncodesFail(t *testing.T) {
	t.Parallel()

	enc := &fakeEncoder{failIdx: map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true}}
	s := newSplitter(t, fakeProber{src: fiveMinuteSource()}, enc)

	_, err := s.Split(context.Background(), "talk.mp3", "/out",
		plan.Request{Unit: plan.UnitSeconds, Target: 60})
	if !errors.Is(err, split.ErrNoSegmentsProduced) {
		t.Fatalf("Split() error = %v, want ErrNoSegmentsProduced", err)
	}
}

func TestSplit_ProbeFailure(t *testing.T) {
	t.Parallel()

	s := newSplitter(t, fakeProber{err: probe.ErrUnreadable}, &fakeEncoder{})

	_, err := s.Split(context.Background(), "missing.mp3", "/out",
		plan.Request{Unit: plan.UnitSeconds, Target: 60})
	if !errors.Is(err, split.ErrProbeFailed) {
		t.Fatalf("Split() error = %v, want ErrProbeFailed", err)
	}
	if !errors.Is(err, probe.ErrUnreadable) {
		t.Fatalf("Split() error = %v, want wrapped probe cause", err)
	}
}

func TestSplit_FileTooShort(t *testing.T) {
	t.Parallel()

	src := fiveMinuteSource()
	src.Duration = 500 * time.Millisecond
	s := newSplitter(t, fakeProber{src: src}, &fakeEncoder{})

	_, err := s.Split(context.Background(), "blip.mp3", "/out",
		plan.Request{Unit: plan.UnitSeconds, Target: 60})
	if !errors.Is(err, split.ErrFileTooShort) {
		t.Fatalf("Split() error = %v, want ErrFileTooShort", err)
	}
}

func TestSplit_InvalidParameters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  plan.Request
	}{
		{name: "zero target", req: plan.Request{Unit: plan.UnitSeconds, Target: 0}},
		{name: "over cap", req: plan.Request{Unit: plan.UnitSeconds, Target: 7200}},
		{name: "bad unit", req: plan.Request{Unit: "minutes", Target: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newSplitter(t, fakeProber{src: fiveMinuteSource()}, &fakeEncoder{})
			_, err := s.Split(context.Background(), "talk.mp3", "/out", tt.req)
			if !errors.Is(err, split.ErrInvalidParameters) {
				t.Fatalf("Split() error = %v, want ErrInvalidParameters", err)
			}
		})
	}
}

func TestSplit_ContextCancellationAbortsJob(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	enc := &fakeEncoder{delay: time.Second}
	s := newSplitter(t, fakeProber{src: fiveMinuteSource()}, enc)

	_, err := s.Split(ctx, "talk.mp3", "/out",
		plan.Request{Unit: plan.UnitSeconds, Target: 60})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Split() error = %v, want context.Canceled", err)
	}
}

func TestSplit_BoundedParallelism(t *testing.T) {
	t.Parallel()

	// Track the peak number of concurrent encodes.
	var mu sync.Mutex
	var active, peak int
	enc := &countingEncoder{onStart: func() {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
	}, onEnd: func() {
		mu.Lock()
		active--
		mu.Unlock()
	}}

	cfg := split.DefaultConfig("/usr/bin/ffmpeg")
	cfg.MaxParallel = 2
	s, err := split.New(cfg,
		split.WithProber(fakeProber{src: fiveMinuteSource()}),
		split.WithEncoder(enc),
		split.WithDirMaker(nopDirMaker{}),
	)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	if _, err := s.Split(context.Background(), "talk.mp3", "/out",
		plan.Request{Unit: plan.UnitSeconds, Target: 30}); err != nil {
		t.Fatalf("Split() unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

// countingEncoder invokes callbacks around each encode.
type countingEncoder struct {
	onStart func()
	onEnd   func()
}

func (c *countingEncoder) Encode(_ context.Context, src probe.SourceAudio, rng plan.Range, outputDir string) (encode.Segment, error) {
	c.onStart()
	time.Sleep(10 * time.Millisecond)
	c.onEnd()
	name := encode.SegmentFilename(encode.SanitizeBaseName(src.Path), rng.Index, "mp3")
	return encode.Segment{Filename: name, SizeBytes: 1, Range: rng}, nil
}
