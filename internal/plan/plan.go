// Package plan computes the ordered list of time ranges an audio file is
// split into. Planning is a pure function of the source description, the
// user's request, and the policy limits; it performs no I/O.
package plan

import (
	"fmt"
	"math"
	"time"

	"github.com/alnah/go-audiosplit/internal/format"
	"github.com/alnah/go-audiosplit/internal/probe"
)

// Unit selects how the target value is interpreted.
type Unit string

const (
	// UnitSeconds targets a fixed duration per segment.
	UnitSeconds Unit = "seconds"

	// UnitMegabytes targets an approximate data size per segment.
	UnitMegabytes Unit = "megabytes"
)

// ParseUnit converts a user-supplied string to a Unit.
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case UnitSeconds:
		return UnitSeconds, nil
	case UnitMegabytes:
		return UnitMegabytes, nil
	default:
		return "", fmt.Errorf("%w: unknown unit %q", ErrInvalidRequest, s)
	}
}

// Policy caps on the target value.
const (
	// MaxTargetSeconds caps time-based segments at one hour.
	MaxTargetSeconds = 3600

	// MaxTargetMegabytes caps size-based segments at 100MB.
	MaxTargetMegabytes = 100
)

// Request captures the user's split intent.
type Request struct {
	Unit   Unit // Seconds or megabytes.
	Target int  // Positive target value in the request's unit.
}

// Validate checks the request against policy limits.
func (r Request) Validate() error {
	if r.Target <= 0 {
		return fmt.Errorf("%w: target must be positive, got %d", ErrInvalidRequest, r.Target)
	}
	switch r.Unit {
	case UnitSeconds:
		if r.Target > MaxTargetSeconds {
			return fmt.Errorf("%w: target %ds exceeds maximum %ds", ErrInvalidRequest, r.Target, MaxTargetSeconds)
		}
	case UnitMegabytes:
		if r.Target > MaxTargetMegabytes {
			return fmt.Errorf("%w: target %dMB exceeds maximum %dMB", ErrInvalidRequest, r.Target, MaxTargetMegabytes)
		}
	default:
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidRequest, r.Unit)
	}
	return nil
}

// Range is one planned segment: [Start, End) within the source audio.
type Range struct {
	Index int           // Zero-based position in the plan.
	Start time.Duration // Inclusive start timestamp.
	End   time.Duration // Exclusive end timestamp.
}

// Duration returns the length of this range.
func (r Range) Duration() time.Duration {
	return r.End - r.Start
}

// String returns a human-readable representation for logging.
func (r Range) String() string {
	return fmt.Sprintf("range %d: %s-%s",
		r.Index, format.Duration(r.Start), format.Duration(r.End))
}

// Limits are the policy knobs applied while planning. They are passed in
// explicitly rather than read from the environment.
type Limits struct {
	// MinSegment is the floor below which a computed range is discarded.
	MinSegment time.Duration

	// SizeFloor is the minimum segment length derived from size math,
	// guarding against degenerate tiny segments from bitrate estimation.
	SizeFloor time.Duration

	// LargeFileBytes is the source size above which the segment count cap
	// applies.
	LargeFileBytes int64

	// LargeFileMaxSegments caps the segment count for large inputs to bound
	// processing time. This trades boundary precision for throughput.
	LargeFileMaxSegments int

	// SizeSafetyMargin shrinks size-derived segment lengths so segments do
	// not exceed the target due to bitrate estimation error.
	SizeSafetyMargin float64
}

// DefaultLimits returns the standard planning policy.
func DefaultLimits() Limits {
	return Limits{
		MinSegment:           1 * time.Second,
		SizeFloor:            5 * time.Second,
		LargeFileBytes:       30 * 1024 * 1024,
		LargeFileMaxSegments: 6,
		SizeSafetyMargin:     0.92,
	}
}

// Plan is the computed segmentation: ordered, contiguous, non-overlapping
// ranges with millisecond-integer boundaries.
type Plan struct {
	Ranges []Range

	// SegmentLength is the nominal per-segment length the ranges were
	// derived from, after capping and redistribution.
	SegmentLength time.Duration
}

// Compute derives a Plan from the probed source and the request.
//
// Size-based targets are converted to a duration using the source bitrate
// (falling back to observed bytes-per-millisecond) with a safety margin.
// Very large inputs are capped to a small segment count and the length is
// redistributed evenly so no short trailing remainder is produced. Ranges
// shorter than the minimum floor are dropped rather than emitted; if that
// drops everything, ErrNoViableSegments is returned.
func Compute(src probe.SourceAudio, req Request, lim Limits) (Plan, error) {
	if err := req.Validate(); err != nil {
		return Plan{}, err
	}

	totalMs := src.Duration.Milliseconds()
	if totalMs <= 0 {
		return Plan{}, fmt.Errorf("%w: source duration is zero", ErrNoViableSegments)
	}

	segmentMs := nominalSegmentMs(src, req, lim)

	numSegments := int(math.Ceil(float64(totalMs) / segmentMs))
	if numSegments < 1 {
		numSegments = 1
	}

	// Cap segment count for very large inputs to bound processing time.
	if src.SizeBytes > lim.LargeFileBytes && numSegments > lim.LargeFileMaxSegments {
		numSegments = lim.LargeFileMaxSegments
		segmentMs = float64(totalMs) / float64(numSegments)
	}

	// Redistribute evenly so the trailing segment is not a short remainder.
	// Skipped when the even length would fall below the drop floor: in that
	// case nominal boundaries keep at least the leading full segments viable.
	if even := float64(totalMs) / float64(numSegments); even >= float64(lim.MinSegment.Milliseconds()) {
		segmentMs = even
	}

	minMs := lim.MinSegment.Milliseconds()
	ranges := make([]Range, 0, numSegments)
	for i := 0; i < numSegments; i++ {
		// Each boundary is computed from i*segmentMs directly so no
		// sub-millisecond drift accumulates across segments.
		startMs := int64(math.Round(float64(i) * segmentMs))
		endMs := int64(math.Round(float64(i+1) * segmentMs))
		if endMs > totalMs || i == numSegments-1 {
			endMs = totalMs
		}

		if endMs-startMs < minMs {
			continue
		}

		ranges = append(ranges, Range{
			Index: i,
			Start: time.Duration(startMs) * time.Millisecond,
			End:   time.Duration(endMs) * time.Millisecond,
		})
	}

	if len(ranges) == 0 {
		return Plan{}, fmt.Errorf("%w: total duration %s below minimum segment %s",
			ErrNoViableSegments, format.Duration(src.Duration), format.Duration(lim.MinSegment))
	}

	return Plan{
		Ranges:        ranges,
		SegmentLength: time.Duration(segmentMs) * time.Millisecond,
	}, nil
}

// nominalSegmentMs converts the request target into milliseconds.
func nominalSegmentMs(src probe.SourceAudio, req Request, lim Limits) float64 {
	if req.Unit == UnitSeconds {
		return float64(req.Target) * 1000
	}

	// Size unit: estimate how many milliseconds fit in the target megabytes.
	targetBits := float64(req.Target) * 8 * 1024 * 1024
	var segmentMs float64
	if src.BitrateBPS > 0 {
		segmentMs = targetBits / float64(src.BitrateBPS) * 1000
	} else {
		// Bitrate unknown: derive bytes-per-millisecond from the file itself.
		bytesPerMs := float64(src.SizeBytes) / float64(src.Duration.Milliseconds())
		segmentMs = float64(req.Target) * 1024 * 1024 / bytesPerMs
	}
	segmentMs *= lim.SizeSafetyMargin

	// Clamp the size math to a sane floor.
	if floor := float64(lim.SizeFloor.Milliseconds()); segmentMs < floor {
		segmentMs = floor
	}
	return segmentMs
}
