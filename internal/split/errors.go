package split

import "errors"

// ErrInvalidParameters indicates the split request failed validation.
var ErrInvalidParameters = errors.New("invalid split parameters")

// ErrProbeFailed indicates the source file could not be probed.
var ErrProbeFailed = errors.New("probe failed")

// ErrFileTooShort indicates planning produced no viable segments: the file
// is too short to split at the requested target.
var ErrFileTooShort = errors.New("file too short to split")

// ErrNoSegmentsProduced indicates planning succeeded but every segment
// encode failed. Distinct from ErrFileTooShort.
var ErrNoSegmentsProduced = errors.New("no segments produced")
