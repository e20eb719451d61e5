package encode

import "errors"

// ErrAllStrategiesFailed indicates every rung of the encoding ladder failed
// for one segment. This is the only unrecoverable per-segment error; the
// wrapped error carries the per-rung causes.
var ErrAllStrategiesFailed = errors.New("all encoding strategies failed")

// ErrEmptyOutput indicates an encode attempt completed without error but
// produced an empty file.
var ErrEmptyOutput = errors.New("encoder produced empty output")
