package plan

import "errors"

// ErrInvalidRequest indicates the split request fails policy validation.
var ErrInvalidRequest = errors.New("invalid split request")

// ErrNoViableSegments indicates every computed range fell below the minimum
// segment floor (e.g. target size larger than a very short file).
var ErrNoViableSegments = errors.New("no viable segments")
