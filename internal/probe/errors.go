package probe

import "errors"

// ErrUnreadable indicates the file cannot be opened or has no audio stream.
var ErrUnreadable = errors.New("audio file unreadable")

// ErrZeroDuration indicates the file's duration resolved to zero.
var ErrZeroDuration = errors.New("audio duration is zero")
