package slicemap

import (
	"errors"
	"fmt"
)

// ErrIncompatibleFrame is wrapped by IncompatibleFrameError.
var ErrIncompatibleFrame = errors.New("incompatible coordinate frames")

// IncompatibleFrameError reports a time slice whose sky system cannot be
// related to the output sky system. It is fatal for the stream.
type IncompatibleFrameError struct {
	Stream string
	Slice  int
	From   string
	To     string
}

// Error implements the error interface.
func (e *IncompatibleFrameError) Error() string {
	return fmt.Sprintf("%s: stream %s slice %d: cannot convert %s to %s",
		ErrIncompatibleFrame, e.Stream, e.Slice, e.From, e.To)
}

// Unwrap returns ErrIncompatibleFrame.
func (e *IncompatibleFrameError) Unwrap() error { return ErrIncompatibleFrame }
