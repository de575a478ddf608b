package rebin

import (
	"errors"
	"fmt"
)

// ErrMissingData is wrapped by MissingDataError.
var ErrMissingData = errors.New("stream has no data")

// MissingDataError reports a job whose stream samples were never loaded.
type MissingDataError struct {
	Stream string
}

// Error implements the error interface.
func (e *MissingDataError) Error() string {
	return fmt.Sprintf("%s: stream %s", ErrMissingData, e.Stream)
}

// Unwrap returns ErrMissingData.
func (e *MissingDataError) Unwrap() error { return ErrMissingData }
