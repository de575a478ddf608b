package accum

import "errors"

// Sentinel errors for accumulation.
var (
	ErrShape         = errors.New("array shape mismatch")
	ErrFinalized     = errors.New("grid already finalized")
	ErrInvalidSpread = errors.New("invalid spread specification")
)
