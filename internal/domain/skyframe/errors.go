package skyframe

import "errors"

// Sentinel errors returned by the coordinate library.
var (
	ErrSingular         = errors.New("mapping is not invertible")
	ErrReleased         = errors.New("object has been released")
	ErrUnknownAttribute = errors.New("unknown frame attribute")
	ErrLength           = errors.New("coordinate arrays differ in length")
	ErrFrameIndex       = errors.New("frame index out of range")
)
