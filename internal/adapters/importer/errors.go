package importer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel kinds for import errors.
var (
	ErrShapeMismatch        = errors.New("imported array shape mismatch")
	ErrBoxSizeInconsistency = errors.New("imported box size inconsistent with slice count")
)

// ShapeMismatchError reports an imported array whose dimensions do not fit
// the detector grid or the target slice count.
type ShapeMismatchError struct {
	File string
	Dims []int // offending dimensions
	Want string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("illegal dimensions (%s) in '%s': must be %s", joinDims(e.Dims), e.File, e.Want)
}

func (e *ShapeMismatchError) Unwrap() error { return ErrShapeMismatch }

// BoxSizeInconsistencyError reports box-size expansion that covers more
// slices than the target holds.
type BoxSizeInconsistencyError struct {
	File    string
	Planes  int
	BoxSize int
	Covered int
	Slices  int
}

func (e *BoxSizeInconsistencyError) Error() string {
	return fmt.Sprintf("illegal dimension (%d) for axis 3 in '%s' or wrong box size (%d): covers %d of %d slices",
		e.Planes, e.File, e.BoxSize, e.Covered, e.Slices)
}

func (e *BoxSizeInconsistencyError) Unwrap() error { return ErrBoxSizeInconsistency }

func joinDims(dims []int) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}
