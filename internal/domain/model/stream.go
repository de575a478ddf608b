// Package model contains the stream data model passed between layers.
package model

import (
	"fmt"
	"math"
	"sync"

	"github.com/okian/skymap/internal/domain/skyframe"
)

// Detector array geometry.
const (
	DetectorRows = 32 // first data axis
	DetectorCols = 40 // second data axis
)

// FocalPlane places detector pixels on the sky relative to the boresight.
type FocalPlane struct {
	PixelScale float64 // degrees per detector pixel
	Rotation   float64 // degrees, counter-clockwise
	RefCol     float64 // grid x coordinate of the boresight
	RefRow     float64 // grid y coordinate of the boresight
}

// State is the telescope state recorded for one time slice.
type State struct {
	Epoch float64 // MJD
	Ac1   float64 // boresight longitude in the native system, degrees
	Ac2   float64 // boresight latitude in the native system, degrees
	AzBc1 float64 // base position azimuth, degrees
	AzBc2 float64 // base position elevation, degrees
}

// Header describes how a stream maps onto the sky.
type Header struct {
	System     string
	FocalPlane FocalPlane
	States     []State
}

// Stream is one time-ordered detector data array, shape [dim0, dim1, nslice]
// with the first axis varying fastest.
type Stream struct {
	Name   string
	Header Header

	// Bolovar is the per-detector variance shared by every slice; may be nil.
	Bolovar []float64
	// SliceVariance is a time-ordered variance cube with the shape of the data; may be nil.
	SliceVariance []float64

	mu   sync.Mutex
	dims [3]int
	data []float64
}

// NewStream validates the shape of data and header against dims.
// data may be nil for a stream whose samples have not been loaded.
func NewStream(name string, dims [3]int, data []float64, header Header) (*Stream, error) {
	for _, d := range dims {
		if d < 1 {
			return nil, fmt.Errorf("%w: stream %s has dims %v", ErrShape, name, dims)
		}
	}
	n := dims[0] * dims[1] * dims[2]
	if data != nil && len(data) != n {
		return nil, fmt.Errorf("%w: stream %s has %d samples, dims %v need %d", ErrShape, name, len(data), dims, n)
	}
	if len(header.States) != dims[2] {
		return nil, fmt.Errorf("%w: stream %s has %d states for %d slices", ErrShape, name, len(header.States), dims[2])
	}
	return &Stream{Name: name, Header: header, dims: dims, data: data}, nil
}

// Lock acquires exclusive access to the stream.
func (s *Stream) Lock() { s.mu.Lock() }

// Unlock releases the stream.
func (s *Stream) Unlock() { s.mu.Unlock() }

// Data returns the sample array, nil when it has not been loaded.
func (s *Stream) Data() []float64 { return s.data }

// SetData replaces the sample array.
func (s *Stream) SetData(data []float64) error {
	if data != nil && len(data) != s.Len() {
		return fmt.Errorf("%w: %d samples for dims %v", ErrShape, len(data), s.dims)
	}
	s.data = data
	return nil
}

// Dims returns the array dimensions.
func (s *Stream) Dims() [3]int { return s.dims }

// NBolo returns the number of detectors.
func (s *Stream) NBolo() int { return s.dims[0] * s.dims[1] }

// NSlice returns the number of time slices.
func (s *Stream) NSlice() int { return s.dims[2] }

// Len returns the total number of samples.
func (s *Stream) Len() int { return s.NBolo() * s.NSlice() }

// SetSliceVariance replaces the time-ordered variance cube; nil removes it.
func (s *Stream) SetSliceVariance(v []float64) error {
	if v != nil && len(v) != s.Len() {
		return fmt.Errorf("%w: stream %s has %d variance values for dims %v", ErrShape, s.Name, len(v), s.dims)
	}
	s.SliceVariance = v
	return nil
}

// SliceVarianceAt returns the variance for slice i: the time-ordered cube
// when present, otherwise the per-detector variance.
func (s *Stream) SliceVarianceAt(i int) ([]float64, error) {
	if i < 0 || i >= s.NSlice() {
		return nil, fmt.Errorf("%w: %d of %d", ErrSlice, i, s.NSlice())
	}
	if s.SliceVariance == nil {
		return s.Bolovar, nil
	}
	if len(s.SliceVariance) != s.Len() {
		return nil, fmt.Errorf("%w: stream %s has %d variance values for dims %v", ErrShape, s.Name, len(s.SliceVariance), s.dims)
	}
	nbol := s.NBolo()
	lo, hi := i*nbol, (i+1)*nbol
	return s.SliceVariance[lo:hi:hi], nil
}

// SliceWCS returns a frame set for slice i with a GRID base frame and a sky
// current frame in the native system at the slice epoch. The caller owns it.
func (s *Stream) SliceWCS(lib *skyframe.Library, i int) (*skyframe.FrameSet, error) {
	if i < 0 || i >= len(s.Header.States) {
		return nil, fmt.Errorf("%w: %d of %d in stream %s", ErrSlice, i, len(s.Header.States), s.Name)
	}
	st := s.Header.States[i]
	fp := s.Header.FocalPlane

	sin, cos := math.Sincos(fp.Rotation * math.Pi / 180)
	a, b := fp.PixelScale*cos, -fp.PixelScale*sin
	d, e := fp.PixelScale*sin, fp.PixelScale*cos

	return lib.NewFrameSet(
		lib.NewGridFrame(),
		lib.NewSkyFrame(s.Header.System, st.Epoch),
		lib.NewAffine(a, b, st.Ac1-a*fp.RefCol-b*fp.RefRow, d, e, st.Ac2-d*fp.RefCol-e*fp.RefRow),
	), nil
}
