package skyframe

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
)

// Mapping is a planar affine transform held as a 3x3 homogeneous matrix.
//
// Lock/Unlock bracket a usage window and may be held by any number of
// readers at once. Annul releases the mapping; further transforms fail with
// ErrReleased.
type Mapping struct {
	lib      *Library
	m        *mat.Dense
	lock     sync.RWMutex
	released atomic.Bool
}

func (l *Library) newMapping(m *mat.Dense) *Mapping {
	l.live.Add(1)
	return &Mapping{lib: l, m: m}
}

// NewAffine returns the mapping x' = a*x + b*y + c, y' = d*x + e*y + f.
func (l *Library) NewAffine(a, b, c, d, e, f float64) *Mapping {
	return l.newMapping(mat.NewDense(3, 3, []float64{
		a, b, c,
		d, e, f,
		0, 0, 1,
	}))
}

// NewShift returns a pure translation by (dx, dy).
func (l *Library) NewShift(dx, dy float64) *Mapping {
	return l.NewAffine(1, 0, dx, 0, 1, dy)
}

// NewUnit returns the identity mapping.
func (l *Library) NewUnit() *Mapping {
	return l.NewAffine(1, 0, 0, 0, 1, 0)
}

// Compose returns a new mapping that applies first and then second.
// Neither argument is consumed.
func (l *Library) Compose(first, second *Mapping) (*Mapping, error) {
	if first.released.Load() || second.released.Load() {
		return nil, ErrReleased
	}
	var out mat.Dense
	out.Mul(second.m, first.m)
	return l.newMapping(&out), nil
}

// Transform maps the points (x[i], y[i]) and returns the results in new slices.
func (m *Mapping) Transform(x, y []float64) (xo, yo []float64, err error) {
	if m.released.Load() {
		return nil, nil, ErrReleased
	}
	if len(x) != len(y) {
		return nil, nil, fmt.Errorf("%w: %d x values, %d y values", ErrLength, len(x), len(y))
	}
	n := len(x)
	if n == 0 {
		return []float64{}, []float64{}, nil
	}

	in := mat.NewDense(3, n, nil)
	in.SetRow(0, x)
	in.SetRow(1, y)
	for i := 0; i < n; i++ {
		in.Set(2, i, 1)
	}

	var out mat.Dense
	out.Mul(m.m, in)

	xo = make([]float64, n)
	yo = make([]float64, n)
	mat.Row(xo, 0, &out)
	mat.Row(yo, 1, &out)
	return xo, yo, nil
}

// TransformPoint maps a single point.
func (m *Mapping) TransformPoint(x, y float64) (float64, float64, error) {
	xo, yo, err := m.Transform([]float64{x}, []float64{y})
	if err != nil {
		return 0, 0, err
	}
	return xo[0], yo[0], nil
}

// Invert returns a new mapping implementing the inverse transform.
func (m *Mapping) Invert() (*Mapping, error) {
	if m.released.Load() {
		return nil, ErrReleased
	}
	if math.Abs(mat.Det(m.m)) < singularTolerance {
		return nil, ErrSingular
	}
	var inv mat.Dense
	if err := inv.Inverse(m.m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSingular, err)
	}
	return m.lib.newMapping(&inv), nil
}

// Copy returns an independent copy of the mapping.
func (m *Mapping) Copy() (*Mapping, error) {
	if m.released.Load() {
		return nil, ErrReleased
	}
	return m.lib.newMapping(mat.DenseCopyOf(m.m)), nil
}

// Lock acquires a shared lock for the caller's usage window.
func (m *Mapping) Lock() { m.lock.RLock() }

// Unlock releases a lock taken with Lock.
func (m *Mapping) Unlock() { m.lock.RUnlock() }

// Annul releases the mapping. Calling it more than once is a no-op.
func (m *Mapping) Annul() {
	if m.released.CompareAndSwap(false, true) {
		m.lib.live.Add(-1)
	}
}
