package accum

import (
	"fmt"
	"math"
	"strings"
)

// Bad marks a missing sample or output pixel.
const Bad = -math.MaxFloat64

// Scheme selects the spreading kernel.
type Scheme int

// Spreading kernels.
const (
	Nearest Scheme = iota
	Linear
	Sinc
	Gauss
)

const (
	defaultHalfWidth = 2.0
	defaultFWHM      = 1.0
	maxHalfWidth     = 31
)

var schemeNames = map[Scheme]string{ //nolint:gochecknoglobals // lookup table
	Nearest: "nearest",
	Linear:  "linear",
	Sinc:    "sinc",
	Gauss:   "gauss",
}

func (s Scheme) String() string {
	if n, ok := schemeNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Scheme(%d)", int(s))
}

// ParseScheme parses a kernel name, ignoring case.
func ParseScheme(name string) (Scheme, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for s, v := range schemeNames {
		if v == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown scheme %q", ErrInvalidSpread, name)
}

// Flags control how variances take part in accumulation.
type Flags uint8

// Accumulation flags.
const (
	// UseVariance accumulates input variances into the output variance.
	UseVariance Flags = 1 << iota
	// VarWeight weights each sample by the inverse of its variance.
	VarWeight
	// GenVariance derives output variances from the spread of input values.
	GenVariance
)

// Has reports whether all bits of f are set.
func (fl Flags) Has(f Flags) bool { return fl&f == f }

// SpreadSpec describes how samples are spread onto output pixels. It does
// not change during a run.
type SpreadSpec struct {
	Scheme Scheme
	// Params are kernel parameters: Sinc uses [half-width]; Gauss uses
	// [half-width, fwhm]. Missing values take defaults.
	Params      []float64
	Flags       Flags
	WeightLimit float64
}

// Validate checks the kernel parameters.
func (s SpreadSpec) Validate() error {
	if _, ok := schemeNames[s.Scheme]; !ok {
		return fmt.Errorf("%w: scheme %d", ErrInvalidSpread, int(s.Scheme))
	}
	if s.WeightLimit < 0 {
		return fmt.Errorf("%w: negative weight limit %g", ErrInvalidSpread, s.WeightLimit)
	}
	if s.Flags.Has(UseVariance) && s.Flags.Has(GenVariance) {
		return fmt.Errorf("%w: UseVariance and GenVariance are exclusive", ErrInvalidSpread)
	}
	hw := s.param(0, defaultHalfWidth)
	if (s.Scheme == Sinc || s.Scheme == Gauss) && (hw <= 0 || hw > maxHalfWidth) {
		return fmt.Errorf("%w: half-width %g outside (0, %d]", ErrInvalidSpread, hw, maxHalfWidth)
	}
	if s.Scheme == Gauss && s.param(1, defaultFWHM) <= 0 {
		return fmt.Errorf("%w: non-positive fwhm", ErrInvalidSpread)
	}
	return nil
}

func (s SpreadSpec) needsVariance() bool {
	return s.Flags&(UseVariance|VarWeight) != 0
}

func (s SpreadSpec) param(i int, def float64) float64 {
	if i < len(s.Params) && s.Params[i] != 0 {
		return s.Params[i]
	}
	return def
}

// kernel calls emit for every pixel (ix, iy) receiving a non-zero weight
// from a sample at (x, y).
type kernel func(x, y float64, emit func(ix, iy int, w float64))

func (s SpreadSpec) kernel() kernel {
	switch s.Scheme {
	case Linear:
		return linear
	case Sinc:
		return separable(s.param(0, defaultHalfWidth), func(d float64) float64 {
			if d == 0 {
				return 1
			}
			return math.Sin(math.Pi*d) / (math.Pi * d)
		})
	case Gauss:
		fwhm := s.param(1, defaultFWHM)
		k := 4 * math.Ln2 / (fwhm * fwhm)
		return separable(s.param(0, defaultHalfWidth), func(d float64) float64 {
			return math.Exp(-k * d * d)
		})
	default:
		return nearest
	}
}

func nearest(x, y float64, emit func(ix, iy int, w float64)) {
	emit(int(math.Floor(x+0.5)), int(math.Floor(y+0.5)), 1)
}

func linear(x, y float64, emit func(ix, iy int, w float64)) {
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := x-x0, y-y0
	ix, iy := int(x0), int(y0)
	wx := [2]float64{1 - fx, fx}
	wy := [2]float64{1 - fy, fy}
	for j := 0; j < 2; j++ {
		for i := 0; i < 2; i++ {
			if w := wx[i] * wy[j]; w != 0 {
				emit(ix+i, iy+j, w)
			}
		}
	}
}

func separable(halfWidth float64, f func(d float64) float64) kernel {
	return func(x, y float64, emit func(ix, iy int, w float64)) {
		var wx, wy [2*maxHalfWidth + 2]float64
		x0, x1 := int(math.Ceil(x-halfWidth)), int(math.Floor(x+halfWidth))
		y0, y1 := int(math.Ceil(y-halfWidth)), int(math.Floor(y+halfWidth))
		for i := x0; i <= x1; i++ {
			wx[i-x0] = f(float64(i) - x)
		}
		for j := y0; j <= y1; j++ {
			wy[j-y0] = f(float64(j) - y)
		}
		for j := y0; j <= y1; j++ {
			for i := x0; i <= x1; i++ {
				if w := wx[i-x0] * wy[j-y0]; w != 0 {
					emit(i, j, w)
				}
			}
		}
	}
}
