// Package accum holds the shared output grid and the spreading-kernel
// accumulation of time slices into it.
package accum

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/okian/skymap/pkg/metrics"
)

const stripesPerCPU = 4

// Grid is the shared output map over the inclusive pixel bounds [Lbnd, Ubnd].
//
// The grid is split into horizontal stripes of rows, each guarded by its own
// mutex. Buffers change only through Sink.Accumulate and Finalize.
type Grid struct {
	lbnd, ubnd    [2]int
	nx, ny        int
	rowsPerStripe int
	stripeCount   int
	stripes       []sync.Mutex
	genVariance   bool

	data     []float64
	variance []float64
	weights  []float64
	sumsq    []float64
	sumw2    []float64

	nused     atomic.Int64
	finalized atomic.Bool
}

// Option configures a Grid.
type Option func(*Grid)

// WithStripeCount sets the number of row stripes. It is capped at the number of rows.
func WithStripeCount(n int) Option {
	return func(g *Grid) {
		if n > 0 {
			g.stripeCount = n
		}
	}
}

// WithGenVariance allocates the work buffers needed by the GenVariance flag.
func WithGenVariance() Option {
	return func(g *Grid) {
		g.genVariance = true
	}
}

// NewGrid allocates a zeroed grid.
func NewGrid(lbnd, ubnd [2]int, opts ...Option) (*Grid, error) {
	nx, ny := ubnd[0]-lbnd[0]+1, ubnd[1]-lbnd[1]+1
	if nx < 1 || ny < 1 {
		return nil, fmt.Errorf("%w: bounds %v..%v", ErrShape, lbnd, ubnd)
	}
	g := &Grid{
		lbnd:        lbnd,
		ubnd:        ubnd,
		nx:          nx,
		ny:          ny,
		stripeCount: runtime.NumCPU() * stripesPerCPU,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.stripeCount > ny {
		g.stripeCount = ny
	}
	g.rowsPerStripe = (ny + g.stripeCount - 1) / g.stripeCount
	g.stripeCount = (ny + g.rowsPerStripe - 1) / g.rowsPerStripe
	g.stripes = make([]sync.Mutex, g.stripeCount)

	n := nx * ny
	g.data = make([]float64, n)
	g.variance = make([]float64, n)
	g.weights = make([]float64, n)
	if g.genVariance {
		g.sumsq = make([]float64, n)
		g.sumw2 = make([]float64, n)
	}

	metrics.UpdateGridShape(g.stripeCount, n)
	return g, nil
}

// Lbnd returns the lower pixel bounds.
func (g *Grid) Lbnd() [2]int { return g.lbnd }

// Ubnd returns the upper pixel bounds.
func (g *Grid) Ubnd() [2]int { return g.ubnd }

// Dims returns the number of pixels along each axis.
func (g *Grid) Dims() (nx, ny int) { return g.nx, g.ny }

// Stripes returns the number of lock stripes.
func (g *Grid) Stripes() int { return g.stripeCount }

// NUsed returns the number of samples that have contributed so far.
func (g *Grid) NUsed() int64 { return g.nused.Load() }

// index returns the buffer offset of pixel (ix, iy) and whether it is inside the grid.
func (g *Grid) index(ix, iy int) (int, bool) {
	x, y := ix-g.lbnd[0], iy-g.lbnd[1]
	if x < 0 || y < 0 || x >= g.nx || y >= g.ny {
		return 0, false
	}
	return y*g.nx + x, true
}

func (g *Grid) stripeOf(idx int) int {
	return idx / g.nx / g.rowsPerStripe
}

func (g *Grid) lockAll() {
	for i := range g.stripes {
		g.stripes[i].Lock()
	}
}

func (g *Grid) unlockAll() {
	for i := len(g.stripes) - 1; i >= 0; i-- {
		g.stripes[i].Unlock()
	}
}

// Finalize normalises the accumulated sums into map values and variances.
// Pixels whose total weight is zero or below spec.WeightLimit become Bad.
func (g *Grid) Finalize(spec SpreadSpec) error {
	if spec.Flags.Has(GenVariance) && !g.genVariance {
		return fmt.Errorf("%w: GenVariance needs a grid built WithGenVariance", ErrShape)
	}
	g.lockAll()
	defer g.unlockAll()
	if !g.finalized.CompareAndSwap(false, true) {
		return ErrFinalized
	}

	for i, w := range g.weights {
		if w == 0 || math.Abs(w) < spec.WeightLimit {
			g.data[i] = Bad
			g.variance[i] = Bad
			continue
		}
		g.data[i] /= w

		switch {
		case spec.Flags.Has(UseVariance):
			g.variance[i] /= w * w
		case spec.Flags.Has(GenVariance):
			g.variance[i] = generatedVariance(g.data[i], w, g.sumsq[i], g.sumw2[i])
		default:
			g.variance[i] = Bad
		}
	}
	return nil
}

// generatedVariance is the variance of a weighted mean estimated from the
// scatter of the contributing values.
func generatedVariance(mean, sumw, sumsq, sumw2 float64) float64 {
	denom := sumw*sumw - sumw2
	if denom <= 0 {
		return Bad
	}
	scatter := sumsq/sumw - mean*mean
	if scatter < 0 {
		scatter = 0
	}
	return scatter * sumw2 / denom
}

// Finalized reports whether Finalize has run.
func (g *Grid) Finalized() bool { return g.finalized.Load() }
