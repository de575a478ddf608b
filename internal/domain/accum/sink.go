package accum

import (
	"fmt"
	"math"
	"time"

	"github.com/okian/skymap/internal/domain/scratch"
	"github.com/okian/skymap/pkg/metrics"
)

// Transformer maps grid coordinates of input samples to output pixel coordinates.
type Transformer interface {
	Transform(x, y []float64) (xo, yo []float64, err error)
}

// Input is one time slice of samples over the inclusive input pixel bounds
// [Lbnd, Ubnd], first axis fastest. Variance may be nil.
type Input struct {
	Values   []float64
	Variance []float64
	Lbnd     [2]int
	Ubnd     [2]int
}

type contribution struct {
	idx   int
	value float64 // value * w
	w     float64
	vw2   float64 // variance * w * w
	sq    float64 // value * value * w
	w2    float64 // w * w
}

// Sink accumulates time slices into a Grid. A Sink is safe for concurrent
// use by many jobs.
type Sink struct {
	grid   *Grid
	spec   SpreadSpec
	kernel kernel
	reach  float64
}

// NewSink validates spec against grid.
func NewSink(grid *Grid, spec SpreadSpec) (*Sink, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.Flags.Has(GenVariance) && !grid.genVariance {
		return nil, fmt.Errorf("%w: GenVariance needs a grid built WithGenVariance", ErrShape)
	}
	reach := 1.0
	if spec.Scheme == Sinc || spec.Scheme == Gauss {
		reach = spec.param(0, defaultHalfWidth) + 1
	}
	return &Sink{grid: grid, spec: spec, kernel: spec.kernel(), reach: reach}, nil
}

// Grid returns the grid the sink writes to.
func (s *Sink) Grid() *Grid { return s.grid }

// Spec returns the spread specification.
func (s *Sink) Spec() SpreadSpec { return s.spec }

// Accumulate spreads the samples of one time slice into the grid and returns
// the number of samples that reached at least one output pixel. Bad samples
// are skipped; when the flags need a variance, samples without a good
// positive variance are skipped too.
//
// Contributions are computed without locks and then added under the locks of
// the stripes they touch, so concurrent calls from different jobs are safe.
// A grid finalized while the slice was being computed receives nothing and
// the call returns ErrFinalized.
func (s *Sink) Accumulate(mapping Transformer, in Input) (int, error) {
	nx, ny := in.Ubnd[0]-in.Lbnd[0]+1, in.Ubnd[1]-in.Lbnd[1]+1
	n := nx * ny
	if nx < 1 || ny < 1 || len(in.Values) != n {
		return 0, fmt.Errorf("%w: %d values for input bounds %v..%v", ErrShape, len(in.Values), in.Lbnd, in.Ubnd)
	}
	if in.Variance != nil && len(in.Variance) != n {
		return 0, fmt.Errorf("%w: %d variances for %d values", ErrShape, len(in.Variance), n)
	}
	if s.grid.finalized.Load() {
		return 0, ErrFinalized
	}

	xs, ys := scratch.Get(n), scratch.Get(n)
	defer scratch.Put(xs)
	defer scratch.Put(ys)
	for k := range xs {
		xs[k] = float64(in.Lbnd[0] + k%nx)
		ys[k] = float64(in.Lbnd[1] + k/nx)
	}
	px, py, err := mapping.Transform(xs, ys)
	if err != nil {
		return 0, fmt.Errorf("transform samples: %w", err)
	}

	start := time.Now()
	buckets, used := s.gather(in, px, py)
	wait, err := s.apply(buckets, used)
	if err != nil {
		return 0, err
	}
	metrics.RecordGridAccumulate(float64(time.Since(start).Microseconds())/1000, float64(wait.Microseconds())/1000)
	return used, nil
}

// gather computes the contributions of every usable sample, bucketed by stripe.
func (s *Sink) gather(in Input, px, py []float64) ([][]contribution, int) {
	g := s.grid
	lox, hix := float64(g.lbnd[0])-s.reach, float64(g.ubnd[0])+s.reach
	loy, hiy := float64(g.lbnd[1])-s.reach, float64(g.ubnd[1])+s.reach
	needVar := s.spec.needsVariance()
	varWeight := s.spec.Flags.Has(VarWeight)
	genVar := s.spec.Flags.Has(GenVariance)

	buckets := make([][]contribution, len(g.stripes))
	used := 0
	for k, v := range in.Values {
		if v == Bad || math.IsNaN(v) {
			continue
		}
		x, y := px[k], py[k]
		if !(x >= lox && x <= hix && y >= loy && y <= hiy) {
			continue
		}
		vr := 0.0
		if needVar {
			if in.Variance == nil {
				continue
			}
			vr = in.Variance[k]
			if vr == Bad || !(vr > 0) {
				continue
			}
		}
		scale := 1.0
		if varWeight {
			scale = 1 / vr
		}

		hit := false
		s.kernel(x, y, func(ix, iy int, w float64) {
			idx, ok := g.index(ix, iy)
			if !ok {
				return
			}
			w *= scale
			c := contribution{idx: idx, value: v * w, w: w}
			if needVar {
				c.vw2 = vr * w * w
			}
			if genVar {
				c.sq = v * v * w
				c.w2 = w * w
			}
			st := g.stripeOf(idx)
			buckets[st] = append(buckets[st], c)
			hit = true
		})
		if hit {
			used++
		}
	}
	return buckets, used
}

// apply adds contributions to the grid and counts used samples. It takes the
// locks of every touched stripe in ascending order, the order Finalize uses,
// and checks the finalized flag while holding them. It returns the time spent
// waiting for locks.
func (s *Sink) apply(buckets [][]contribution, used int) (time.Duration, error) {
	g := s.grid
	useVar := s.spec.Flags.Has(UseVariance)
	genVar := s.spec.Flags.Has(GenVariance)

	t0 := time.Now()
	for st, b := range buckets {
		if len(b) > 0 {
			g.stripes[st].Lock()
		}
	}
	wait := time.Since(t0)
	defer func() {
		for st := len(buckets) - 1; st >= 0; st-- {
			if len(buckets[st]) > 0 {
				g.stripes[st].Unlock()
			}
		}
	}()

	if g.finalized.Load() {
		return wait, ErrFinalized
	}
	for _, b := range buckets {
		for _, c := range b {
			g.data[c.idx] += c.value
			g.weights[c.idx] += c.w
			if useVar {
				g.variance[c.idx] += c.vw2
			}
			if genVar {
				g.sumsq[c.idx] += c.sq
				g.sumw2[c.idx] += c.w2
			}
		}
	}
	g.nused.Add(int64(used))
	return wait, nil
}
