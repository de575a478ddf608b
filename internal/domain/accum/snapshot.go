package accum

import "gonum.org/v1/gonum/floats"

// Snapshot is a consistent copy of a grid.
type Snapshot struct {
	Lbnd      [2]int
	Ubnd      [2]int
	Data      []float64
	Variance  []float64
	Weights   []float64
	NUsed     int64
	Finalized bool
}

// Snapshot copies all buffers while holding every stripe lock.
func (g *Grid) Snapshot() Snapshot {
	g.lockAll()
	defer g.unlockAll()
	return Snapshot{
		Lbnd:      g.lbnd,
		Ubnd:      g.ubnd,
		Data:      append([]float64(nil), g.data...),
		Variance:  append([]float64(nil), g.variance...),
		Weights:   append([]float64(nil), g.weights...),
		NUsed:     g.nused.Load(),
		Finalized: g.finalized.Load(),
	}
}

// At returns the value, variance and weight of pixel (ix, iy); ok is false
// outside the bounds.
func (s Snapshot) At(ix, iy int) (value, variance, weight float64, ok bool) {
	nx := s.Ubnd[0] - s.Lbnd[0] + 1
	x, y := ix-s.Lbnd[0], iy-s.Lbnd[1]
	if x < 0 || y < 0 || x >= nx || y > s.Ubnd[1]-s.Lbnd[1] {
		return 0, 0, 0, false
	}
	i := y*nx + x
	return s.Data[i], s.Variance[i], s.Weights[i], true
}

// Stats summarises the good pixels of a snapshot.
type Stats struct {
	Good int
	Sum  float64
	Min  float64
	Max  float64
	Mean float64
}

// Stats returns statistics over data values that are not Bad and have a
// non-zero weight.
func (s Snapshot) Stats() Stats {
	good := make([]float64, 0, len(s.Data))
	for i, v := range s.Data {
		if v != Bad && s.Weights[i] != 0 {
			good = append(good, v)
		}
	}
	if len(good) == 0 {
		return Stats{}
	}
	sum := floats.Sum(good)
	return Stats{
		Good: len(good),
		Sum:  sum,
		Min:  floats.Min(good),
		Max:  floats.Max(good),
		Mean: sum / float64(len(good)),
	}
}
