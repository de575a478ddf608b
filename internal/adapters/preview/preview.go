// Package preview renders a finished output map as a PNG heatmap.
package preview

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/okian/skymap/internal/domain/accum"
	"github.com/okian/skymap/pkg/logger"
	"github.com/okian/skymap/pkg/metrics"
)

// Sentinel kinds for preview errors.
var (
	ErrNoGoodPixels = errors.New("map has no good pixels")
	ErrUnknownPlane = errors.New("unknown map plane")
)

// Plane selects which buffer of the map is drawn.
type Plane int

const (
	PlaneData Plane = iota
	PlaneVariance
	PlaneWeights
)

func (p Plane) String() string {
	switch p {
	case PlaneVariance:
		return "variance"
	case PlaneWeights:
		return "weights"
	default:
		return "data"
	}
}

// ParsePlane returns the plane named by name: data, variance or weights.
func ParsePlane(name string) (Plane, error) {
	for _, p := range []Plane{PlaneData, PlaneVariance, PlaneWeights} {
		if strings.EqualFold(name, p.String()) {
			return p, nil
		}
	}
	return PlaneData, fmt.Errorf("%w: %q", ErrUnknownPlane, name)
}

// Renderer draws snapshots.
type Renderer struct {
	title  string
	width  vg.Length
	height vg.Length
	colors int
	plane  Plane
	logger logger.Logger
}

// Option applies a configuration option to the Renderer.
type Option func(*Renderer)

// WithTitle sets the plot title.
func WithTitle(title string) Option {
	return func(r *Renderer) { r.title = title }
}

// WithSize sets the image size in inches.
func WithSize(width, height float64) Option {
	return func(r *Renderer) {
		if width > 0 && height > 0 {
			r.width = vg.Length(width) * vg.Inch
			r.height = vg.Length(height) * vg.Inch
		}
	}
}

// WithColors sets the number of palette entries.
func WithColors(n int) Option {
	return func(r *Renderer) {
		if n > 1 {
			r.colors = n
		}
	}
}

// WithPlane selects the buffer to draw.
func WithPlane(p Plane) Option {
	return func(r *Renderer) { r.plane = p }
}

// WithLogger sets the renderer logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns a renderer drawing 8x8 inch data heatmaps.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		title:  "skymap",
		width:  8 * vg.Inch,
		height: 8 * vg.Inch,
		colors: 255,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get().Named("preview")
	}
	return r
}

// grid exposes a snapshot plane as plotter.GridXYZ. Bad and zero weight
// pixels are NaN.
type grid struct {
	snap  accum.Snapshot
	plane Plane
	nx    int
	ny    int
}

func newGrid(snap accum.Snapshot, plane Plane) *grid {
	return &grid{
		snap:  snap,
		plane: plane,
		nx:    snap.Ubnd[0] - snap.Lbnd[0] + 1,
		ny:    snap.Ubnd[1] - snap.Lbnd[1] + 1,
	}
}

func (g *grid) Dims() (c, r int) { return g.nx, g.ny }

func (g *grid) Z(c, r int) float64 {
	i := r*g.nx + c
	if g.snap.Weights[i] == 0 {
		return math.NaN()
	}
	var v float64
	switch g.plane {
	case PlaneVariance:
		v = g.snap.Variance[i]
	case PlaneWeights:
		v = g.snap.Weights[i]
	default:
		v = g.snap.Data[i]
	}
	if v == accum.Bad {
		return math.NaN()
	}
	return v
}

func (g *grid) X(c int) float64 { return float64(g.snap.Lbnd[0] + c) }

func (g *grid) Y(r int) float64 { return float64(g.snap.Lbnd[1] + r) }

// span returns the range of the good values.
func (g *grid) span() (lo, hi float64, good int) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for r := 0; r < g.ny; r++ {
		for c := 0; c < g.nx; c++ {
			v := g.Z(c, r)
			if math.IsNaN(v) {
				continue
			}
			lo, hi = math.Min(lo, v), math.Max(hi, v)
			good++
		}
	}
	return lo, hi, good
}

// Render writes the heatmap of snap to path. The image format follows the
// file extension.
func (r *Renderer) Render(ctx context.Context, snap accum.Snapshot, path string) error {
	g := newGrid(snap, r.plane)
	if n := g.nx * g.ny; g.nx <= 0 || g.ny <= 0 || len(snap.Data) != n || len(snap.Weights) != n || len(snap.Variance) != n {
		metrics.RecordErrorByComponent("preview", "shape")
		return fmt.Errorf("render %s: %w", path, accum.ErrShape)
	}
	lo, hi, good := g.span()
	if good == 0 {
		metrics.RecordErrorByComponent("preview", "empty")
		return fmt.Errorf("render %s: %w", path, ErrNoGoodPixels)
	}
	if lo == hi {
		hi = lo + 1
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (%s)", r.title, r.plane)
	p.X.Label.Text = "pixel x"
	p.Y.Label.Text = "pixel y"

	h := plotter.NewHeatMap(g, palette.Heat(r.colors, 1))
	h.Min, h.Max = lo, hi
	h.NaN = color.Transparent
	p.Add(h)

	if err := p.Save(r.width, r.height, path); err != nil {
		metrics.RecordErrorByComponent("preview", "save")
		return fmt.Errorf("render %s: %w", path, err)
	}
	r.logger.Info(ctx, "preview written",
		logger.String("path", filepath.Clean(path)),
		logger.String("plane", r.plane.String()),
		logger.Int("good", good),
		logger.Float64("min", lo),
		logger.Float64("max", hi),
	)
	return nil
}
