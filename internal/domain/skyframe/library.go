// Package skyframe is a small planar coordinate library: frames with
// attributes, frame sets joining two frames by a mapping, composable affine
// mappings and conversion between registered sky systems.
//
// Sky systems are related by epoch-dependent planar affine models rather than
// spherical astronomy; every system is defined by its transform to ICRS.
package skyframe

import (
	"math"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
)

// Frame domains.
const (
	DomainGrid = "GRID"
	DomainSky  = "SKY"
)

// Built-in sky systems.
const (
	SystemICRS     = "ICRS"
	SystemFK5      = "FK5"
	SystemGalactic = "GALACTIC"
	SystemGAPPT    = "GAPPT"
	SystemAzEl     = "AZEL"
)

const (
	singularTolerance = 1e-12

	// j2000 is the MJD of the J2000.0 epoch.
	j2000 = 51544.5
	// siderealRate is the rate of the local sidereal angle in degrees per day.
	siderealRate = 360.98564736629
	// precessionRate is the general precession in degrees per day.
	precessionRate = 50.29 / 3600 / 365.25
	// siteLatitude is the observatory latitude in degrees.
	siteLatitude = 19.8258
)

// ToICRS returns the 3x3 homogeneous transform from a system to ICRS at an epoch (MJD).
type ToICRS func(epoch float64) *mat.Dense

// Library owns the registered sky systems and tracks live objects.
type Library struct {
	mu      sync.RWMutex
	systems map[string]ToICRS

	live    atomic.Int64
	queries atomic.Int64
}

// NewLibrary returns a library with the built-in systems registered.
func NewLibrary() *Library {
	l := &Library{systems: make(map[string]ToICRS)}
	l.Register(SystemICRS, func(float64) *mat.Dense { return affine(1, 0, 0, 0, 1, 0) })
	l.Register(SystemFK5, func(float64) *mat.Dense { return affine(1, 0, -0.0000058, 0, 1, 0.0000064) })
	l.Register(SystemGalactic, func(float64) *mat.Dense { return rotation(62.8717, 266.4051, -28.9362) })
	l.Register(SystemGAPPT, func(epoch float64) *mat.Dense {
		return affine(1, 0, -precessionRate*(epoch-j2000), 0, 1, 0)
	})
	l.Register(SystemAzEl, func(epoch float64) *mat.Dense {
		lst := math.Mod(siderealRate*(epoch-j2000), 360)
		return rotation(parallactic(epoch), lst, siteLatitude-90)
	})
	return l
}

// Register adds or replaces a sky system.
func (l *Library) Register(system string, toICRS ToICRS) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.systems[system] = toICRS
}

// HasSystem reports whether a sky system is registered.
func (l *Library) HasSystem(system string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.systems[system]
	return ok
}

// Live returns the number of frames, frame sets and mappings not yet annulled.
func (l *Library) Live() int64 { return l.live.Load() }

// Queries returns the number of System attribute reads made through Frame.Get.
func (l *Library) Queries() int64 { return l.queries.Load() }

// Convert returns a frame set whose base frame is a copy of from and whose
// current frame is a copy of to, joined by the mapping between them.
// It returns nil when the two frames cannot be related.
func (l *Library) Convert(from, to *Frame) *FrameSet {
	if from.released.Load() || to.released.Load() {
		return nil
	}
	fa, ta := from.attrs(), to.attrs()
	if fa.domain != ta.domain {
		return nil
	}

	var m *mat.Dense
	switch fa.domain {
	case DomainSky:
		l.mu.RLock()
		src, okSrc := l.systems[fa.system]
		dst, okDst := l.systems[ta.system]
		l.mu.RUnlock()
		if !okSrc || !okDst {
			return nil
		}
		var inv mat.Dense
		if err := inv.Inverse(dst(ta.epoch)); err != nil {
			return nil
		}
		m = &mat.Dense{}
		m.Mul(&inv, src(fa.epoch))
	default:
		m = affine(1, 0, 0, 0, 1, 0)
	}

	return l.NewFrameSet(from.Copy(), to.Copy(), l.newMapping(m))
}

// parallactic is the field rotation in degrees of the horizon system at an epoch.
func parallactic(epoch float64) float64 {
	return 20 * math.Sin(2*math.Pi*(epoch-math.Floor(epoch)))
}

func affine(a, b, c, d, e, f float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{a, b, c, d, e, f, 0, 0, 1})
}

// rotation rotates by deg degrees and then translates by (dx, dy).
func rotation(deg, dx, dy float64) *mat.Dense {
	s, c := math.Sincos(deg * math.Pi / 180)
	return affine(c, -s, dx, s, c, dy)
}
