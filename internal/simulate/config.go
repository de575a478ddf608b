// Package simulate writes synthetic scan streams into the container store.
package simulate

import (
	"errors"
	"fmt"

	"github.com/okian/skymap/internal/domain/model"
	"github.com/okian/skymap/internal/domain/skyframe"
)

// ErrInvalidConfig is returned for an unusable simulation setup.
var ErrInvalidConfig = errors.New("invalid simulation config")

// Config describes a synthetic observation of one point source.
type Config struct {
	Streams int
	Rows    int
	Cols    int
	Slices  int
	Workers int

	System     string     // native sky system of the streams
	Center     [2]float64 // ICRS position of the source and scan centre, degrees
	PixelScale float64    // degrees per detector pixel
	Rotation   float64    // focal plane rotation, degrees
	ScanWidth  float64    // full width of the boresight sweep, degrees
	RowStep    float64    // offset between the scan rows of consecutive streams, degrees
	Epoch      float64    // MJD of the first slice
	SliceStep  float64    // days between slices

	SourceAmp  float64
	SourceFWHM float64 // degrees
	Noise      float64 // white noise sigma

	NoiseModel bool // also write a time-ordered noise model per stream
	NoiseBox   int  // slices per noise model plane; 0 picks a quarter of the stream

	Prefix string
	Seed   uint64
}

// DefaultConfig returns a small ICRS observation on the standard detector array.
func DefaultConfig() Config {
	return Config{
		Streams:    4,
		Rows:       model.DetectorRows,
		Cols:       model.DetectorCols,
		Slices:     16,
		Workers:    4,
		System:     skyframe.SystemICRS,
		Center:     [2]float64{83.63, 22.01},
		PixelScale: 0.002,
		ScanWidth:  0.2,
		RowStep:    0.02,
		Epoch:      60000.25,
		SliceStep:  1.0 / 86400 / 5,
		SourceAmp:  10,
		SourceFWHM: 0.004,
		Noise:      0.1,
		Prefix:     "sim_",
		Seed:       1,
	}
}

// Validate checks the config for consistency.
func (c Config) Validate() error {
	switch {
	case c.Streams < 1:
		return fmt.Errorf("%w: streams must be positive, got %d", ErrInvalidConfig, c.Streams)
	case c.Rows < 1 || c.Cols < 1 || c.Slices < 1:
		return fmt.Errorf("%w: dims (%d,%d,%d)", ErrInvalidConfig, c.Rows, c.Cols, c.Slices)
	case !(c.PixelScale > 0):
		return fmt.Errorf("%w: pixel scale must be positive", ErrInvalidConfig)
	case !(c.SourceFWHM > 0):
		return fmt.Errorf("%w: source FWHM must be positive", ErrInvalidConfig)
	case c.Noise < 0:
		return fmt.Errorf("%w: noise must not be negative", ErrInvalidConfig)
	case c.NoiseBox < 0:
		return fmt.Errorf("%w: noise box size must not be negative", ErrInvalidConfig)
	case c.NoiseModel && (c.Rows != model.DetectorRows || c.Cols != model.DetectorCols):
		return fmt.Errorf("%w: noise models need a (%d,%d) array", ErrInvalidConfig, model.DetectorRows, model.DetectorCols)
	case c.NoiseModel && !(c.Noise > 0):
		return fmt.Errorf("%w: noise models need a positive noise", ErrInvalidConfig)
	}
	return nil
}

// noiseBox returns the box size used for the noise model planes.
func (c Config) noiseBox() int {
	if c.NoiseBox > 0 {
		return c.NoiseBox
	}
	return max(1, c.Slices/4)
}

// noisePlanes returns how many planes cover the stream at the box size.
func (c Config) noisePlanes() int {
	box := c.noiseBox()
	return (c.Slices + box - 1) / box
}
