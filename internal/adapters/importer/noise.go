// Package importer loads externally prepared noise models for input streams.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/okian/skymap/internal/adapters/repository"
	"github.com/okian/skymap/internal/domain/model"
	"github.com/okian/skymap/pkg/logger"
	"github.com/okian/skymap/pkg/metrics"
)

// Import outcomes recorded in metrics.
const (
	OutcomeImported = "imported"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Reader is the part of the container store an import needs.
type Reader interface {
	ReadArray(ctx context.Context, container, component string) (repository.Array, error)
	GetExtension(ctx context.Context, container, ext, key string) (string, error)
}

// Result is an imported noise model laid out like the target model.
type Result struct {
	Data []float64
	// BoxSize is the number of consecutive slices sharing one imported
	// plane; 0 when a single plane serves every slice.
	BoxSize  int
	Imported bool
}

// Noise imports NOI models from <prefix>_noi containers.
type Noise struct {
	store  Reader
	logger logger.Logger
}

// Option configures a Noise importer.
type Option func(*Noise)

// WithLogger sets the importer logger.
func WithLogger(l logger.Logger) Option {
	return func(n *Noise) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNoise returns an importer reading from store.
func NewNoise(store Reader, opts ...Option) *Noise {
	n := &Noise{store: store, logger: logger.Get().Named("importer")}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ContainerName returns the NOI container for a stream container: the name
// up to and including "_con" followed by "_noi".
func ContainerName(name string) string {
	if i := strings.Index(name, "_con"); i >= 0 {
		return name[:i+4] + "_noi"
	}
	return name + "_noi"
}

// Import reads the NOI model for the stream container name and expands it
// to the target model dims. The target is time ordered when its first two
// axes are the detector grid, with slices on the third axis; otherwise it
// is bolometer ordered with slices on the first axis. When requested is
// false nothing is read and Result.Imported is false.
func (n *Noise) Import(ctx context.Context, name string, target [3]int, requested bool) (Result, error) {
	if !requested {
		metrics.RecordNoiseImport(OutcomeSkipped, 0)
		return Result{}, nil
	}
	file := ContainerName(name)
	res, err := n.load(ctx, file, target)
	if err != nil {
		metrics.RecordNoiseImport(OutcomeFailed, 0)
		metrics.RecordErrorByComponent("importer", importErrorKind(err))
		n.logger.Error(ctx, "noise import failed", logger.String("file", file), logger.Error(err))
		return Result{}, fmt.Errorf("import noise values from %s: %w", file, err)
	}
	metrics.RecordNoiseImport(OutcomeImported, res.BoxSize)
	n.logger.Debug(ctx, "noise imported",
		logger.String("file", file),
		logger.Int("box_size", res.BoxSize),
		logger.Int("values", len(res.Data)),
	)
	return res, nil
}

// ImportStream imports the NOI model of st and installs it as the stream
// variance: a single shared plane becomes the per-detector variance, an
// expanded model the time-ordered variance cube.
func (n *Noise) ImportStream(ctx context.Context, st *model.Stream, requested bool) (Result, error) {
	res, err := n.Import(ctx, st.Name, st.Dims(), requested)
	if err != nil || !res.Imported {
		return res, err
	}
	st.Lock()
	defer st.Unlock()
	if len(res.Data) == st.NBolo() {
		st.Bolovar = res.Data
		return res, nil
	}
	if err := st.SetSliceVariance(res.Data); err != nil {
		metrics.RecordErrorByComponent("importer", "shape_mismatch")
		return res, fmt.Errorf("import %s into %s: %w", ContainerName(st.Name), st.Name, err)
	}
	return res, nil
}

func (n *Noise) load(ctx context.Context, file string, target [3]int) (Result, error) {
	timeOrdered := target[0] == model.DetectorRows && target[1] == model.DetectorCols
	slices := target[0]
	if timeOrdered {
		slices = target[2]
	}

	arr, err := n.store.ReadArray(ctx, file, repository.ComponentData)
	if err != nil {
		return Result{}, err
	}
	dims := arr.Dims
	if len(dims) != 3 {
		return Result{}, &ShapeMismatchError{File: file, Dims: dims, Want: "3 dimensions"}
	}
	if dims[0] != model.DetectorRows || dims[1] != model.DetectorCols {
		return Result{}, &ShapeMismatchError{
			File: file,
			Dims: dims[:2],
			Want: fmt.Sprintf("(%d,%d) for axes 1 and 2", model.DetectorRows, model.DetectorCols),
		}
	}
	if slices == 1 && dims[2] > 1 {
		return Result{}, &ShapeMismatchError{File: file, Dims: dims[2:], Want: "1 for axis 3"}
	}

	nbolo := dims[0] * dims[1]
	out := make([]float64, nbolo*slices)
	if slices == 1 {
		copy(out, arr.Data[:nbolo])
		return Result{Data: out, Imported: true}, nil
	}

	raw, err := n.store.GetExtension(ctx, file, repository.ExtSmurf, repository.KeyNoiBoxSize)
	if err != nil {
		return Result{}, err
	}
	box, err := strconv.Atoi(raw)
	if err != nil || box < 0 {
		return Result{}, fmt.Errorf("%s.%s = %q is not a box size", repository.ExtSmurf, repository.KeyNoiBoxSize, raw)
	}

	itime, hi := 0, 0
	for iz := 0; iz < dims[2]; iz++ {
		if iz == dims[2]-1 {
			hi = slices
		} else {
			hi += box
		}
		if hi > slices {
			return Result{}, &BoxSizeInconsistencyError{File: file, Planes: dims[2], BoxSize: box, Covered: hi, Slices: slices}
		}
		plane := arr.Data[iz*nbolo : (iz+1)*nbolo]
		for ; itime < hi; itime++ {
			if timeOrdered {
				copy(out[itime*nbolo:(itime+1)*nbolo], plane)
				continue
			}
			for ibolo, v := range plane {
				out[itime+ibolo*slices] = v
			}
		}
	}
	return Result{Data: out, BoxSize: box, Imported: true}, nil
}

func importErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, ErrBoxSizeInconsistency):
		return "box_size"
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
