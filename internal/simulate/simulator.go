package simulate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/skymap/internal/adapters/importer"
	"github.com/okian/skymap/internal/adapters/repository"
	"github.com/okian/skymap/internal/domain/model"
	"github.com/okian/skymap/internal/domain/skyframe"
	"github.com/okian/skymap/pkg/logger"
)

// KeyRunID is the SKYMAP extension item naming the simulation run.
const KeyRunID = "RUN_ID"

// Store is the part of the container store the simulator writes to.
type Store interface {
	Create(ctx context.Context, name, kind string) error
	WriteArray(ctx context.Context, container, component string, a repository.Array) error
	SetExtension(ctx context.Context, container, ext, key, value string) error
	SaveStream(ctx context.Context, st *model.Stream) error
}

// Summary describes what Write stored.
type Summary struct {
	RunID       string
	Streams     []string
	NoiseModels []string
	Samples     int64
	Duration    time.Duration
}

// Simulator generates synthetic streams.
type Simulator struct {
	cfg    Config
	lib    *skyframe.Library
	logger logger.Logger
}

// Option applies a configuration option to the Simulator.
type Option func(*Simulator)

// WithConfig replaces the default config.
func WithConfig(cfg Config) Option {
	return func(s *Simulator) { s.cfg = cfg }
}

// WithLibrary sets the coordinate library used to place detectors.
func WithLibrary(lib *skyframe.Library) Option {
	return func(s *Simulator) {
		if lib != nil {
			s.lib = lib
		}
	}
}

// WithLogger sets the simulator logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a simulator using DefaultConfig unless overridden.
func New(opts ...Option) *Simulator {
	s := &Simulator{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(s)
	}
	if s.lib == nil {
		s.lib = skyframe.NewLibrary()
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("simulate")
	}
	return s
}

// Config returns the effective config.
func (s *Simulator) Config() Config { return s.cfg }

// Write generates the observation and stores every stream, plus a noise
// model container per stream when configured.
func (s *Simulator) Write(ctx context.Context, store Store) (Summary, error) {
	start := time.Now()
	streams, err := s.Generate(ctx)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{RunID: uuid.NewString()}
	for _, st := range streams {
		if err := store.SaveStream(ctx, st); err != nil {
			return sum, fmt.Errorf("save stream %s: %w", st.Name, err)
		}
		if err := store.SetExtension(ctx, st.Name, repository.ExtSkymap, KeyRunID, sum.RunID); err != nil {
			return sum, fmt.Errorf("tag stream %s: %w", st.Name, err)
		}
		sum.Streams = append(sum.Streams, st.Name)
		sum.Samples += int64(st.Len())

		if !s.cfg.NoiseModel {
			continue
		}
		name, err := s.writeNoiseModel(ctx, store, st)
		if err != nil {
			return sum, fmt.Errorf("write noise model for %s: %w", st.Name, err)
		}
		sum.NoiseModels = append(sum.NoiseModels, name)
	}
	sum.Duration = time.Since(start)

	s.logger.Info(ctx, "simulation written",
		logger.String("run_id", sum.RunID),
		logger.Int("streams", len(sum.Streams)),
		logger.Int("noise_models", len(sum.NoiseModels)),
		logger.Int64("samples", sum.Samples),
		logger.Duration("duration", sum.Duration),
	)
	return sum, nil
}

// writeNoiseModel stores a time-ordered variance model whose planes drift
// slowly, each covering noiseBox slices.
func (s *Simulator) writeNoiseModel(ctx context.Context, store Store, st *model.Stream) (string, error) {
	name := importer.ContainerName(st.Name)
	planes := s.cfg.noisePlanes()
	nbolo := st.NBolo()
	base := s.cfg.Noise * s.cfg.Noise

	values := make([]float64, nbolo*planes)
	for iz := 0; iz < planes; iz++ {
		v := base * (1 + 0.1*float64(iz))
		for b := 0; b < nbolo; b++ {
			values[iz*nbolo+b] = v
		}
	}

	if err := store.Create(ctx, name, repository.KindNoise); err != nil {
		return "", err
	}
	arr := repository.Array{Dims: []int{s.cfg.Rows, s.cfg.Cols, planes}, Data: values}
	if err := store.WriteArray(ctx, name, repository.ComponentData, arr); err != nil {
		return "", err
	}
	box := fmt.Sprint(s.cfg.noiseBox())
	if err := store.SetExtension(ctx, name, repository.ExtSmurf, repository.KeyNoiBoxSize, box); err != nil {
		return "", err
	}
	return name, nil
}
