package simulate

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/okian/skymap/internal/domain/model"
	"github.com/okian/skymap/internal/domain/skyframe"
	"github.com/okian/skymap/pkg/logger"
)

// fwhmToSigma converts a Gaussian full width at half maximum to sigma.
const fwhmToSigma = 2.3548200450309493

// Generate builds every stream of the observation in memory. Streams are
// generated concurrently; the result is deterministic for a given seed.
func (s *Simulator) Generate(ctx context.Context) ([]*model.Stream, error) {
	cfg := s.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "generating streams",
		logger.Int("streams", cfg.Streams),
		logger.Int("slices", cfg.Slices),
		logger.String("system", cfg.System),
	)

	type streamResult struct {
		index  int
		stream *model.Stream
		err    error
	}

	resultChan := make(chan streamResult, cfg.Streams)
	workerCount := min(max(cfg.Workers, 1), cfg.Streams)
	perWorker := cfg.Streams / workerCount

	for worker := 0; worker < workerCount; worker++ {
		start := worker * perWorker
		end := start + perWorker
		if worker == workerCount-1 {
			end = cfg.Streams
		}

		go func(start, end int) {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					resultChan <- streamResult{index: i, err: err}
					continue
				}
				st, err := s.generateStream(i)
				resultChan <- streamResult{index: i, stream: st, err: err}
			}
		}(start, end)
	}

	streams := make([]*model.Stream, cfg.Streams)
	var firstErr error
	for i := 0; i < cfg.Streams; i++ {
		res := <-resultChan
		if res.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("generate stream %d: %w", res.index, res.err)
		}
		streams[res.index] = res.stream
	}
	if firstErr != nil {
		return nil, firstErr
	}

	s.logger.Info(ctx, "generated streams", logger.Int("count", len(streams)))
	return streams, nil
}

// StreamName returns the container name of stream k.
func (s *Simulator) StreamName(k int) string {
	return fmt.Sprintf("%s%04d_con", s.cfg.Prefix, k+1)
}

func (s *Simulator) generateStream(k int) (*model.Stream, error) {
	cfg := s.cfg
	nbolo := cfg.Rows * cfg.Cols

	states, err := s.scan(k)
	if err != nil {
		return nil, err
	}
	header := model.Header{
		System: cfg.System,
		FocalPlane: model.FocalPlane{
			PixelScale: cfg.PixelScale,
			Rotation:   cfg.Rotation,
			RefCol:     float64(cfg.Rows+1) / 2,
			RefRow:     float64(cfg.Cols+1) / 2,
		},
		States: states,
	}
	data := make([]float64, nbolo*cfg.Slices)
	st, err := model.NewStream(s.StreamName(k), [3]int{cfg.Rows, cfg.Cols, cfg.Slices}, data, header)
	if err != nil {
		return nil, err
	}

	gx := make([]float64, nbolo)
	gy := make([]float64, nbolo)
	for i := range gx {
		gx[i] = float64(i%cfg.Rows + 1)
		gy[i] = float64(i/cfg.Rows + 1)
	}
	sigma := cfg.SourceFWHM / fwhmToSigma
	for i := 0; i < cfg.Slices; i++ {
		ra, dec, err := s.detectorPositions(st, i, gx, gy)
		if err != nil {
			return nil, err
		}
		plane := data[i*nbolo : (i+1)*nbolo : (i+1)*nbolo]
		for b := range plane {
			dx, dy := ra[b]-cfg.Center[0], dec[b]-cfg.Center[1]
			plane[b] = cfg.SourceAmp * math.Exp(-0.5*(dx*dx+dy*dy)/(sigma*sigma))
		}
	}

	if cfg.Noise > 0 {
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(k)))
		gauss := make([]float64, len(data))
		for i := range gauss {
			gauss[i] = rng.NormFloat64()
		}
		floats.AddScaled(data, cfg.Noise, gauss)

		st.Bolovar = make([]float64, nbolo)
		for i := range st.Bolovar {
			st.Bolovar[i] = cfg.Noise * cfg.Noise
		}
	}
	return st, nil
}

// scan returns the telescope states of stream k: a linear sweep across the
// source along the first axis, offset by k scan rows along the second,
// alternating direction between streams.
func (s *Simulator) scan(k int) ([]model.State, error) {
	cfg := s.cfg
	offset := (float64(k) - float64(cfg.Streams-1)/2) * cfg.RowStep
	states := make([]model.State, cfg.Slices)
	for i := range states {
		t := 0.5
		if cfg.Slices > 1 {
			t = float64(i) / float64(cfg.Slices-1)
		}
		if k%2 == 1 {
			t = 1 - t
		}
		ra := cfg.Center[0] + (t-0.5)*cfg.ScanWidth
		dec := cfg.Center[1] + offset
		epoch := cfg.Epoch + float64(i)*cfg.SliceStep

		ac1, ac2, err := s.fromICRS(cfg.System, epoch, ra, dec)
		if err != nil {
			return nil, err
		}
		az, el, err := s.fromICRS(skyframe.SystemAzEl, epoch, ra, dec)
		if err != nil {
			return nil, err
		}
		states[i] = model.State{Epoch: epoch, Ac1: ac1, Ac2: ac2, AzBc1: az, AzBc2: el}
	}
	return states, nil
}

// fromICRS converts one ICRS position into system at epoch.
func (s *Simulator) fromICRS(system string, epoch, x, y float64) (float64, float64, error) {
	m, err := s.conversion(skyframe.SystemICRS, system, epoch)
	if err != nil {
		return 0, 0, err
	}
	defer m.Annul()
	return m.TransformPoint(x, y)
}

// conversion returns the mapping from one sky system to another at epoch.
// The caller annuls it.
func (s *Simulator) conversion(from, to string, epoch float64) (*skyframe.Mapping, error) {
	src := s.lib.NewSkyFrame(from, epoch)
	defer src.Annul()
	dst := s.lib.NewSkyFrame(to, epoch)
	defer dst.Annul()

	fs := s.lib.Convert(src, dst)
	if fs == nil {
		return nil, fmt.Errorf("%w: no conversion from %s to %s", ErrInvalidConfig, from, to)
	}
	defer fs.Annul()
	return fs.GetMapping(skyframe.Base, skyframe.Current)
}

// detectorPositions returns the ICRS positions of every detector in slice i.
func (s *Simulator) detectorPositions(st *model.Stream, i int, gx, gy []float64) ([]float64, []float64, error) {
	wcs, err := st.SliceWCS(s.lib, i)
	if err != nil {
		return nil, nil, err
	}
	defer wcs.Annul()
	toSky, err := wcs.GetMapping(skyframe.Base, skyframe.Current)
	if err != nil {
		return nil, nil, err
	}
	defer toSky.Annul()
	toICRS, err := s.conversion(st.Header.System, skyframe.SystemICRS, st.Header.States[i].Epoch)
	if err != nil {
		return nil, nil, err
	}
	defer toICRS.Annul()

	nx, ny, err := toSky.Transform(gx, gy)
	if err != nil {
		return nil, nil, err
	}
	return toICRS.Transform(nx, ny)
}
