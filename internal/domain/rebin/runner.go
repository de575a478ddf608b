package rebin

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/skymap/internal/domain/accum"
	"github.com/okian/skymap/internal/domain/coordcache"
	"github.com/okian/skymap/internal/domain/skyframe"
	"github.com/okian/skymap/internal/domain/slicemap"
	"github.com/okian/skymap/pkg/logger"
	"github.com/okian/skymap/pkg/metrics"
)

// Runner executes jobs. One Runner may run many jobs concurrently.
type Runner struct {
	lib       *skyframe.Library
	mapper    *slicemap.Mapper
	reference string
	logger    logger.Logger
}

// NewRunner creates a runner over the coordinate library lib.
func NewRunner(lib *skyframe.Library, opts ...Option) *Runner {
	r := &Runner{
		lib:       lib,
		mapper:    slicemap.New(lib),
		reference: coordcache.DefaultReference,
		logger:    logger.Get().Named("rebin"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run pastes every slice of job.Stream into job.Sink in time order. The
// first error aborts the job; slices already pasted stay in the grid.
func (r *Runner) Run(ctx context.Context, job *Job) Result {
	start := time.Now()
	res := Result{JobID: job.ID, Stream: job.Stream.Name}
	res.Err = r.run(ctx, job, &res)
	res.Duration = time.Since(start)

	metrics.UpdateCoordinateLiveObjects(r.lib.Live())
	if res.Err != nil {
		r.logger.Error(ctx, "rebin job failed",
			logger.String("job_id", job.ID.String()),
			logger.String("stream", res.Stream),
			logger.Int("slices", res.Slices),
			logger.Error(res.Err),
		)
		return res
	}
	r.logger.Debug(ctx, "rebin job finished",
		logger.String("job_id", job.ID.String()),
		logger.String("stream", res.Stream),
		logger.Int("slices", res.Slices),
		logger.Int64("used", res.Used),
		logger.Duration("took", res.Duration),
	)
	return res
}

func (r *Runner) run(ctx context.Context, job *Job, res *Result) error {
	job.AbsSky.Lock()
	defer job.AbsSky.Unlock()
	job.SkyToMap.Lock()
	defer job.SkyToMap.Unlock()

	stream := job.Stream
	stream.Lock()
	defer stream.Unlock()

	data := stream.Data()
	if data == nil {
		return &MissingDataError{Stream: stream.Name}
	}

	dims := stream.Dims()
	nbol := dims[0] * dims[1]
	lbnd, ubnd := [2]int{1, 1}, [2]int{dims[0], dims[1]}
	cache := coordcache.New(r.reference)

	for i := 0; i < dims[2]; i++ {
		if err := job.stopped(ctx); err != nil {
			return fmt.Errorf("stream %s stopped before slice %d: %w", stream.Name, i, err)
		}
		t0 := time.Now()
		used, err := r.slice(job, cache, i, data[i*nbol:(i+1)*nbol:(i+1)*nbol], lbnd, ubnd)
		if err != nil {
			return err
		}
		res.Slices++
		res.Used += int64(used)
		metrics.RecordSlice(float64(time.Since(t0).Microseconds())/1000, used)
	}
	return nil
}

func (r *Runner) slice(job *Job, cache *coordcache.Cache, i int, values []float64, lbnd, ubnd [2]int) (int, error) {
	variance, err := job.Stream.SliceVarianceAt(i)
	if err != nil {
		return 0, fmt.Errorf("stream %s slice %d: %w", job.Stream.Name, i, err)
	}
	m, err := r.mapper.Mapping(job.Stream, cache, i, job.AbsSky, job.SkyToMap, job.Moving)
	if err != nil {
		return 0, err
	}
	defer m.Annul()

	used, err := job.Sink.Accumulate(m, accum.Input{
		Values:   values,
		Variance: variance,
		Lbnd:     lbnd,
		Ubnd:     ubnd,
	})
	if err != nil {
		return 0, fmt.Errorf("stream %s slice %d: %w", job.Stream.Name, i, err)
	}
	return used, nil
}
