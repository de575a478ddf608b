// Package service runs rebin jobs for many streams through the worker pool
// and keeps the reports the HTTP API serves.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	jobqueue "github.com/okian/skymap/internal/adapters/mq/queue"
	workerpool "github.com/okian/skymap/internal/adapters/mq/worker"
	"github.com/okian/skymap/internal/domain/accum"
	"github.com/okian/skymap/internal/domain/dedupe"
	"github.com/okian/skymap/internal/domain/model"
	"github.com/okian/skymap/internal/domain/rebin"
	"github.com/okian/skymap/internal/domain/skyframe"
	"github.com/okian/skymap/internal/domain/types"
	"github.com/okian/skymap/pkg/logger"
	"github.com/okian/skymap/pkg/metrics"
)

// Sentinel kinds for service errors.
var (
	ErrNotStarted      = errors.New("service not started")
	ErrDuplicateStream = errors.New("stream already has a job in flight")
	ErrStopped         = errors.New("service stopped before the job ran")
)

// Request describes one rebin run: every stream is pasted into Sink through
// the shared output frame and sky to pixel mapping.
type Request struct {
	Streams  []*model.Stream
	AbsSky   *skyframe.Frame
	SkyToMap *skyframe.Mapping
	Sink     *accum.Sink
	Moving   bool
}

// Service owns the coordinate library, the job queue and the worker pool.
type Service struct {
	mu sync.RWMutex

	// Core components
	lib        *skyframe.Library
	runner     *rebin.Runner
	claims     dedupe.Claims
	jobQueue   jobqueue.Queue
	workerPool *workerpool.Pool
	cancel     context.CancelFunc
	poolDone   <-chan struct{}

	// Configuration
	workerCount int
	queueSize   int
	dedupeSize  int
	reference   string

	// State
	started bool
	waitMu  sync.Mutex
	waiters map[uuid.UUID]chan<- rebin.Result
	lastRun *types.RunReport
	runs    atomic.Int64
	ok      atomic.Int64
	failed  atomic.Int64
	stripes atomic.Int64

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of concurrent jobs.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of queued jobs.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many in-flight stream names are tracked.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithReferenceSystem sets the horizon system used for moving targets.
func WithReferenceSystem(system string) Option {
	return func(s *Service) {
		if system != "" {
			s.reference = system
		}
	}
}

// WithLibrary sets the coordinate library shared with the caller.
func WithLibrary(lib *skyframe.Library) Option {
	return func(s *Service) {
		if lib != nil {
			s.lib = lib
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount: runtime.NumCPU(),
		queueSize:   1024,
		dedupeSize:  50000,
		waiters:     make(map[uuid.UUID]chan<- rebin.Result),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lib == nil {
		s.lib = skyframe.NewLibrary()
	}
	return s
}

// Library returns the coordinate library jobs run against. Output frames
// and mappings passed to Rebin must come from it.
func (s *Service) Library() *skyframe.Library { return s.lib }

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting rebin service...")

	s.runner = rebin.NewRunner(s.lib,
		rebin.WithReferenceSystem(s.reference),
		rebin.WithLogger(s.logger.Named("rebin")),
	)
	s.claims = dedupe.NewInMemoryClaims(dedupe.WithMaxSize(s.dedupeSize))
	s.jobQueue = jobqueue.NewInMemoryQueue(jobqueue.WithCapacity(s.queueSize))

	poolCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.poolDone = poolCtx.Done()
	s.workerPool = workerpool.NewPool(s.workerCount, s.jobQueue, s.runner, s)
	s.workerPool.Start(poolCtx)

	s.started = true
	s.logger.Info(ctx, "rebin service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop drains queued jobs and shuts the pool down.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping rebin service...")

	if err := s.workerPool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}
	s.cancel()

	s.started = false
	s.logger.Info(ctx, "rebin service stopped")
}

// Rebin runs one job per stream and waits for all of them. Streams that
// already have a job in flight, or appear twice in the request, are
// rejected. The report lists every stream; the error joins the failures.
// Accumulated output of failed jobs stays in the sink.
//
// Jobs run under ctx. Once it is done, queued jobs stop before their first
// slice and running jobs after their current one; Rebin still waits for
// their results, so nothing writes to the sink after it returns.
func (s *Service) Rebin(ctx context.Context, req Request) (types.RunReport, error) {
	s.mu.RLock()
	started := s.started
	poolDone := s.poolDone
	pool := s.workerPool
	s.mu.RUnlock()
	if !started {
		return types.RunReport{}, ErrNotStarted
	}

	if req.Sink != nil {
		s.stripes.Store(int64(req.Sink.Grid().Stripes()))
	}
	report := types.RunReport{RunID: uuid.NewString(), Started: time.Now()}
	s.logger.Info(ctx, "rebin run started",
		logger.String("run_id", report.RunID),
		logger.Int("streams", len(req.Streams)),
		logger.Bool("moving", req.Moving),
	)

	results := make(chan rebin.Result, len(req.Streams))
	pending := make(map[uuid.UUID]string, len(req.Streams))
	requested := make(map[string]bool, len(req.Streams))
	var errs []error

	for _, st := range req.Streams {
		dup := requested[st.Name]
		requested[st.Name] = true
		if dup || s.claims.Claim(ctx, st.Name) {
			err := fmt.Errorf("%w: %s", ErrDuplicateStream, st.Name)
			report.Add(types.StreamReport{Stream: st.Name, Status: types.StatusRejected, Error: err.Error()})
			errs = append(errs, err)
			metrics.RecordErrorByComponent("service", "duplicate_stream")
			continue
		}

		job := rebin.NewJob(st, req.AbsSky, req.SkyToMap, req.Sink, req.Moving).WithContext(ctx)
		s.addWaiter(job.ID, results)
		if err := s.jobQueue.Enqueue(ctx, job); err != nil {
			s.dropWaiter(job.ID)
			s.claims.Release(ctx, st.Name)
			err = fmt.Errorf("enqueue %s: %w", st.Name, err)
			report.Add(types.StreamReport{Stream: st.Name, JobID: job.ID.String(), Status: types.StatusRejected, Error: err.Error()})
			errs = append(errs, err)
			continue
		}
		metrics.RecordJobSubmitted()
		pending[job.ID] = st.Name
	}

	collect := func(res rebin.Result) {
		delete(pending, res.JobID)
		report.Add(streamReport(res))
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("stream %s: %w", res.Stream, res.Err))
		}
	}

	done := ctx.Done()
	for len(pending) > 0 {
		select {
		case res := <-results:
			collect(res)
		case <-done:
			done = nil
			s.logger.Warn(ctx, "rebin run cancelled, waiting for running jobs",
				logger.String("run_id", report.RunID),
				logger.Int("pending", len(pending)),
			)
		case <-poolDone:
			// Workers finish their current slice and report before exiting;
			// whatever is still queued afterwards never runs.
			_ = pool.Wait(context.Background())
			for drained := false; !drained; {
				select {
				case res := <-results:
					collect(res)
				default:
					drained = true
				}
			}
			for id, name := range pending {
				s.dropWaiter(id)
				s.claims.Release(ctx, name)
				report.Add(types.StreamReport{Stream: name, JobID: id.String(), Status: types.StatusCancelled, Error: ErrStopped.Error()})
				errs = append(errs, fmt.Errorf("stream %s: %w", name, ErrStopped))
			}
			pending = nil
		}
	}

	report.Finished = time.Now()
	s.record(report)
	s.logger.Info(ctx, "rebin run finished",
		logger.String("run_id", report.RunID),
		logger.Int("slices", report.Slices),
		logger.Int64("used", report.Used),
		logger.Int("failed", report.Failed),
		logger.Duration("duration", report.Duration()),
	)
	return report, errors.Join(errs...)
}

// Report receives job results from the workers.
func (s *Service) Report(ctx context.Context, res rebin.Result) {
	if res.Err != nil {
		s.failed.Add(1)
	} else {
		s.ok.Add(1)
	}
	s.claims.Release(ctx, res.Stream)

	s.waitMu.Lock()
	ch, ok := s.waiters[res.JobID]
	delete(s.waiters, res.JobID)
	s.waitMu.Unlock()
	if ok {
		ch <- res
	}
}

func (s *Service) addWaiter(id uuid.UUID, ch chan<- rebin.Result) {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	s.waiters[id] = ch
}

func (s *Service) dropWaiter(id uuid.UUID) {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	delete(s.waiters, id)
}

func (s *Service) record(r types.RunReport) {
	s.runs.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = &r
}

func streamReport(res rebin.Result) types.StreamReport {
	sr := types.StreamReport{
		Stream:     res.Stream,
		JobID:      res.JobID.String(),
		Status:     types.StatusOK,
		Slices:     res.Slices,
		Used:       res.Used,
		DurationMs: float64(res.Duration.Microseconds()) / 1000,
	}
	switch {
	case errors.Is(res.Err, context.Canceled), errors.Is(res.Err, context.DeadlineExceeded):
		sr.Status = types.StatusCancelled
		sr.Error = res.Err.Error()
	case res.Err != nil:
		sr.Status = types.StatusFailed
		sr.Error = res.Err.Error()
	}
	return sr
}

// LastRun returns the report of the most recent run.
func (s *Service) LastRun() (types.RunReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastRun == nil {
		return types.RunReport{}, false
	}
	return *s.lastRun, true
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":       s.started,
		"workerCount":   s.workerCount,
		"queueSize":     s.queueSize,
		"dedupeSize":    s.dedupeSize,
		"runs":          s.runs.Load(),
		"jobsCompleted": s.ok.Load(),
		"jobsFailed":    s.failed.Load(),
		"liveObjects":   s.lib.Live(),
		"gridStripes":   s.stripes.Load(),
	}
	if s.started {
		queueLen := s.jobQueue.Len(context.Background())
		stats["queueLength"] = queueLen
		stats["inFlight"] = s.claims.Size()
		metrics.UpdateQueueSize(queueLen)
	}
	return stats
}
