// Package worker runs queued rebin jobs on a pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/skymap/internal/domain/accum"
	"github.com/okian/skymap/internal/domain/model"
	"github.com/okian/skymap/internal/domain/rebin"
	"github.com/okian/skymap/internal/domain/slicemap"
	"github.com/okian/skymap/pkg/logger"
	"github.com/okian/skymap/pkg/metrics"
)

// Default worker configuration constants.
const (
	metricsUpdateInterval = 5 * time.Second
	workerShutdownTimeout = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Runner executes one job to completion.
type Runner interface {
	Run(ctx context.Context, job *rebin.Job) rebin.Result
}

// Reporter receives the result of every job a worker runs.
type Reporter interface {
	Report(ctx context.Context, res rebin.Result)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan *rebin.Job
}

// Worker runs jobs from a queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue is drained.
	Run(ctx context.Context)

	// Shutdown stops the worker after the job in progress.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker. It runs one job at a time.
type InMemoryWorker struct {
	queue    Queue
	runner   Runner
	reporter Reporter
	name     string

	shutdown chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, runner Runner, reporter Reporter, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		runner:   runner,
		reporter: reporter,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.processJob(ctx, job)
		}
	}
}

func (w *InMemoryWorker) stop() {
	w.stopOnce.Do(func() { close(w.shutdown) })
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stop()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processJob runs a single job and reports its result.
func (w *InMemoryWorker) processJob(ctx context.Context, job *rebin.Job) {
	metrics.WorkerBusy(1)
	defer metrics.WorkerBusy(-1)

	res := w.runner.Run(ctx, job)
	ms := float64(res.Duration.Microseconds()) / 1000
	metrics.RecordWorkerProcessingLatency(ms)

	if res.Err != nil {
		kind := ErrorKind(res.Err)
		metrics.RecordJobFailed(ms)
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", kind)
		metrics.RecordErrorByType(kind, "high")
		w.logger.Warn(ctx, "job aborted",
			logger.String("job_id", job.ID.String()),
			logger.String("stream", res.Stream),
			logger.String("kind", kind),
			logger.Error(res.Err),
		)
	} else {
		metrics.RecordJobCompleted(ms)
	}

	if w.reporter != nil {
		w.reporter.Report(ctx, res)
	}
}

// ErrorKind classifies a job error for metrics labels.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, rebin.ErrMissingData):
		return "missing_data"
	case errors.Is(err, slicemap.ErrIncompatibleFrame):
		return "incompatible_frame"
	case errors.Is(err, accum.ErrShape), errors.Is(err, model.ErrShape):
		return "shape_mismatch"
	case errors.Is(err, accum.ErrFinalized):
		return "finalized"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

// Pool manages multiple workers.
type Pool struct {
	workers  []*InMemoryWorker
	queue    Queue
	shutdown chan struct{}
	stopOnce sync.Once
	logger   logger.Logger
}

// NewPool creates a pool of workerCount workers; a count below 1 means one
// worker per CPU.
func NewPool(workerCount int, queue Queue, runner Runner, reporter Reporter) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    queue,
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(queue, runner, reporter, WithName("worker-"+strconv.Itoa(i)))
	}

	metrics.UpdateWorkerActiveCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

// startMetricsUpdater periodically refreshes the system metrics.
func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	var lastGC uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			lastGC = updateSystemMetrics(lastGC)
		}
	}
}

// updateSystemMetrics records memory, goroutine and the latest GC pause and
// returns the GC count seen.
func updateSystemMetrics(lastGC uint32) uint32 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	metrics.UpdateSystemMemoryUsage(ms.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if ms.NumGC > lastGC {
		metrics.RecordSystemGCPauseTime(float64(ms.PauseNs[(ms.NumGC+255)%256]) / 1e6)
	}
	return ms.NumGC
}

// Wait blocks until every worker has exited or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	for _, worker := range p.workers {
		select {
		case <-worker.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pool) signal() {
	p.stopOnce.Do(func() {
		close(p.shutdown)
		for _, worker := range p.workers {
			worker.stop()
		}
	})
}

// Stop signals all workers and waits briefly for each.
func (p *Pool) Stop() {
	p.signal()
	for _, worker := range p.workers {
		select {
		case <-worker.done:
		case <-time.After(workerShutdownTimeout):
		}
	}
}

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	if err := p.Wait(shutdownCtx); err != nil {
		p.logger.Warn(ctx, "worker shutdown timed out", logger.Error(err))
	}
	p.signal()
	return nil
}
