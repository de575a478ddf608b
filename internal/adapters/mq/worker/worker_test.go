package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/skymap/internal/adapters/mq/queue"
	worker "github.com/okian/skymap/internal/adapters/mq/worker"
	"github.com/okian/skymap/internal/domain/accum"
	"github.com/okian/skymap/internal/domain/model"
	"github.com/okian/skymap/internal/domain/rebin"
	"github.com/okian/skymap/internal/domain/slicemap"
	logging "github.com/okian/skymap/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing.
type mockQueue struct {
	jobs chan *rebin.Job
}

func newMockQueue() *mockQueue {
	return &mockQueue{jobs: make(chan *rebin.Job, 10)}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan *rebin.Job { return mq.jobs }

func (mq *mockQueue) Close() error {
	close(mq.jobs)
	return nil
}

type mockRunner struct {
	mu     sync.Mutex
	errors map[string]error
	delay  time.Duration
	active int
	peak   int
}

func newMockRunner() *mockRunner {
	return &mockRunner{errors: make(map[string]error)}
}

func (mr *mockRunner) Run(ctx context.Context, job *rebin.Job) rebin.Result {
	mr.mu.Lock()
	mr.active++
	if mr.active > mr.peak {
		mr.peak = mr.active
	}
	err := mr.errors[job.Stream.Name]
	delay := mr.delay
	mr.mu.Unlock()

	time.Sleep(delay)

	mr.mu.Lock()
	mr.active--
	mr.mu.Unlock()
	return rebin.Result{JobID: job.ID, Stream: job.Stream.Name, Slices: 3, Used: 12, Duration: delay, Err: err}
}

func (mr *mockRunner) setError(stream string, err error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.errors[stream] = err
}

type mockReporter struct {
	mu      sync.Mutex
	results map[string]rebin.Result
}

func newMockReporter() *mockReporter {
	return &mockReporter{results: make(map[string]rebin.Result)}
}

func (mr *mockReporter) Report(ctx context.Context, res rebin.Result) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.results[res.Stream] = res
}

func (mr *mockReporter) get(stream string) (rebin.Result, bool) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	res, ok := mr.results[stream]
	return res, ok
}

func (mr *mockReporter) count() int {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return len(mr.results)
}

func job(name string) *rebin.Job {
	return rebin.NewJob(&model.Stream{Name: name}, nil, nil, nil, false)
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		runner := newMockRunner()
		reporter := newMockReporter()

		convey.Convey("When creating a worker with custom options", func() {
			w := worker.NewInMemoryWorker(q, runner, reporter,
				worker.WithName("test-worker"),
				worker.WithLogger(logging.Named("test")),
			)

			convey.Convey("Then it should be created successfully", func() {
				convey.So(w, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When running a worker", func() {
			w := worker.NewInMemoryWorker(q, runner, reporter)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			convey.Convey("And when a job succeeds", func() {
				q.jobs <- job("s8a_0001")
				time.Sleep(50 * time.Millisecond)

				convey.Convey("Then its result is reported", func() {
					res, ok := reporter.get("s8a_0001")
					convey.So(ok, convey.ShouldBeTrue)
					convey.So(res.Err, convey.ShouldBeNil)
					convey.So(res.Slices, convey.ShouldEqual, 3)
				})
			})

			convey.Convey("And when a job fails", func() {
				runner.setError("s8a_0002", &rebin.MissingDataError{Stream: "s8a_0002"})
				q.jobs <- job("s8a_0002")
				q.jobs <- job("s8a_0003")
				time.Sleep(50 * time.Millisecond)

				convey.Convey("Then the failure is reported and later jobs still run", func() {
					res, ok := reporter.get("s8a_0002")
					convey.So(ok, convey.ShouldBeTrue)
					convey.So(errors.Is(res.Err, rebin.ErrMissingData), convey.ShouldBeTrue)
					_, ok = reporter.get("s8a_0003")
					convey.So(ok, convey.ShouldBeTrue)
				})
			})

			convey.Convey("And when shutting down", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer shutdownCancel()

				convey.Convey("Then it should shutdown gracefully", func() {
					convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
				})
			})
		})

		convey.Convey("When the queue is closed", func() {
			w := worker.NewInMemoryWorker(q, runner, reporter)
			done := make(chan struct{})
			go func() {
				w.Run(context.Background())
				close(done)
			}()
			q.jobs <- job("last")
			_ = q.Close()

			convey.Convey("Then the worker drains it and exits", func() {
				select {
				case <-done:
				case <-time.After(time.Second):
				}
				_, ok := reporter.get("last")
				convey.So(ok, convey.ShouldBeTrue)
			})
		})
	})
}

func TestErrorKind(t *testing.T) {
	convey.Convey("Given job errors", t, func() {
		cases := map[string]error{
			"missing_data":       &rebin.MissingDataError{Stream: "s"},
			"incompatible_frame": fmt.Errorf("wrapped: %w", &slicemap.IncompatibleFrameError{Stream: "s"}),
			"shape_mismatch":     fmt.Errorf("slice 3: %w", accum.ErrShape),
			"finalized":          accum.ErrFinalized,
			"cancelled":          context.Canceled,
			"internal":           errors.New("boom"),
		}

		convey.Convey("Then each is classified for metrics", func() {
			for want, err := range cases {
				convey.So(worker.ErrorKind(err), convey.ShouldEqual, want)
			}
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool over a real queue", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(32))
		runner := newMockRunner()
		runner.delay = 20 * time.Millisecond
		reporter := newMockReporter()
		pool := worker.NewPool(4, q, runner, reporter)
		convey.So(pool.Size(), convey.ShouldEqual, 4)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		convey.Convey("When jobs are enqueued and the pool shuts down", func() {
			for i := 0; i < 12; i++ {
				convey.So(q.Enqueue(ctx, job(fmt.Sprintf("s%02d", i))), convey.ShouldBeNil)
			}
			err := pool.Shutdown(ctx)

			convey.Convey("Then every job is reported once", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(reporter.count(), convey.ShouldEqual, 12)
			})

			convey.Convey("Then jobs ran in parallel but never beyond the pool size", func() {
				convey.So(runner.peak, convey.ShouldBeGreaterThan, 1)
				convey.So(runner.peak, convey.ShouldBeLessThanOrEqualTo, 4)
			})

			convey.Convey("Then Stop after Shutdown is harmless", func() {
				convey.So(func() { pool.Stop() }, convey.ShouldNotPanic)
			})
		})
	})
}
