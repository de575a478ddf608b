package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	service "github.com/okian/skymap/internal/app"
	"github.com/okian/skymap/internal/domain/accum"
	"github.com/okian/skymap/internal/domain/model"
	"github.com/okian/skymap/internal/domain/rebin"
	"github.com/okian/skymap/internal/domain/skyframe"
	"github.com/okian/skymap/internal/domain/types"
	"github.com/okian/skymap/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

// stream returns a 2x2 detector stream of n slices whose grid coordinates
// equal its ICRS sky coordinates, every sample set to value.
func stream(name string, n int, value float64) *model.Stream {
	h := model.Header{
		System:     skyframe.SystemICRS,
		FocalPlane: model.FocalPlane{PixelScale: 1},
		States:     make([]model.State, n),
	}
	data := make([]float64, 4*n)
	for i := range data {
		data[i] = value
	}
	s, err := model.NewStream(name, [3]int{2, 2, n}, data, h)
	if err != nil {
		panic(err)
	}
	return s
}

func request(svc *service.Service, streams ...*model.Stream) service.Request {
	lib := svc.Library()
	g, err := accum.NewGrid([2]int{1, 1}, [2]int{2, 2}, accum.WithStripeCount(2))
	So(err, ShouldBeNil)
	sink, err := accum.NewSink(g, accum.SpreadSpec{Scheme: accum.Nearest})
	So(err, ShouldBeNil)
	return service.Request{
		Streams:  streams,
		AbsSky:   lib.NewSkyFrame(skyframe.SystemICRS, 0),
		SkyToMap: lib.NewUnit(),
		Sink:     sink,
	}
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			So(svc.Library(), ShouldNotBeNil)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		lib := skyframe.NewLibrary()
		svc := service.New(
			service.WithWorkerCount(8),
			service.WithQueueSize(64),
			service.WithDedupeSize(128),
			service.WithReferenceSystem(skyframe.SystemAzEl),
			service.WithLibrary(lib),
			service.WithLogger(logger.Named("test")),
		)

		Convey("Then it should be created with them", func() {
			So(svc.Library(), ShouldEqual, lib)
			stats := svc.GetStats()
			So(stats["workerCount"], ShouldEqual, 8)
			So(stats["queueSize"], ShouldEqual, 64)
			So(stats["dedupeSize"], ShouldEqual, 128)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithWorkerCount(2))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Convey("When Rebin is called before Start", func() {
			_, err := svc.Rebin(ctx, service.Request{})

			Convey("Then it fails with ErrNotStarted", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})
		})

		Convey("When starting and stopping the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
			So(svc.GetStats()["queueLength"], ShouldEqual, 0)
			svc.Stop()
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})
}

func TestService_Rebin(t *testing.T) {
	Convey("Given a started service with two workers", t, func() {
		svc := service.New(service.WithWorkerCount(2))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When several streams are rebinned", func() {
			req := request(svc, stream("a_con", 3, 1), stream("b_con", 2, 10), stream("c_con", 1, 100))
			baseline := svc.Library().Live()
			report, err := svc.Rebin(ctx, req)

			Convey("Then every stream is pasted once", func() {
				So(err, ShouldBeNil)
				So(report.OK(), ShouldBeTrue)
				So(len(report.Streams), ShouldEqual, 3)
				So(report.Slices, ShouldEqual, 6)
				So(report.Used, ShouldEqual, 24)

				snap := req.Sink.Grid().Snapshot()
				So(snap.Data, ShouldResemble, []float64{123, 123, 123, 123})
				So(snap.Weights, ShouldResemble, []float64{6, 6, 6, 6})
			})

			Convey("Then no coordinate object leaks", func() {
				So(svc.Library().Live(), ShouldEqual, baseline)
			})

			Convey("Then the report is kept as the last run", func() {
				last, ok := svc.LastRun()
				So(ok, ShouldBeTrue)
				So(last.RunID, ShouldEqual, report.RunID)
				So(svc.GetStats()["runs"], ShouldEqual, int64(1))
				So(svc.GetStats()["inFlight"], ShouldEqual, int64(0))
				So(svc.GetStats()["gridStripes"], ShouldEqual, int64(2))
			})
		})

		Convey("When a stream appears twice in one request", func() {
			s := stream("dup_con", 1, 5)
			req := request(svc, s, s)
			report, err := svc.Rebin(ctx, req)

			Convey("Then the second job is rejected and the data counted once", func() {
				So(errors.Is(err, service.ErrDuplicateStream), ShouldBeTrue)
				So(report.Failed, ShouldEqual, 1)
				So(req.Sink.Grid().NUsed(), ShouldEqual, 4)
			})
		})

		Convey("When one stream has no data", func() {
			empty := stream("empty_con", 2, 1)
			So(empty.SetData(nil), ShouldBeNil)
			req := request(svc, stream("good_con", 2, 7), empty)
			report, err := svc.Rebin(ctx, req)

			Convey("Then the run fails but other streams still contribute", func() {
				So(errors.Is(err, rebin.ErrMissingData), ShouldBeTrue)
				So(report.OK(), ShouldBeFalse)
				So(report.Failed, ShouldEqual, 1)
				So(req.Sink.Grid().NUsed(), ShouldEqual, 8)

				statuses := map[string]string{}
				for _, sr := range report.Streams {
					statuses[sr.Stream] = sr.Status
				}
				So(statuses["good_con"], ShouldEqual, types.StatusOK)
				So(statuses["empty_con"], ShouldEqual, types.StatusFailed)
				So(svc.GetStats()["jobsFailed"], ShouldEqual, int64(1))
			})
		})

		Convey("When many streams share the grid", func() {
			var streams []*model.Stream
			for i := 0; i < 20; i++ {
				streams = append(streams, stream(fmt.Sprintf("s%02d_con", i), 4, 1))
			}
			req := request(svc, streams...)
			report, err := svc.Rebin(ctx, req)

			Convey("Then concurrent jobs sum exactly", func() {
				So(err, ShouldBeNil)
				So(report.Used, ShouldEqual, 320)
				snap := req.Sink.Grid().Snapshot()
				So(snap.Data, ShouldResemble, []float64{80, 80, 80, 80})
			})
		})
	})
}

func TestService_RebinCancelled(t *testing.T) {
	Convey("Given a started service with one worker", t, func() {
		svc := service.New(service.WithWorkerCount(1))
		So(svc.Start(context.Background()), ShouldBeNil)

		Convey("When the run is cancelled while the worker is held by a stream", func() {
			held := stream("held_con", 50, 1)
			streams := []*model.Stream{held}
			for i := 0; i < 4; i++ {
				streams = append(streams, stream(fmt.Sprintf("queued%d_con", i), 10, 1))
			}
			req := request(svc, streams...)

			held.Lock()
			ctx, cancel := context.WithCancel(context.Background())
			type outcome struct {
				report types.RunReport
				err    error
			}
			out := make(chan outcome, 1)
			go func() {
				report, err := svc.Rebin(ctx, req)
				out <- outcome{report, err}
			}()
			for svc.GetStats()["inFlight"] != int64(len(streams)) {
				time.Sleep(time.Millisecond)
			}
			time.Sleep(20 * time.Millisecond)
			cancel()
			held.Unlock()

			got := <-out
			svc.Stop()

			Convey("Then no stream writes to the grid and the report says so", func() {
				So(errors.Is(got.err, context.Canceled), ShouldBeTrue)
				So(got.report.Used, ShouldEqual, 0)
				So(req.Sink.Grid().NUsed(), ShouldEqual, 0)
				So(len(got.report.Streams), ShouldEqual, len(streams))
				for _, sr := range got.report.Streams {
					So(sr.Status, ShouldNotEqual, types.StatusOK)
					So(sr.Used, ShouldEqual, 0)
				}
			})
		})

		Convey("When the run times out during a long stream", func() {
			streams := []*model.Stream{stream("long_con", 20000, 1)}
			for i := 0; i < 4; i++ {
				streams = append(streams, stream(fmt.Sprintf("short%d_con", i), 10, 1))
			}
			req := request(svc, streams...)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
			defer cancel()

			report, _ := svc.Rebin(ctx, req)
			used := req.Sink.Grid().NUsed()
			svc.Stop()

			Convey("Then the report matches what reached the grid, before and after shutdown", func() {
				So(report.Used, ShouldEqual, used)
				So(req.Sink.Grid().NUsed(), ShouldEqual, used)
				for _, sr := range report.Streams {
					if sr.Status == types.StatusCancelled {
						So(sr.Error, ShouldNotBeEmpty)
					}
				}
			})
		})
	})
}
