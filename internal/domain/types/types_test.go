package types_test

import (
	"testing"
	"time"

	types "github.com/okian/skymap/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRunReport(t *testing.T) {
	Convey("Given an empty RunReport", t, func() {
		start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		r := types.RunReport{RunID: "run-1", Started: start}

		Convey("Then it is OK with zero totals", func() {
			So(r.OK(), ShouldBeTrue)
			So(r.Slices, ShouldEqual, 0)
			So(r.Used, ShouldEqual, 0)
		})

		Convey("When stream outcomes are added", func() {
			r.Add(types.StreamReport{Stream: "a", Status: types.StatusOK, Slices: 3, Used: 10})
			r.Add(types.StreamReport{Stream: "b", Status: types.StatusFailed, Slices: 1, Used: 2, Error: "boom"})
			r.Add(types.StreamReport{Stream: "a", Status: types.StatusRejected})
			r.Finished = start.Add(1500 * time.Millisecond)

			Convey("Then totals include partial work of failed streams", func() {
				So(len(r.Streams), ShouldEqual, 3)
				So(r.Slices, ShouldEqual, 4)
				So(r.Used, ShouldEqual, 12)
				So(r.Failed, ShouldEqual, 2)
				So(r.OK(), ShouldBeFalse)
				So(r.Duration(), ShouldEqual, 1500*time.Millisecond)
			})
		})
	})
}
