package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	dedupe "github.com/okian/skymap/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryClaims(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new claim set", t, func() {
		c := dedupe.NewInMemoryClaims()
		So(c.Size(), ShouldEqual, 0)

		Convey("When a stream is claimed for the first time", func() {
			dup := c.Claim(ctx, "s8a_0001_con")

			Convey("Then it is not a duplicate and is held", func() {
				So(dup, ShouldBeFalse)
				So(c.Held("s8a_0001_con"), ShouldBeTrue)
				So(c.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the same stream is claimed twice", func() {
			c.Claim(ctx, "s8a_0001_con")
			dup := c.Claim(ctx, "s8a_0001_con")

			Convey("Then the second claim is a duplicate", func() {
				So(dup, ShouldBeTrue)
				So(c.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a claim is released", func() {
			c.Claim(ctx, "s8a_0001_con")
			c.Release(ctx, "s8a_0001_con")

			Convey("Then the stream may be claimed again", func() {
				So(c.Held("s8a_0001_con"), ShouldBeFalse)
				So(c.Size(), ShouldEqual, 0)
				So(c.Claim(ctx, "s8a_0001_con"), ShouldBeFalse)
			})
		})

		Convey("When an unknown stream is released", func() {
			c.Release(ctx, "never")

			Convey("Then nothing changes", func() {
				So(c.Size(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a bounded claim set", t, func() {
		c := dedupe.NewInMemoryClaims(dedupe.WithMaxSize(2))

		Convey("When it is full", func() {
			c.Claim(ctx, "a")
			c.Claim(ctx, "b")
			c.Claim(ctx, "c")

			Convey("Then the oldest claim is evicted", func() {
				So(c.Held("a"), ShouldBeFalse)
				So(c.Held("b"), ShouldBeTrue)
				So(c.Held("c"), ShouldBeTrue)
				So(c.Size(), ShouldEqual, 2)
			})
		})

		Convey("When a released name is claimed again", func() {
			c.Claim(ctx, "a")
			c.Claim(ctx, "b")
			c.Release(ctx, "a")
			c.Claim(ctx, "a")
			c.Claim(ctx, "c")

			Convey("Then eviction follows the newer claim order", func() {
				So(c.Held("b"), ShouldBeFalse)
				So(c.Held("a"), ShouldBeTrue)
				So(c.Held("c"), ShouldBeTrue)
			})
		})
	})

	Convey("Given an unbounded claim set", t, func() {
		c := dedupe.NewInMemoryClaims(dedupe.WithMaxSize(0))
		for i := 0; i < 1000; i++ {
			c.Claim(ctx, fmt.Sprintf("s%04d", i))
		}

		Convey("Then nothing is evicted", func() {
			So(c.Size(), ShouldEqual, 1000)
			So(c.Held("s0000"), ShouldBeTrue)
		})
	})
}

func TestInMemoryClaims_Concurrent(t *testing.T) {
	Convey("Given many goroutines claiming the same streams", t, func() {
		ctx := context.Background()
		c := dedupe.NewInMemoryClaims()

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			fresh = map[string]int{}
		)
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					name := fmt.Sprintf("s%02d", i)
					if !c.Claim(ctx, name) {
						mu.Lock()
						fresh[name]++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each stream is claimed exactly once", func() {
			So(c.Size(), ShouldEqual, 50)
			for _, n := range fresh {
				So(n, ShouldEqual, 1)
			}
			So(len(fresh), ShouldEqual, 50)
		})
	})
}
