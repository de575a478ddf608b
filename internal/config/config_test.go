package config_test

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/okian/skymap/internal/config"
	"github.com/okian/skymap/internal/domain/accum"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
			convey.So(cfg.LogFormat, convey.ShouldEqual, "text")
			convey.So(cfg.Addr, convey.ShouldBeEmpty)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
			convey.So(cfg.DedupeSize, convey.ShouldEqual, 50_000)
			convey.So(cfg.OutputSystem, convey.ShouldEqual, "ICRS")
			convey.So(cfg.ReferenceSystem, convey.ShouldEqual, "AZEL")
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then bounds and spread settings convert", func() {
			lbnd, ubnd := cfg.Bounds()
			convey.So(lbnd, convey.ShouldEqual, [2]int{1, 1})
			convey.So(ubnd, convey.ShouldEqual, [2]int{160, 120})

			spec, err := cfg.SpreadSpec()
			convey.So(err, convey.ShouldBeNil)
			convey.So(spec.Scheme, convey.ShouldEqual, accum.Nearest)
			convey.So(spec.Flags, convey.ShouldEqual, accum.Flags(0))
		})
	})

	convey.Convey("Given a config with variance flags", t, func() {
		cfg := config.New(context.Background())
		cfg.Spread = "Gauss"
		cfg.SpreadParams = []float64{3, 1.5}
		cfg.UseVariance = true
		cfg.VarWeight = true
		cfg.WeightLimit = 0.5

		convey.Convey("Then the spread spec carries them", func() {
			spec, err := cfg.SpreadSpec()
			convey.So(err, convey.ShouldBeNil)
			convey.So(spec.Scheme, convey.ShouldEqual, accum.Gauss)
			convey.So(spec.Params, convey.ShouldResemble, []float64{3, 1.5})
			convey.So(spec.Flags.Has(accum.UseVariance|accum.VarWeight), convey.ShouldBeTrue)
			convey.So(spec.Flags.Has(accum.GenVariance), convey.ShouldBeFalse)
			convey.So(spec.WeightLimit, convey.ShouldEqual, 0.5)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(*config.Config){
		"log level":          func(c *config.Config) { c.LogLevel = "loud" },
		"log format":         func(c *config.Config) { c.LogFormat = "xml" },
		"worker count":       func(c *config.Config) { c.WorkerCount = 0 },
		"queue size":         func(c *config.Config) { c.QueueSize = -1 },
		"stripe count":       func(c *config.Config) { c.StripeCount = -1 },
		"store path":         func(c *config.Config) { c.StorePath = "" },
		"output name":        func(c *config.Config) { c.OutputName = "" },
		"output system":      func(c *config.Config) { c.OutputSystem = "B1950" },
		"reference system":   func(c *config.Config) { c.ReferenceSystem = "HADEC" },
		"bounds length":      func(c *config.Config) { c.Lbnd = []int{1} },
		"inverted bounds":    func(c *config.Config) { c.Ubnd = []int{0, 10} },
		"crpix length":       func(c *config.Config) { c.Crpix = nil },
		"zero cdelt":         func(c *config.Config) { c.Cdelt = []float64{0.1, 0} },
		"spread":             func(c *config.Config) { c.Spread = "cubic" },
		"exclusive variance": func(c *config.Config) { c.UseVariance, c.GenVariance = true, true },
		"weight limit":       func(c *config.Config) { c.WeightLimit = -1 },
	}

	convey.Convey("Given configs with one invalid setting", t, func() {
		for name, mutate := range cases {
			cfg := config.New(context.Background())
			mutate(cfg)

			convey.Convey("Then validation rejects "+name, func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})
}
