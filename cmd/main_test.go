package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/skymap/internal/cli"
	"github.com/smartystreets/goconvey/convey"
)

func TestRun(t *testing.T) {
	convey.Convey("Given the skymap binary", t, func() {
		dir := t.TempDir()
		cfgPath := filepath.Join(dir, "skymap.yaml")
		content := "log_level: error\nstore_path: " + filepath.Join(dir, "obs.db") + "\n"
		convey.So(os.WriteFile(cfgPath, []byte(content), 0o600), convey.ShouldBeNil)

		convey.Convey("When streams are simulated and rebinned", func() {
			simCode := run([]string{"--config", cfgPath, "--format", "json", "simulate", "--streams", "2", "--slices", "3"})
			rebinCode := run([]string{"--config", cfgPath, "--format", "json", "rebin"})

			convey.Convey("Then both commands succeed", func() {
				convey.So(simCode, convey.ShouldEqual, cli.ExitSuccess)
				convey.So(rebinCode, convey.ShouldEqual, cli.ExitSuccess)
			})
		})

		convey.Convey("When an unknown command is given", func() {
			code := run([]string{"--config", cfgPath, "paint"})

			convey.Convey("Then it fails", func() {
				convey.So(code, convey.ShouldEqual, cli.ExitFailure)
			})
		})

		convey.Convey("When the store holds no streams", func() {
			code := run([]string{"--config", cfgPath, "rebin"})

			convey.Convey("Then it is a command error", func() {
				convey.So(code, convey.ShouldEqual, cli.ExitCommandError)
			})
		})
	})
}
