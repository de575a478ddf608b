package rebin

import (
	"github.com/okian/skymap/pkg/logger"
)

// Option applies a configuration option to the Runner.
type Option func(*Runner)

// WithLogger sets a custom logger for the runner.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithReferenceSystem sets the horizon system used to locate moving targets.
func WithReferenceSystem(system string) Option {
	return func(r *Runner) {
		if system != "" {
			r.reference = system
		}
	}
}
