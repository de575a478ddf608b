// Package cli implements the skymap command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/skymap/internal/config"
	"github.com/okian/skymap/pkg/logger"
)

// RootOptions holds global flags and the loaded config shared by all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"

	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"} //nolint:gochecknoglobals // flag values

// NewRootCommand creates the root command for the skymap CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "skymap",
		Short: "skymap - rebin scanning detector streams into sky maps",
		Long: `skymap projects every time slice of scanning detector streams onto a
shared output pixel grid, runs one job per stream concurrently and writes
the finished map, variance and weights to the container store.

Configuration is layered: defaults, then the YAML file named by --config or
SKYMAP_CONFIG, then SKYMAP_* environment variables, then command flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file (default $SKYMAP_CONFIG)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRebinCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewImportNoiseCommand(opts))
	cmd.AddCommand(NewPreviewCommand(opts))

	return cmd
}

// setup validates global flags, loads the config and initializes logging.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return WrapExitError(ExitCommandError, "invalid flags",
			fmt.Errorf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	path := o.ConfigPath
	if path == "" {
		path = os.Getenv(config.EnvConfigFile)
	}
	cfg, err := config.LoadFrom(cmd.Context(), path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	o.Config = cfg

	if err := logger.InitWithOptions(logger.Format(cfg.LogFormat), cmd.ErrOrStderr()); err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize logging", err)
	}
	level := cfg.LogLevel
	if o.Verbose {
		level = "debug"
	}
	if err := logger.SetLevelString(level); err != nil {
		return WrapExitError(ExitCommandError, "invalid log level", err)
	}
	return nil
}

func (o *RootOptions) output(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
