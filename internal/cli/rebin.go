package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/okian/skymap/internal/adapters/importer"
	"github.com/okian/skymap/internal/adapters/preview"
	"github.com/okian/skymap/internal/adapters/repository"
	service "github.com/okian/skymap/internal/app"
	"github.com/okian/skymap/internal/config"
	"github.com/okian/skymap/internal/domain/accum"
	"github.com/okian/skymap/internal/domain/model"
	"github.com/okian/skymap/internal/domain/skyframe"
	"github.com/okian/skymap/internal/domain/types"
	"github.com/okian/skymap/pkg/logger"
	"github.com/okian/skymap/pkg/metrics"
)

// ErrNoStreams is returned when there is nothing to rebin.
var ErrNoStreams = errors.New("no input streams")

// RebinOptions holds flags for the rebin command.
type RebinOptions struct {
	*RootOptions

	// Hold keeps the HTTP API up after the run until interrupted.
	Hold bool
}

// NewRebinCommand creates the rebin command.
func NewRebinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RebinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rebin [stream...]",
		Short: "Rebin streams into the output map",
		Long: `Rebin every time slice of the input streams onto the output grid.

Streams are read from the container store; with no arguments the configured
inputs are used, or every stream container when none are configured. The
finished map is written to the output container with VARIANCE, WEIGHTS and
SMURF.NUSED.

Example:
  skymap rebin --store obs.db --output crab_map
  skymap rebin --spread gauss --preview crab.png s8a_0001_con s8a_0002_con`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyRebinFlags(cmd, opts.Config, args); err != nil {
				return WrapExitError(ExitCommandError, "invalid flags", err)
			}
			return runRebin(cmd.Context(), opts, opts.output(cmd))
		},
	}

	cmd.Flags().String("store", "", "path to the SQLite container store")
	cmd.Flags().String("output", "", "output map container name")
	cmd.Flags().String("spread", "", "spreading kernel (nearest|linear|sinc|gauss)")
	cmd.Flags().Bool("moving", false, "track a moving target")
	cmd.Flags().Bool("noise-import", false, "import <stream>_noi models before rebinning")
	cmd.Flags().Int("workers", 0, "concurrent rebin jobs")
	cmd.Flags().String("preview", "", "write a heatmap of the finished map to this file")
	cmd.Flags().String("addr", "", "serve the monitoring API on this address")
	cmd.Flags().BoolVar(&opts.Hold, "hold", false, "keep serving the API after the run until interrupted")

	return cmd
}

// applyRebinFlags overrides config values with flags set on the command line.
func applyRebinFlags(cmd *cobra.Command, cfg *config.Config, args []string) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("store") {
		cfg.StorePath, err = flags.GetString("store")
	}
	if err == nil && flags.Changed("output") {
		cfg.OutputName, err = flags.GetString("output")
	}
	if err == nil && flags.Changed("spread") {
		cfg.Spread, err = flags.GetString("spread")
	}
	if err == nil && flags.Changed("moving") {
		cfg.Moving, err = flags.GetBool("moving")
	}
	if err == nil && flags.Changed("noise-import") {
		cfg.NoiseImport, err = flags.GetBool("noise-import")
	}
	if err == nil && flags.Changed("workers") {
		cfg.WorkerCount, err = flags.GetInt("workers")
	}
	if err == nil && flags.Changed("preview") {
		cfg.PreviewPath, err = flags.GetString("preview")
	}
	if err == nil && flags.Changed("addr") {
		cfg.Addr, err = flags.GetString("addr")
	}
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.Inputs = args
	}
	return cfg.Validate()
}

// RebinSummary is the result printed by the rebin command.
type RebinSummary struct {
	Run      types.RunReport `json:"run"`
	Output   string          `json:"output"`
	Good     int             `json:"good_pixels"`
	Min      float64         `json:"min"`
	Max      float64         `json:"max"`
	Mean     float64         `json:"mean"`
	NUsed    int64           `json:"nused"`
	Preview  string          `json:"preview,omitempty"`
	Imported int             `json:"noise_imported,omitempty"`
}

func (s RebinSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d streams, %d slices, %d samples used, %d failed in %s\n",
		s.Run.RunID, len(s.Run.Streams), s.Run.Slices, s.Run.Used, s.Run.Failed, s.Run.Duration())
	for _, st := range s.Run.Streams {
		fmt.Fprintf(&b, "  %-32s %-9s slices=%d used=%d", st.Stream, st.Status, st.Slices, st.Used)
		if st.Error != "" {
			fmt.Fprintf(&b, " error=%q", st.Error)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "map %s: %d good pixels, nused %d, min %g max %g mean %g",
		s.Output, s.Good, s.NUsed, s.Min, s.Max, s.Mean)
	if s.Preview != "" {
		fmt.Fprintf(&b, "\npreview %s", s.Preview)
	}
	return b.String()
}

func runRebin(ctx context.Context, opts *RebinOptions, out *OutputFormatter) error {
	cfg := opts.Config
	log := logger.Named("rebin")

	store, err := repository.Open(ctx, cfg.StorePath, repository.WithLogger(logger.Named("store")))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Error(ctx, "error closing store", logger.Error(closeErr))
		}
	}()

	streams, err := loadStreams(ctx, store, cfg.Inputs)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load streams", err)
	}
	summary := RebinSummary{Output: cfg.OutputName}
	if cfg.NoiseImport {
		noise := importer.NewNoise(store, importer.WithLogger(logger.Named("importer")))
		for _, st := range streams {
			if _, err := noise.ImportStream(ctx, st, true); err != nil {
				return WrapExitError(ExitCommandError, "failed to import noise", err)
			}
			summary.Imported++
		}
	}

	spec, err := cfg.SpreadSpec()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid spread", err)
	}
	gridOpts := []accum.Option{accum.WithStripeCount(cfg.StripeCount)}
	if cfg.GenVariance {
		gridOpts = append(gridOpts, accum.WithGenVariance())
	}
	lbnd, ubnd := cfg.Bounds()
	grid, err := accum.NewGrid(lbnd, ubnd, gridOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to allocate map", err)
	}
	sink, err := accum.NewSink(grid, spec)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create sink", err)
	}

	lib := skyframe.NewLibrary()
	absSky, skyToMap := outputFrame(lib, cfg, streams[0].Header.States[0].Epoch)
	defer absSky.Annul()
	defer skyToMap.Annul()

	svc := service.New(
		service.WithLibrary(lib),
		service.WithLogger(logger.Named("service")),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithReferenceSystem(cfg.ReferenceSystem),
	)
	if err := svc.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start service", err)
	}
	defer svc.Stop()

	stopServer := startServer(ctx, cfg.Addr, svc, log)
	defer stopServer()

	report, runErr := svc.Rebin(ctx, service.Request{
		Streams:  streams,
		AbsSky:   absSky,
		SkyToMap: skyToMap,
		Sink:     sink,
		Moving:   cfg.Moving,
	})
	summary.Run = report
	if runErr != nil {
		log.Warn(ctx, "rebin run had failures", logger.Int("failed", report.Failed), logger.Error(runErr))
	}

	if err := grid.Finalize(spec); err != nil {
		return WrapExitError(ExitCommandError, "failed to finalize map", err)
	}
	snap := grid.Snapshot()
	stats := snap.Stats()
	metrics.UpdateGoodPixels(stats.Good)
	metrics.UpdateCoordinateLiveObjects(lib.Live())
	summary.Good, summary.Min, summary.Max, summary.Mean = stats.Good, stats.Min, stats.Max, stats.Mean
	summary.NUsed = snap.NUsed

	if err := store.SaveMap(ctx, cfg.OutputName, snap); err != nil {
		return WrapExitError(ExitCommandError, "failed to save map", err)
	}

	if cfg.PreviewPath != "" {
		r := preview.New(preview.WithTitle(cfg.OutputName), preview.WithLogger(logger.Named("preview")))
		switch err := r.Render(ctx, snap, cfg.PreviewPath); {
		case errors.Is(err, preview.ErrNoGoodPixels):
			log.Warn(ctx, "preview skipped", logger.Error(err))
		case err != nil:
			return WrapExitError(ExitCommandError, "failed to render preview", err)
		default:
			summary.Preview = cfg.PreviewPath
		}
	}

	if runErr != nil {
		if err := out.Failure(summary, runErr); err != nil {
			return err
		}
		return WrapExitError(ExitFailure, "some streams failed", runErr)
	}
	if err := out.Success(summary); err != nil {
		return err
	}

	if opts.Hold && cfg.Addr != "" {
		log.Info(ctx, "run finished; serving until interrupted", logger.String("addr", cfg.Addr))
		<-ctx.Done()
	}
	return nil
}

// loadStreams reads the named stream containers, or every stream when names is empty.
func loadStreams(ctx context.Context, store *repository.SQLiteStore, names []string) ([]*model.Stream, error) {
	if len(names) == 0 {
		var err error
		if names, err = store.ListContainers(ctx, repository.KindStream); err != nil {
			return nil, err
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoStreams, store.Path())
	}
	streams := make([]*model.Stream, 0, len(names))
	for _, name := range names {
		st, err := store.LoadStream(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("load stream %s: %w", name, err)
		}
		streams = append(streams, st)
	}
	return streams, nil
}

// outputFrame returns the output sky frame at epoch and the linear mapping
// from sky coordinates to output pixels: pixel = crpix + (sky - crval) / cdelt.
func outputFrame(lib *skyframe.Library, cfg *config.Config, epoch float64) (*skyframe.Frame, *skyframe.Mapping) {
	sx, sy := 1/cfg.Cdelt[0], 1/cfg.Cdelt[1]
	absSky := lib.NewSkyFrame(cfg.OutputSystem, epoch)
	skyToMap := lib.NewAffine(
		sx, 0, cfg.Crpix[0]-cfg.Crval[0]*sx,
		0, sy, cfg.Crpix[1]-cfg.Crval[1]*sy,
	)
	return absSky, skyToMap
}
