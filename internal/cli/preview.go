package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/skymap/internal/adapters/preview"
	"github.com/okian/skymap/internal/adapters/repository"
	"github.com/okian/skymap/pkg/logger"
)

// PreviewOptions holds flags for the preview command.
type PreviewOptions struct {
	*RootOptions
	Store  string
	Output string
	Plane  string
	Size   float64
}

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PreviewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preview [map]",
		Short: "Render a stored map as a PNG heatmap",
		Long: `Read an output map container written by rebin and draw one of its
planes. The map defaults to the configured output name.

Example:
  skymap preview --plane weights --output weights.png
  skymap preview s8a_map`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := opts.Config.OutputName
			if len(args) == 1 {
				name = args[0]
			}
			return runPreview(cmd, opts, name)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "path to the SQLite container store")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "PNG path (default <map>.png)")
	cmd.Flags().StringVar(&opts.Plane, "plane", "data", "plane to draw: data, variance or weights")
	cmd.Flags().Float64Var(&opts.Size, "size", 8, "image width and height in inches")

	return cmd
}

// PreviewSummary is the result printed by the preview command.
type PreviewSummary struct {
	Map   string `json:"map"`
	Plane string `json:"plane"`
	Path  string `json:"path"`
	NUsed int64  `json:"nused"`
}

func (s PreviewSummary) String() string {
	return fmt.Sprintf("map %s (%s, %d samples) -> %s", s.Map, s.Plane, s.NUsed, s.Path)
}

func runPreview(cmd *cobra.Command, opts *PreviewOptions, name string) error {
	ctx := cmd.Context()
	log := logger.Named("preview")

	plane, err := preview.ParsePlane(opts.Plane)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --plane", err)
	}
	path := opts.Output
	if path == "" {
		path = opts.Config.PreviewPath
	}
	if path == "" {
		path = name + ".png"
	}
	storePath := opts.Config.StorePath
	if opts.Store != "" {
		storePath = opts.Store
	}

	store, err := repository.Open(ctx, storePath, repository.WithLogger(logger.Named("store")))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Error(ctx, "error closing store", logger.Error(closeErr))
		}
	}()

	snap, err := store.LoadMap(ctx, name)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load map "+name, err)
	}

	r := preview.New(
		preview.WithTitle(fmt.Sprintf("%s (%s)", name, plane)),
		preview.WithPlane(plane),
		preview.WithSize(opts.Size, opts.Size),
		preview.WithLogger(log),
	)
	if err := r.Render(ctx, snap, path); err != nil {
		return WrapExitError(ExitFailure, "failed to render map "+name, err)
	}
	return opts.output(cmd).Success(PreviewSummary{Map: name, Plane: plane.String(), Path: path, NUsed: snap.NUsed})
}
