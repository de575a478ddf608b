package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/okian/skymap/internal/adapters/importer"
	"github.com/okian/skymap/internal/adapters/repository"
	"github.com/okian/skymap/pkg/logger"
)

// ImportNoiseOptions holds flags for the import-noise command.
type ImportNoiseOptions struct {
	*RootOptions
	Store string
}

// NewImportNoiseCommand creates the import-noise command.
func NewImportNoiseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportNoiseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import-noise [stream...]",
		Short: "Import noise models into stream containers",
		Long: `Read the <stream>_noi noise model of every stream, expand it to the
stream's time slices and store the result in the stream container: a single
plane becomes BOLOVAR, several planes become a time-ordered VARIANCE.

Example:
  skymap import-noise --store obs.db
  skymap import-noise s8a20140101_00012_0003_con`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.Config.StorePath
			if opts.Store != "" {
				path = opts.Store
			}
			names := args
			if len(names) == 0 {
				names = opts.Config.Inputs
			}
			return runImportNoise(cmd, opts, path, names)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "path to the SQLite container store")

	return cmd
}

// ImportedNoise is the outcome for one stream.
type ImportedNoise struct {
	Stream    string `json:"stream"`
	Model     string `json:"model"`
	BoxSize   int    `json:"box_size"`
	Component string `json:"component,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ImportNoiseSummary is the result printed by the import-noise command.
type ImportNoiseSummary struct {
	Streams []ImportedNoise `json:"streams"`
	Failed  int             `json:"failed"`
}

func (s ImportNoiseSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "imported %d of %d noise models", len(s.Streams)-s.Failed, len(s.Streams))
	for _, r := range s.Streams {
		if r.Error != "" {
			fmt.Fprintf(&b, "\n  %-32s error=%q", r.Stream, r.Error)
			continue
		}
		fmt.Fprintf(&b, "\n  %-32s %s box=%d -> %s", r.Stream, r.Model, r.BoxSize, r.Component)
	}
	return b.String()
}

func runImportNoise(cmd *cobra.Command, opts *ImportNoiseOptions, path string, names []string) error {
	ctx := cmd.Context()
	log := logger.Named("import-noise")

	store, err := repository.Open(ctx, path, repository.WithLogger(logger.Named("store")))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Error(ctx, "error closing store", logger.Error(closeErr))
		}
	}()

	if len(names) == 0 {
		if names, err = store.ListContainers(ctx, repository.KindStream); err != nil {
			return WrapExitError(ExitCommandError, "failed to list streams", err)
		}
	}
	if len(names) == 0 {
		return WrapExitError(ExitCommandError, "nothing to import", ErrNoStreams)
	}

	noise := importer.NewNoise(store, importer.WithLogger(logger.Named("importer")))
	var (
		sum  ImportNoiseSummary
		errs []error
	)
	for _, name := range names {
		r := ImportedNoise{Stream: name, Model: importer.ContainerName(name)}
		err := func() error {
			st, err := store.LoadStream(ctx, name)
			if err != nil {
				return err
			}
			res, err := noise.ImportStream(ctx, st, true)
			if err != nil {
				return err
			}
			r.BoxSize = res.BoxSize

			dims := st.Dims()
			if len(res.Data) == st.NBolo() {
				r.Component = repository.ComponentBolovar
				return store.WriteArray(ctx, name, r.Component, repository.Array{Dims: []int{dims[0], dims[1]}, Data: res.Data})
			}
			r.Component = repository.ComponentVariance
			return store.WriteArray(ctx, name, r.Component, repository.Array{Dims: dims[:], Data: res.Data})
		}()
		if err != nil {
			r.Error = err.Error()
			r.Component = ""
			sum.Failed++
			errs = append(errs, fmt.Errorf("stream %s: %w", name, err))
			log.Warn(ctx, "noise import failed", logger.String("stream", name), logger.Error(err))
		}
		sum.Streams = append(sum.Streams, r)
	}

	out := opts.output(cmd)
	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if err := out.Failure(sum, joined); err != nil {
			return err
		}
		return WrapExitError(ExitFailure, "some imports failed", joined)
	}
	return out.Success(sum)
}
