package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/skymap/internal/adapters/repository"
	"github.com/okian/skymap/internal/domain/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig writes a quiet config pointing at a fresh store and returns its path.
func writeConfig(t *testing.T, extra string) (cfgPath, storePath string) {
	t.Helper()
	dir := t.TempDir()
	storePath = filepath.Join(dir, "obs.db")
	content := "log_level: error\nworker_count: 2\nstore_path: " + storePath + "\n" + extra
	cfgPath = filepath.Join(dir, "skymap.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	return cfgPath, storePath
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "skymap", cmd.Use)

	for _, name := range []string{"rebin", "simulate", "import-noise", "preview"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
}

func TestInvalidGlobalFlags(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")

	_, err := execute(t, "--config", cfgPath, "--format", "xml", "simulate")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "simulate")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	wrapped := WrapExitError(ExitCommandError, "failed to open store", repository.ErrNotFound)
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.ErrorIs(t, wrapped, repository.ErrNotFound)
	assert.Equal(t, "failed to open store: "+repository.ErrNotFound.Error(), wrapped.Error())
}

func TestSimulateThenRebin(t *testing.T) {
	cfgPath, storePath := writeConfig(t, "")

	out, err := execute(t, "--config", cfgPath, "--format", "json",
		"simulate", "--streams", "2", "--slices", "8", "--noise", "0")
	require.NoError(t, err)
	var sim struct {
		Status string          `json:"status"`
		Data   SimulateSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &sim))
	assert.Equal(t, "ok", sim.Status)
	assert.Equal(t, []string{"sim_0001_con", "sim_0002_con"}, sim.Data.Streams)
	assert.Equal(t, storePath, sim.Data.Store)

	previewPath := filepath.Join(t.TempDir(), "map.png")
	out, err = execute(t, "--config", cfgPath, "--format", "json",
		"rebin", "--output", "test_map", "--preview", previewPath)
	require.NoError(t, err)
	var res struct {
		Status string       `json:"status"`
		Data   RebinSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, 0, res.Data.Run.Failed)
	assert.Len(t, res.Data.Run.Streams, 2)
	for _, st := range res.Data.Run.Streams {
		assert.Equal(t, types.StatusOK, st.Status)
		assert.Equal(t, 8, st.Slices)
	}
	assert.Equal(t, int64(2*32*40*8), res.Data.NUsed)
	assert.Positive(t, res.Data.Good)
	assert.Greater(t, res.Data.Max, 1.0)
	assert.Equal(t, previewPath, res.Data.Preview)
	assert.FileExists(t, previewPath)

	store, err := repository.Open(context.Background(), storePath)
	require.NoError(t, err)
	defer store.Close()
	snap, err := store.LoadMap(context.Background(), "test_map")
	require.NoError(t, err)
	assert.Equal(t, res.Data.NUsed, snap.NUsed)
	assert.Len(t, snap.Data, 160*120)
}

func TestPreviewStoredMap(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")

	_, err := execute(t, "--config", cfgPath, "simulate", "--streams", "1", "--slices", "4", "--noise", "0")
	require.NoError(t, err)
	_, err = execute(t, "--config", cfgPath, "rebin", "--output", "stored_map")
	require.NoError(t, err)

	pngPath := filepath.Join(t.TempDir(), "weights.png")
	out, err := execute(t, "--config", cfgPath, "--format", "json",
		"preview", "stored_map", "--plane", "weights", "--output", pngPath)
	require.NoError(t, err)
	var res struct {
		Status string         `json:"status"`
		Data   PreviewSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, PreviewSummary{Map: "stored_map", Plane: "weights", Path: pngPath, NUsed: 32 * 40 * 4}, res.Data)
	assert.FileExists(t, pngPath)

	_, err = execute(t, "--config", cfgPath, "preview", "stored_map", "--plane", "signal")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "--config", cfgPath, "preview", "no_such_map")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRebinSelectedStreamsText(t *testing.T) {
	cfgPath, _ := writeConfig(t, "spread: linear\n")

	_, err := execute(t, "--config", cfgPath, "simulate", "--streams", "3", "--slices", "4")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfgPath, "rebin", "sim_0002_con")
	require.NoError(t, err)
	assert.Contains(t, out, "1 streams, 4 slices")
	assert.Contains(t, out, "sim_0002_con")
	assert.NotContains(t, out, "sim_0001_con")
}

func TestRebinMissingStream(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")

	_, err := execute(t, "--config", cfgPath, "simulate", "--streams", "1", "--slices", "2")
	require.NoError(t, err)

	_, err = execute(t, "--config", cfgPath, "rebin", "nope_con")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRebinEmptyStore(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")

	_, err := execute(t, "--config", cfgPath, "rebin")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, ErrNoStreams)
}

func TestImportNoise(t *testing.T) {
	cfgPath, storePath := writeConfig(t, "use_variance: true\n")

	_, err := execute(t, "--config", cfgPath, "simulate",
		"--streams", "2", "--slices", "8", "--noise-model", "--noise-box", "4")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfgPath, "--format", "json", "import-noise")
	require.NoError(t, err)
	var res struct {
		Status string             `json:"status"`
		Data   ImportNoiseSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 0, res.Data.Failed)
	require.Len(t, res.Data.Streams, 2)
	for _, r := range res.Data.Streams {
		assert.Equal(t, 4, r.BoxSize)
		assert.Equal(t, repository.ComponentVariance, r.Component)
		assert.Equal(t, r.Stream+"_noi", r.Model)
	}

	store, err := repository.Open(context.Background(), storePath)
	require.NoError(t, err)
	st, err := store.LoadStream(context.Background(), "sim_0001_con")
	require.NoError(t, err)
	require.Len(t, st.SliceVariance, 32*40*8)
	v, err := st.SliceVarianceAt(7)
	require.NoError(t, err)
	assert.InDelta(t, 0.011, v[0], 1e-12)
	require.NoError(t, store.Close())

	out, err = execute(t, "--config", cfgPath, "rebin")
	require.NoError(t, err)
	assert.Contains(t, out, "2 streams, 16 slices")
}

func TestImportNoiseMissingModel(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")

	_, err := execute(t, "--config", cfgPath, "simulate", "--streams", "1", "--slices", "4")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfgPath, "import-noise")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Contains(t, out, "imported 0 of 1 noise models")
}
