package repository

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/skymap/internal/domain/accum"
	"github.com/okian/skymap/internal/domain/model"
	"github.com/okian/skymap/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "skymap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Arrays(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Create(ctx, "s8a_0001_con", KindStream))
	in := Array{Dims: []int{2, 3}, Data: []float64{1, 2, 3, 4, 5, accum.Bad}}
	require.NoError(t, s.WriteArray(ctx, "s8a_0001_con", ComponentData, in))

	out, err := s.ReadArray(ctx, "s8a_0001_con", ComponentData)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("array mismatch (-want +got):\n%s", diff)
	}

	_, err = s.ReadArray(ctx, "s8a_0001_con", ComponentVariance)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.WriteArray(ctx, "missing", ComponentData, in)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.WriteArray(ctx, "s8a_0001_con", ComponentData, Array{Dims: []int{4}, Data: []float64{1}})
	assert.Error(t, err)
}

func TestSQLiteStore_Extensions(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Create(ctx, "s8a_0001_noi", KindNoise))
	require.NoError(t, s.SetExtension(ctx, "s8a_0001_noi", ExtSmurf, KeyNoiBoxSize, "200"))

	v, err := s.GetExtension(ctx, "s8a_0001_noi", ExtSmurf, KeyNoiBoxSize)
	require.NoError(t, err)
	assert.Equal(t, "200", v)

	_, err = s.GetExtension(ctx, "s8a_0001_noi", ExtSmurf, KeyNUsed)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetExtension(ctx, "nope", ExtSmurf, KeyNUsed, "1"), ErrNotFound)
}

func TestSQLiteStore_CreateReplaces(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Create(ctx, "m", KindMap))
	require.NoError(t, s.WriteArray(ctx, "m", ComponentData, Array{Dims: []int{1}, Data: []float64{7}}))
	require.NoError(t, s.Create(ctx, "m", KindMap))

	_, err := s.ReadArray(ctx, "m", ComponentData)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListContainers(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Create(ctx, "b_con", KindStream))
	require.NoError(t, s.Create(ctx, "a_con", KindStream))
	require.NoError(t, s.Create(ctx, "a_noi", KindNoise))

	streams, err := s.ListContainers(ctx, KindStream)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_con", "b_con"}, streams)

	all, err := s.ListContainers(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteStore_StreamRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	h := model.Header{
		System:     "AZEL",
		FocalPlane: model.FocalPlane{PixelScale: 0.002, Rotation: 12.5, RefCol: 16.5, RefRow: 20.5},
		States: []model.State{
			{Epoch: 60000.1, Ac1: 180, Ac2: 45, AzBc1: 180, AzBc2: 45},
			{Epoch: 60000.2, Ac1: 180.1, Ac2: 45.1, AzBc1: 180.05, AzBc2: 45.05},
		},
	}
	st, err := model.NewStream("s8a_0002_con", [3]int{2, 2, 2}, []float64{1, 2, 3, 4, 5, 6, 7, accum.Bad}, h)
	require.NoError(t, err)
	st.Bolovar = []float64{0.1, 0.2, 0.3, 0.4}

	require.NoError(t, s.SaveStream(ctx, st))
	got, err := s.LoadStream(ctx, "s8a_0002_con")
	require.NoError(t, err)

	assert.Equal(t, st.Dims(), got.Dims())
	assert.Equal(t, st.Data(), got.Data())
	assert.Equal(t, st.Bolovar, got.Bolovar)
	assert.Nil(t, got.SliceVariance)
	if diff := cmp.Diff(h, got.Header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}

	_, err = s.LoadStream(ctx, "s8a_9999_con")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_StreamVarianceShape(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	h := model.Header{System: "AZEL", FocalPlane: model.FocalPlane{PixelScale: 1}, States: make([]model.State, 2)}
	st, err := model.NewStream("s8a_0003_con", [3]int{2, 2, 2}, make([]float64, 8), h)
	require.NoError(t, err)
	require.NoError(t, st.SetSliceVariance([]float64{1, 1, 1, 1, 2, 2, 2, 2}))
	require.NoError(t, s.SaveStream(ctx, st))

	got, err := s.LoadStream(ctx, "s8a_0003_con")
	require.NoError(t, err)
	v, err := got.SliceVarianceAt(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 2, 2}, v)

	require.NoError(t, s.WriteArray(ctx, "s8a_0003_con", ComponentVariance, Array{Dims: []int{4}, Data: []float64{1, 1, 1, 1}}))
	_, err = s.LoadStream(ctx, "s8a_0003_con")
	assert.ErrorIs(t, err, model.ErrShape)

	require.NoError(t, s.WriteArray(ctx, "s8a_0003_con", ComponentVariance, Array{Dims: []int{2, 2, 2}, Data: make([]float64, 8)}))
	require.NoError(t, s.WriteArray(ctx, "s8a_0003_con", ComponentBolovar, Array{Dims: []int{3}, Data: []float64{1, 1, 1}}))
	_, err = s.LoadStream(ctx, "s8a_0003_con")
	assert.ErrorIs(t, err, model.ErrShape)
}

func TestSQLiteStore_MapRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	snap := accum.Snapshot{
		Lbnd:     [2]int{1, 1},
		Ubnd:     [2]int{3, 2},
		Data:     []float64{1, 2, 3, accum.Bad, 5, 6},
		Variance: []float64{0.1, 0.2, 0.3, accum.Bad, 0.5, 0.6},
		Weights:  []float64{1, 1, 2, 0, 1, 3},
		NUsed:    42,
	}
	require.NoError(t, s.SaveMap(ctx, "map", snap))

	got, err := s.LoadMap(ctx, "map")
	require.NoError(t, err)
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Errorf("map mismatch (-want +got):\n%s", diff)
	}

	a, err := s.ReadArray(ctx, "map", ComponentData)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, a.Dims)
}

func TestSQLiteStore_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Create(ctx, "c", KindMap))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := Array{Dims: []int{1}, Data: []float64{float64(i)}}
			assert.NoError(t, s.WriteArray(ctx, "c", string(rune('A'+i)), a))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		a, err := s.ReadArray(ctx, "c", string(rune('A'+i)))
		require.NoError(t, err)
		assert.Equal(t, float64(i), a.Data[0])
	}
}
