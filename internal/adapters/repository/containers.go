package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/okian/skymap/internal/domain/accum"
	"github.com/okian/skymap/internal/domain/model"
)

// Extension names and keys.
const (
	ExtSkymap = "SKYMAP"
	ExtSmurf  = "SMURF"

	KeySystem     = "SYSTEM"
	KeyPixelScale = "PIXEL_SCALE"
	KeyRotation   = "ROTATION"
	KeyRefCol     = "REF_COL"
	KeyRefRow     = "REF_ROW"
	KeyLbnd       = "LBND"
	KeyUbnd       = "UBND"
	KeyNUsed      = "NUSED"
	KeyNoiBoxSize = "NOI_BOXSIZE"
)

// stateFields is the number of values recorded per slice in the STATE component.
const stateFields = 5

// SaveStream writes a stream container: DATA, optional BOLOVAR and VARIANCE,
// per-slice STATE and the SKYMAP header extension.
func (s *SQLiteStore) SaveStream(ctx context.Context, st *model.Stream) error {
	st.Lock()
	defer st.Unlock()

	if st.Data() == nil {
		return fmt.Errorf("save stream %s: no data", st.Name)
	}
	dims := st.Dims()
	if err := s.Create(ctx, st.Name, KindStream); err != nil {
		return err
	}
	if err := s.WriteArray(ctx, st.Name, ComponentData, Array{Dims: dims[:], Data: st.Data()}); err != nil {
		return err
	}
	if st.Bolovar != nil {
		a := Array{Dims: []int{dims[0], dims[1]}, Data: st.Bolovar}
		if err := s.WriteArray(ctx, st.Name, ComponentBolovar, a); err != nil {
			return err
		}
	}
	if st.SliceVariance != nil {
		if err := s.WriteArray(ctx, st.Name, ComponentVariance, Array{Dims: dims[:], Data: st.SliceVariance}); err != nil {
			return err
		}
	}

	states := make([]float64, 0, stateFields*len(st.Header.States))
	for _, v := range st.Header.States {
		states = append(states, v.Epoch, v.Ac1, v.Ac2, v.AzBc1, v.AzBc2)
	}
	if err := s.WriteArray(ctx, st.Name, ComponentState, Array{Dims: []int{stateFields, dims[2]}, Data: states}); err != nil {
		return err
	}

	fp := st.Header.FocalPlane
	items := map[string]string{
		KeySystem:     st.Header.System,
		KeyPixelScale: formatFloat(fp.PixelScale),
		KeyRotation:   formatFloat(fp.Rotation),
		KeyRefCol:     formatFloat(fp.RefCol),
		KeyRefRow:     formatFloat(fp.RefRow),
	}
	for k, v := range items {
		if err := s.SetExtension(ctx, st.Name, ExtSkymap, k, v); err != nil {
			return err
		}
	}
	return nil
}

// LoadStream reads a container written by SaveStream.
func (s *SQLiteStore) LoadStream(ctx context.Context, name string) (*model.Stream, error) {
	data, err := s.ReadArray(ctx, name, ComponentData)
	if err != nil {
		return nil, err
	}
	if len(data.Dims) != 3 {
		return nil, fmt.Errorf("%w: %s.DATA has dims %v", ErrCorrupt, name, data.Dims)
	}
	state, err := s.ReadArray(ctx, name, ComponentState)
	if err != nil {
		return nil, err
	}
	if len(state.Dims) != 2 || state.Dims[0] != stateFields {
		return nil, fmt.Errorf("%w: %s.STATE has dims %v", ErrCorrupt, name, state.Dims)
	}

	h := model.Header{States: make([]model.State, state.Dims[1])}
	for i := range h.States {
		v := state.Data[i*stateFields : (i+1)*stateFields]
		h.States[i] = model.State{Epoch: v[0], Ac1: v[1], Ac2: v[2], AzBc1: v[3], AzBc2: v[4]}
	}
	if h.System, err = s.GetExtension(ctx, name, ExtSkymap, KeySystem); err != nil {
		return nil, err
	}
	for key, dst := range map[string]*float64{
		KeyPixelScale: &h.FocalPlane.PixelScale,
		KeyRotation:   &h.FocalPlane.Rotation,
		KeyRefCol:     &h.FocalPlane.RefCol,
		KeyRefRow:     &h.FocalPlane.RefRow,
	} {
		if *dst, err = s.extensionFloat(ctx, name, ExtSkymap, key); err != nil {
			return nil, err
		}
	}

	st, err := model.NewStream(name, [3]int{data.Dims[0], data.Dims[1], data.Dims[2]}, data.Data, h)
	if err != nil {
		return nil, err
	}
	if a, err := s.optionalArray(ctx, name, ComponentBolovar); err != nil {
		return nil, err
	} else if a != nil {
		if len(a) != st.NBolo() {
			return nil, fmt.Errorf("%w: %s %s has %d values for %d detectors", model.ErrShape, name, ComponentBolovar, len(a), st.NBolo())
		}
		st.Bolovar = a
	}
	if a, err := s.optionalArray(ctx, name, ComponentVariance); err != nil {
		return nil, err
	} else if err := st.SetSliceVariance(a); err != nil {
		return nil, fmt.Errorf("%s %s: %w", name, ComponentVariance, err)
	}
	return st, nil
}

// SaveMap writes an output map container: DATA, VARIANCE, WEIGHTS over the
// snapshot bounds, SMURF.NUSED and the pixel bounds.
func (s *SQLiteStore) SaveMap(ctx context.Context, name string, snap accum.Snapshot) error {
	dims := []int{snap.Ubnd[0] - snap.Lbnd[0] + 1, snap.Ubnd[1] - snap.Lbnd[1] + 1}
	if err := s.Create(ctx, name, KindMap); err != nil {
		return err
	}
	for component, values := range map[string][]float64{
		ComponentData:     snap.Data,
		ComponentVariance: snap.Variance,
		ComponentWeights:  snap.Weights,
	} {
		if err := s.WriteArray(ctx, name, component, Array{Dims: dims, Data: values}); err != nil {
			return err
		}
	}
	if err := s.SetExtension(ctx, name, ExtSmurf, KeyNUsed, strconv.FormatInt(snap.NUsed, 10)); err != nil {
		return err
	}
	if err := s.SetExtension(ctx, name, ExtSkymap, KeyLbnd, formatDims(snap.Lbnd[:])); err != nil {
		return err
	}
	return s.SetExtension(ctx, name, ExtSkymap, KeyUbnd, formatDims(snap.Ubnd[:]))
}

// LoadMap reads a container written by SaveMap.
func (s *SQLiteStore) LoadMap(ctx context.Context, name string) (accum.Snapshot, error) {
	var snap accum.Snapshot
	for key, dst := range map[string]*[2]int{KeyLbnd: &snap.Lbnd, KeyUbnd: &snap.Ubnd} {
		v, err := s.GetExtension(ctx, name, ExtSkymap, key)
		if err != nil {
			return accum.Snapshot{}, err
		}
		b, err := parseDims(v)
		if err != nil || len(b) != 2 {
			return accum.Snapshot{}, fmt.Errorf("%w: %s.%s.%s = %q", ErrCorrupt, name, ExtSkymap, key, v)
		}
		*dst = [2]int{b[0], b[1]}
	}
	for component, dst := range map[string]*[]float64{
		ComponentData:     &snap.Data,
		ComponentVariance: &snap.Variance,
		ComponentWeights:  &snap.Weights,
	} {
		a, err := s.ReadArray(ctx, name, component)
		if err != nil {
			return accum.Snapshot{}, err
		}
		*dst = a.Data
	}
	nused, err := s.GetExtension(ctx, name, ExtSmurf, KeyNUsed)
	if err != nil {
		return accum.Snapshot{}, err
	}
	if snap.NUsed, err = strconv.ParseInt(nused, 10, 64); err != nil {
		return accum.Snapshot{}, fmt.Errorf("%w: %s.%s.%s = %q", ErrCorrupt, name, ExtSmurf, KeyNUsed, nused)
	}
	return snap, nil
}

func (s *SQLiteStore) optionalArray(ctx context.Context, container, component string) ([]float64, error) {
	a, err := s.ReadArray(ctx, container, component)
	if err == nil {
		return a.Data, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return nil, err
}

func (s *SQLiteStore) extensionFloat(ctx context.Context, container, ext, key string) (float64, error) {
	v, err := s.GetExtension(ctx, container, ext, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s.%s.%s = %q", ErrCorrupt, container, ext, key, v)
	}
	return f, nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
