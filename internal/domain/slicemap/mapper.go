// Package slicemap builds the per-time-slice mapping from detector grid
// coordinates to output map pixels.
package slicemap

import (
	"fmt"

	"github.com/okian/skymap/internal/domain/coordcache"
	"github.com/okian/skymap/internal/domain/model"
	"github.com/okian/skymap/internal/domain/skyframe"
)

// Mapper derives slice mappings using one coordinate library.
type Mapper struct {
	lib *skyframe.Library
}

// New returns a Mapper over lib.
func New(lib *skyframe.Library) *Mapper {
	return &Mapper{lib: lib}
}

// Mapping returns the mapping from GRID coordinates of slice itime of stream
// to output pixel coordinates. absSky is the output sky frame and skyToMap
// maps absSky coordinates (offsets from the base position when moving) to
// output pixels.
//
// Every object created here is annulled before returning except the result,
// which the caller must annul.
func (m *Mapper) Mapping(
	stream *model.Stream,
	cache *coordcache.Cache,
	itime int,
	absSky *skyframe.Frame,
	skyToMap *skyframe.Mapping,
	moving bool,
) (*skyframe.Mapping, error) {
	wcs, err := stream.SliceWCS(m.lib, itime)
	if err != nil {
		return nil, err
	}
	defer wcs.Annul()

	skyIn, err := wcs.GetFrame(skyframe.Current)
	if err != nil {
		return nil, err
	}
	native := cache.IsReferenceSystem(skyIn, itime)

	fs := m.lib.Convert(skyIn, absSky)
	if fs == nil {
		return nil, m.incompatible(stream, itime, skyIn, absSky)
	}
	defer fs.Annul()

	var skyToAbs *skyframe.Mapping
	if moving {
		skyToAbs, err = m.offsetMapping(stream, cache, itime, native, skyIn, absSky, fs)
	} else {
		skyToAbs, err = fs.GetMapping(skyframe.Base, skyframe.Current)
	}
	if err != nil {
		return nil, err
	}
	defer skyToAbs.Annul()

	gridToSky, err := wcs.GetMapping(skyframe.Base, skyframe.Current)
	if err != nil {
		return nil, err
	}
	defer gridToSky.Annul()

	gridToAbs, err := m.lib.Compose(gridToSky, skyToAbs)
	if err != nil {
		return nil, err
	}
	defer gridToAbs.Annul()

	return m.lib.Compose(gridToAbs, skyToMap)
}

// offsetMapping returns the mapping from the native sky system to offsets
// from the telescope base position, expressed in the output sky system.
func (m *Mapper) offsetMapping(
	stream *model.Stream,
	cache *coordcache.Cache,
	itime int,
	native bool,
	skyIn, absSky *skyframe.Frame,
	fs *skyframe.FrameSet,
) (*skyframe.Mapping, error) {
	azToOutput := fs
	if !native {
		azIn := skyIn.Copy()
		defer azIn.Annul()
		if err := azIn.Set(skyframe.AttrSystem, cache.Reference()); err != nil {
			return nil, err
		}
		azToOutput = m.lib.Convert(azIn, absSky)
		if azToOutput == nil {
			return nil, m.incompatible(stream, itime, azIn, absSky)
		}
		defer azToOutput.Annul()
	}

	azMap, err := azToOutput.GetMapping(skyframe.Base, skyframe.Current)
	if err != nil {
		return nil, err
	}
	defer azMap.Annul()

	st := stream.Header.States[itime]
	refLon, refLat, err := azMap.TransformPoint(st.AzBc1, st.AzBc2)
	if err != nil {
		return nil, fmt.Errorf("transform base position of slice %d: %w", itime, err)
	}

	restore, err := offsetOrigin(fs, refLon, refLat)
	defer restore()
	if err != nil {
		return nil, err
	}
	return fs.GetMapping(skyframe.Base, skyframe.Current)
}

// offsetOrigin makes the current frame of fs represent offsets from
// (lon, lat). The returned func clears the change and is safe to call even
// when an error is returned.
func offsetOrigin(fs *skyframe.FrameSet, lon, lat float64) (func(), error) {
	restore := func() {
		_ = fs.Clear(skyframe.AttrSkyRefIs)
		_ = fs.Clear(skyframe.AttrSkyRef1)
		_ = fs.Clear(skyframe.AttrSkyRef2)
	}
	if err := fs.SetFloat(skyframe.AttrSkyRef1, lon); err != nil {
		return restore, err
	}
	if err := fs.SetFloat(skyframe.AttrSkyRef2, lat); err != nil {
		return restore, err
	}
	if err := fs.Set(skyframe.AttrSkyRefIs, skyframe.SkyRefOrigin); err != nil {
		return restore, err
	}
	return restore, nil
}

func (m *Mapper) incompatible(stream *model.Stream, itime int, from, to *skyframe.Frame) error {
	fromSys, _ := from.Get(skyframe.AttrDomain)
	if s, err := from.Get(skyframe.AttrSystem); err == nil && fromSys == skyframe.DomainSky {
		fromSys = s
	}
	toSys, _ := to.Get(skyframe.AttrDomain)
	if s, err := to.Get(skyframe.AttrSystem); err == nil && toSys == skyframe.DomainSky {
		toSys = s
	}
	return &IncompatibleFrameError{Stream: stream.Name, Slice: itime, From: fromSys, To: toSys}
}
