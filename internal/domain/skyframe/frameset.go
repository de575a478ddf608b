package skyframe

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Frame indices within a FrameSet.
const (
	Base    = 1
	Current = 2
)

// FrameSet joins a base frame to a current frame through a mapping.
type FrameSet struct {
	lib      *Library
	base     *Frame
	current  *Frame
	mapping  *Mapping
	lock     sync.RWMutex
	released atomic.Bool
}

// NewFrameSet takes ownership of base, current and m; Annul on the frame
// set releases all three.
func (l *Library) NewFrameSet(base, current *Frame, m *Mapping) *FrameSet {
	l.live.Add(1)
	return &FrameSet{lib: l, base: base, current: current, mapping: m}
}

// GetFrame returns the frame at index. The frame stays owned by the frame
// set; attribute changes made through it are seen by GetMapping.
func (fs *FrameSet) GetFrame(index int) (*Frame, error) {
	if fs.released.Load() {
		return nil, ErrReleased
	}
	switch index {
	case Base:
		return fs.base, nil
	case Current:
		return fs.current, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrFrameIndex, index)
	}
}

// GetMapping returns a new mapping from frame index from to frame index to.
// A sky frame whose SkyRefIs attribute is Origin represents offsets from its
// SkyRef position, and the returned mapping includes that shift.
func (fs *FrameSet) GetMapping(from, to int) (*Mapping, error) {
	if fs.released.Load() {
		return nil, ErrReleased
	}
	if (from != Base && from != Current) || (to != Base && to != Current) {
		return nil, fmt.Errorf("%w: %d -> %d", ErrFrameIndex, from, to)
	}
	if from == to {
		return fs.lib.NewUnit(), nil
	}

	// base coordinates -> current coordinates, both absolute
	m, err := fs.mapping.Copy()
	if err != nil {
		return nil, err
	}
	if ba := fs.base.attrs(); ba.skyRefIs == SkyRefOrigin {
		m, err = fs.chain(fs.lib.NewShift(ba.skyRef[0], ba.skyRef[1]), m)
		if err != nil {
			return nil, err
		}
	}
	if ca := fs.current.attrs(); ca.skyRefIs == SkyRefOrigin {
		m, err = fs.chain(m, fs.lib.NewShift(-ca.skyRef[0], -ca.skyRef[1]))
		if err != nil {
			return nil, err
		}
	}
	if from == Base {
		return m, nil
	}

	defer m.Annul()
	return m.Invert()
}

// chain composes first then second and annuls both inputs.
func (fs *FrameSet) chain(first, second *Mapping) (*Mapping, error) {
	defer first.Annul()
	defer second.Annul()
	return fs.lib.Compose(first, second)
}

// Set assigns an attribute of the current frame.
func (fs *FrameSet) Set(attr, value string) error {
	if fs.released.Load() {
		return ErrReleased
	}
	return fs.current.Set(attr, value)
}

// SetFloat assigns a numeric attribute of the current frame.
func (fs *FrameSet) SetFloat(attr string, v float64) error {
	if fs.released.Load() {
		return ErrReleased
	}
	return fs.current.SetFloat(attr, v)
}

// Clear restores an attribute of the current frame to its default.
func (fs *FrameSet) Clear(attr string) error {
	if fs.released.Load() {
		return ErrReleased
	}
	return fs.current.Clear(attr)
}

// Lock acquires a shared lock for the caller's usage window.
func (fs *FrameSet) Lock() { fs.lock.RLock() }

// Unlock releases a lock taken with Lock.
func (fs *FrameSet) Unlock() { fs.lock.RUnlock() }

// Annul releases the frame set and the objects it owns.
func (fs *FrameSet) Annul() {
	if !fs.released.CompareAndSwap(false, true) {
		return
	}
	fs.base.Annul()
	fs.current.Annul()
	fs.mapping.Annul()
	fs.lib.live.Add(-1)
}
