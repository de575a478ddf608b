package skyframe

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

// Attribute names understood by Frame.Get, Frame.Set and Frame.Clear.
const (
	AttrSystem   = "System"
	AttrEpoch    = "Epoch"
	AttrDomain   = "Domain"
	AttrSkyRef1  = "SkyRef(1)"
	AttrSkyRef2  = "SkyRef(2)"
	AttrSkyRefIs = "SkyRefIs"
)

// Values of the SkyRefIs attribute.
const (
	SkyRefIgnored = "Ignored"
	SkyRefOrigin  = "Origin"
)

type frameAttrs struct {
	domain   string
	system   string
	epoch    float64
	skyRef   [2]float64
	skyRefIs string
}

// Frame describes a 2-D coordinate system.
type Frame struct {
	lib      *Library
	mu       sync.Mutex
	a        frameAttrs
	lock     sync.RWMutex
	released atomic.Bool
}

// NewSkyFrame returns a sky frame in the given system at an epoch (MJD).
func (l *Library) NewSkyFrame(system string, epoch float64) *Frame {
	return l.newFrame(frameAttrs{domain: DomainSky, system: system, epoch: epoch, skyRefIs: SkyRefIgnored})
}

// NewGridFrame returns a pixel grid frame.
func (l *Library) NewGridFrame() *Frame {
	return l.newFrame(frameAttrs{domain: DomainGrid, skyRefIs: SkyRefIgnored})
}

func (l *Library) newFrame(a frameAttrs) *Frame {
	l.live.Add(1)
	return &Frame{lib: l, a: a}
}

func (f *Frame) attrs() frameAttrs {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.a
}

// Get returns the formatted value of an attribute.
func (f *Frame) Get(attr string) (string, error) {
	if f.released.Load() {
		return "", ErrReleased
	}
	a := f.attrs()
	switch attr {
	case AttrSystem:
		f.lib.queries.Add(1)
		return a.system, nil
	case AttrEpoch:
		return strconv.FormatFloat(a.epoch, 'g', -1, 64), nil
	case AttrDomain:
		return a.domain, nil
	case AttrSkyRef1:
		return strconv.FormatFloat(a.skyRef[0], 'g', -1, 64), nil
	case AttrSkyRef2:
		return strconv.FormatFloat(a.skyRef[1], 'g', -1, 64), nil
	case AttrSkyRefIs:
		return a.skyRefIs, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}
}

// Set assigns an attribute from its formatted value.
func (f *Frame) Set(attr, value string) error {
	if f.released.Load() {
		return ErrReleased
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch attr {
	case AttrSystem:
		f.a.system = value
	case AttrDomain:
		f.a.domain = value
	case AttrSkyRefIs:
		switch value {
		case SkyRefIgnored, SkyRefOrigin:
			f.a.skyRefIs = value
		default:
			return fmt.Errorf("invalid %s value %q", AttrSkyRefIs, value)
		}
	case AttrEpoch, AttrSkyRef1, AttrSkyRef2:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", attr, value, err)
		}
		switch attr {
		case AttrEpoch:
			f.a.epoch = v
		case AttrSkyRef1:
			f.a.skyRef[0] = v
		default:
			f.a.skyRef[1] = v
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}
	return nil
}

// SetFloat assigns a numeric attribute.
func (f *Frame) SetFloat(attr string, v float64) error {
	return f.Set(attr, strconv.FormatFloat(v, 'g', -1, 64))
}

// Clear restores an attribute to its default value.
func (f *Frame) Clear(attr string) error {
	if f.released.Load() {
		return ErrReleased
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch attr {
	case AttrSkyRef1:
		f.a.skyRef[0] = 0
	case AttrSkyRef2:
		f.a.skyRef[1] = 0
	case AttrSkyRefIs:
		f.a.skyRefIs = SkyRefIgnored
	case AttrEpoch:
		f.a.epoch = j2000
	case AttrSystem:
		if f.a.domain == DomainSky {
			f.a.system = SystemICRS
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}
	return nil
}

// Copy returns an independent copy of the frame.
func (f *Frame) Copy() *Frame {
	return f.lib.newFrame(f.attrs())
}

// Lock acquires a shared lock for the caller's usage window.
func (f *Frame) Lock() { f.lock.RLock() }

// Unlock releases a lock taken with Lock.
func (f *Frame) Unlock() { f.lock.RUnlock() }

// Annul releases the frame. Calling it more than once is a no-op.
func (f *Frame) Annul() {
	if f.released.CompareAndSwap(false, true) {
		f.lib.live.Add(-1)
	}
}
