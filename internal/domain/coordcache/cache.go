// Package coordcache remembers, per stream, whether the native sky system of
// the stream is the reference system.
package coordcache

import (
	"sync"
	"sync/atomic"
)

// DefaultReference is the horizon system used to locate moving targets.
const DefaultReference = "AZEL"

// AttributeGetter is the frame capability the cache needs.
type AttributeGetter interface {
	Get(attr string) (string, error)
}

// Cache holds the answer for one stream. Create one per job.
//
// The answer is computed from the frame passed on the first call, which must
// be time slice 0; the native system of a stream is assumed not to change
// after that slice.
type Cache struct {
	reference   string
	once        sync.Once
	isRef       bool
	evaluatedAt int
	evaluations atomic.Int32
}

// New returns a cache comparing against reference, or DefaultReference when empty.
func New(reference string) *Cache {
	if reference == "" {
		reference = DefaultReference
	}
	return &Cache{reference: reference, evaluatedAt: -1}
}

// IsReferenceSystem reports whether the System attribute of frame equals the
// reference system. Only the first call queries the frame.
func (c *Cache) IsReferenceSystem(frame AttributeGetter, itime int) bool {
	c.once.Do(func() {
		sys, err := frame.Get("System")
		c.isRef = err == nil && sys == c.reference
		c.evaluatedAt = itime
		c.evaluations.Add(1)
	})
	return c.isRef
}

// Reference returns the reference system name.
func (c *Cache) Reference() string { return c.reference }

// Evaluations returns how many times the frame was queried (0 or 1).
func (c *Cache) Evaluations() int { return int(c.evaluations.Load()) }
