// Package dedupe tracks which streams have a rebin job in flight so a stream
// is never pasted into the same output twice at once.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultMaxSize = 50000

// Claims records stream names while their jobs are queued or running.
type Claims interface {
	// Claim records name and reports whether it was already held.
	Claim(ctx context.Context, name string) bool

	// Release drops name so a later job may claim it again.
	Release(ctx context.Context, name string)

	// Held reports whether name is currently claimed.
	Held(name string) bool

	Size() int64
}

type claim struct {
	name string
	seq  uint64
}

// inMemoryClaims keeps claims in a map. In bounded mode the oldest claim is
// evicted once maxSize names are held.
type inMemoryClaims struct {
	mu      sync.Mutex
	held    map[string]uint64 // name -> claim sequence
	order   []claim           // claims in order, may hold released ones
	seq     uint64
	maxSize int // 0 or negative means unbounded
	size    atomic.Int64
}

// NewInMemoryClaims creates an empty claim set.
func NewInMemoryClaims(opts ...Option) Claims {
	c := &inMemoryClaims{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(c)
	}
	c.held = make(map[string]uint64)
	return c
}

func (c *inMemoryClaims) Claim(ctx context.Context, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.held[name]; ok {
		return true
	}
	if c.maxSize > 0 && len(c.held) >= c.maxSize {
		c.evictOldest()
	}
	c.seq++
	c.held[name] = c.seq
	if c.maxSize > 0 {
		c.order = append(c.order, claim{name: name, seq: c.seq})
	}
	c.size.Store(int64(len(c.held)))
	return false
}

func (c *inMemoryClaims) Release(ctx context.Context, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.held[name]; !ok {
		return
	}
	delete(c.held, name)
	c.size.Store(int64(len(c.held)))
	if len(c.held) == 0 {
		c.order = c.order[:0]
	}
}

func (c *inMemoryClaims) Held(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.held[name]
	return ok
}

func (c *inMemoryClaims) Size() int64 { return c.size.Load() }

// evictOldest drops the oldest live claim. Must be called with c.mu held.
func (c *inMemoryClaims) evictOldest() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if seq, ok := c.held[oldest.name]; ok && seq == oldest.seq {
			delete(c.held, oldest.name)
			return
		}
	}
}
