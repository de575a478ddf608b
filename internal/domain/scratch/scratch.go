// Package scratch pools float64 work buffers used once per time slice.
package scratch

import "sync"

var pool = sync.Pool{ //nolint:gochecknoglobals // process-wide buffer pool
	New: func() interface{} {
		b := make([]float64, 0, 2048)
		return &b
	},
}

// Get returns a zeroed buffer of length n.
func Get(n int) []float64 {
	bp := pool.Get().(*[]float64)
	b := *bp
	if cap(b) < n {
		b = make([]float64, n)
	} else {
		b = b[:n]
		clear(b)
	}
	return b
}

// Put returns a buffer to the pool. The caller must not use it afterwards.
func Put(b []float64) {
	if b == nil {
		return
	}
	b = b[:0]
	pool.Put(&b)
}
