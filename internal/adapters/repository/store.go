// Package repository persists named containers of arrays and extension items.
package repository

import "context"

// Container kinds.
const (
	KindStream = "stream"
	KindNoise  = "noise"
	KindMap    = "map"
)

// Array components.
const (
	ComponentData     = "DATA"
	ComponentVariance = "VARIANCE"
	ComponentWeights  = "WEIGHTS"
	ComponentBolovar  = "BOLOVAR"
	ComponentState    = "STATE"
)

// Array is an N-dimensional array of doubles, first axis fastest.
type Array struct {
	Dims []int
	Data []float64
}

// Len returns the number of elements the dims describe.
func (a Array) Len() int {
	if len(a.Dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range a.Dims {
		n *= d
	}
	return n
}

// Store provides read/write access to containers.
type Store interface {
	// Create makes an empty container, replacing any existing one of the same name.
	Create(ctx context.Context, name, kind string) error

	// WriteArray stores a component of an existing container.
	WriteArray(ctx context.Context, container, component string, a Array) error
	// ReadArray returns ErrNotFound if the container or component is absent.
	ReadArray(ctx context.Context, container, component string) (Array, error)

	// SetExtension stores a scalar extension item such as SMURF.NOI_BOXSIZE.
	SetExtension(ctx context.Context, container, ext, key, value string) error
	// GetExtension returns ErrNotFound if the item is absent.
	GetExtension(ctx context.Context, container, ext, key string) (string, error)

	// ListContainers returns container names of a kind, or all names when kind is empty.
	ListContainers(ctx context.Context, kind string) ([]string, error)

	Close() error
}
