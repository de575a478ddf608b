package repository

import "errors"

// Sentinel kinds for container store errors.
var (
	ErrNotFound = errors.New("container item not found")
	ErrCorrupt  = errors.New("container item is corrupt")
)
