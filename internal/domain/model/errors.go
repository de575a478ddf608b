package model

import "errors"

// Sentinel errors for stream construction.
var (
	ErrShape = errors.New("stream shape mismatch")
	ErrSlice = errors.New("time slice out of range")
)
