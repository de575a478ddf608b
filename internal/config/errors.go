package config

import "errors"

// Sentinel kinds for skymap configuration errors.
var (
	ErrInvalidConfig = errors.New("invalid skymap configuration")
	ErrLoadConfig    = errors.New("cannot load skymap configuration")
)
