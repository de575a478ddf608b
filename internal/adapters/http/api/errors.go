package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrNoRun = errors.New("no rebin run has finished yet")
)
