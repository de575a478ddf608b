// Package config defines process configuration and how it is loaded.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - All functions accept context.Context as the first parameter.
// - Validation errors wrap ErrInvalidConfig; load errors wrap ErrLoadConfig.
package config

import (
	"context"
	"runtime"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json log output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080". Empty disables the server.
	Addr string `koanf:"addr"`

	// WorkerCount sets the number of concurrent rebin jobs.
	WorkerCount int `koanf:"worker_count"`
	// QueueSize bounds the in-memory job queue.
	QueueSize int `koanf:"queue_size"`
	// DedupeSize bounds the set of in-flight stream names.
	DedupeSize int `koanf:"dedupe_size"`
	// StripeCount sets the number of output row stripes; 0 picks one from the CPU count.
	StripeCount int `koanf:"stripe_count"`

	// StorePath is the SQLite container store.
	StorePath string `koanf:"store_path"`
	// Inputs names the stream containers to rebin; empty selects every stream.
	Inputs []string `koanf:"inputs"`
	// OutputName is the container the finished map is written to.
	OutputName string `koanf:"output_name"`
	// OutputSystem is the sky system of the output map.
	OutputSystem string `koanf:"output_system"`

	// Moving tracks a moving target by working in offsets from the base position.
	Moving bool `koanf:"moving"`
	// ReferenceSystem is the horizon system the base position is given in.
	ReferenceSystem string `koanf:"reference_system"`

	// Spread names the kernel: nearest, linear, sinc, gauss.
	Spread       string    `koanf:"spread"`
	SpreadParams []float64 `koanf:"spread_params"`
	UseVariance  bool      `koanf:"use_variance"`
	VarWeight    bool      `koanf:"var_weight"`
	GenVariance  bool      `koanf:"gen_variance"`
	WeightLimit  float64   `koanf:"weight_limit"`

	// Lbnd and Ubnd are the inclusive output pixel bounds.
	Lbnd []int `koanf:"lbnd"`
	Ubnd []int `koanf:"ubnd"`
	// Crval, Crpix and Cdelt place the output pixel grid on the sky, in degrees.
	Crval []float64 `koanf:"crval"`
	Crpix []float64 `koanf:"crpix"`
	Cdelt []float64 `koanf:"cdelt"`

	// NoiseImport reads a <stream>_noi model for every input.
	NoiseImport bool `koanf:"noise_import"`
	// PreviewPath, when set, receives a heatmap of the finished map.
	PreviewPath string `koanf:"preview_path"`
}

// New creates a Config with defaults. The output grid covers the field the
// simulator writes by default.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            "",
		WorkerCount:     runtime.NumCPU(),
		QueueSize:       1024,
		DedupeSize:      50_000,
		StripeCount:     0,
		StorePath:       "skymap.db",
		OutputName:      "skymap_map",
		OutputSystem:    "ICRS",
		ReferenceSystem: "AZEL",
		Spread:          "nearest",
		Lbnd:            []int{1, 1},
		Ubnd:            []int{160, 120},
		Crval:           []float64{83.63, 22.01},
		Crpix:           []float64{80.5, 60.5},
		Cdelt:           []float64{0.002, 0.002},
	}
}
