package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/skymap/internal/domain/accum"
	"github.com/okian/skymap/internal/domain/skyframe"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SKYMAP_"

// EnvConfigFile names the environment variable holding the YAML config path.
const EnvConfigFile = EnvPrefix + "CONFIG"

// listKeys are the keys whose env values hold comma separated lists.
var listKeys = map[string]bool{ //nolint:gochecknoglobals // lookup table
	"inputs":        true,
	"spread_params": true,
	"lbnd":          true,
	"ubnd":          true,
	"crval":         true,
	"crpix":         true,
	"cdelt":         true,
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if SKYMAP_CONFIG is set
//  3. env (prefix SKYMAP_)
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, os.Getenv(EnvConfigFile))
}

// LoadFrom is Load with an explicit YAML path; an empty path skips the file layer.
func LoadFrom(ctx context.Context, path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// SKYMAP_WORKER_COUNT -> worker_count (flat keys); lists are comma separated.
	envProvider := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.TrimPrefix(strings.ToLower(key), strings.ToLower(EnvPrefix))
		if listKeys[key] {
			return key, splitList(value)
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := New(ctx)
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for consistency.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log_level %q", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return invalid("log_format %q must be text or json", c.LogFormat)
	}
	if c.WorkerCount < 1 || c.QueueSize < 1 || c.DedupeSize < 1 {
		return invalid("worker_count, queue_size and dedupe_size must be positive")
	}
	if c.StripeCount < 0 {
		return invalid("stripe_count must not be negative")
	}
	if c.StorePath == "" {
		return invalid("store_path must not be empty")
	}
	if c.OutputName == "" {
		return invalid("output_name must not be empty")
	}

	lib := skyframe.NewLibrary()
	if !lib.HasSystem(c.OutputSystem) {
		return invalid("unknown output_system %q", c.OutputSystem)
	}
	if !lib.HasSystem(c.ReferenceSystem) {
		return invalid("unknown reference_system %q", c.ReferenceSystem)
	}

	if len(c.Lbnd) != 2 || len(c.Ubnd) != 2 {
		return invalid("lbnd and ubnd need 2 values")
	}
	if c.Ubnd[0] < c.Lbnd[0] || c.Ubnd[1] < c.Lbnd[1] {
		return invalid("ubnd %v below lbnd %v", c.Ubnd, c.Lbnd)
	}
	if len(c.Crval) != 2 || len(c.Crpix) != 2 || len(c.Cdelt) != 2 {
		return invalid("crval, crpix and cdelt need 2 values")
	}
	if c.Cdelt[0] == 0 || c.Cdelt[1] == 0 {
		return invalid("cdelt must not be zero")
	}

	spec, err := c.SpreadSpec()
	if err != nil {
		return invalid("%v", err)
	}
	if err := spec.Validate(); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// SpreadSpec returns the accumulation settings.
func (c *Config) SpreadSpec() (accum.SpreadSpec, error) {
	scheme, err := accum.ParseScheme(c.Spread)
	if err != nil {
		return accum.SpreadSpec{}, err
	}
	var flags accum.Flags
	if c.UseVariance {
		flags |= accum.UseVariance
	}
	if c.VarWeight {
		flags |= accum.VarWeight
	}
	if c.GenVariance {
		flags |= accum.GenVariance
	}
	return accum.SpreadSpec{
		Scheme:      scheme,
		Params:      append([]float64(nil), c.SpreadParams...),
		Flags:       flags,
		WeightLimit: c.WeightLimit,
	}, nil
}

// Bounds returns the output pixel bounds. Call after Validate.
func (c *Config) Bounds() (lbnd, ubnd [2]int) {
	return [2]int{c.Lbnd[0], c.Lbnd[1]}, [2]int{c.Ubnd[0], c.Ubnd[1]}
}
