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
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New(ctx))
//  2. file (YAML) if CARNET_CONFIG is set
//  3. env (prefix CARNET_)
func Load(ctx context.Context) (*Config, error) {
	// Start with defaults
	base := New(ctx)

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("CARNET_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: CARNET_ADDR, CARNET_SNAPSHOT_PATH, ...
	// Map env keys like CARNET_SNAPSHOT_PATH -> snapshot_path (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("CARNET_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "carnet_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// Basic validation
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if cfg.SweepIntervalMinutes < 0 {
		return nil, fmt.Errorf("%w: sweep_interval_minutes must not be negative", ErrInvalidConfig)
	}
	if cfg.TempPhotoMaxAgeHours < 0 {
		return nil, fmt.Errorf("%w: temp_photo_max_age_hours must not be negative", ErrInvalidConfig)
	}
	switch cfg.BlobBackend {
	case "memory", "cloudinary":
	default:
		return nil, fmt.Errorf("%w: unknown blob_backend %q", ErrInvalidConfig, cfg.BlobBackend)
	}
	return &cfg, nil
}
