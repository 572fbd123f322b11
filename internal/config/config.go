// Package config defines service configuration structures and loading hooks.
package config

import (
	"context"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address for health and metrics.
	Addr string `koanf:"addr"`

	// SnapshotPath is where the store persists its JSON snapshot.
	// Empty disables persistence.
	SnapshotPath string `koanf:"snapshot_path"`

	// SweepIntervalMinutes sets the staged-photo sweep cadence.
	// Zero disables the sweeper.
	SweepIntervalMinutes int `koanf:"sweep_interval_minutes"`

	// TempPhotoMaxAgeHours sets how long staged photos live before expiry.
	TempPhotoMaxAgeHours int `koanf:"temp_photo_max_age_hours"`

	// BlobBackend selects the blob storage backend: memory or cloudinary.
	// Cloudinary reads its credentials from CLOUDINARY_URL.
	BlobBackend string `koanf:"blob_backend"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention; it is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		SnapshotPath:         "",
		SweepIntervalMinutes: 15,
		TempPhotoMaxAgeHours: 72,
		BlobBackend:          "memory",
	}
}
