package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/sbellone/carnet/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			// Clear any existing environment variables
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.SweepIntervalMinutes, convey.ShouldEqual, 15)
				convey.So(cfg.TempPhotoMaxAgeHours, convey.ShouldEqual, 72)
				convey.So(cfg.BlobBackend, convey.ShouldEqual, "memory")
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			// Set environment variables
			_ = os.Setenv("CARNET_ADDR", ":8080")
			_ = os.Setenv("CARNET_LOG_LEVEL", "debug")
			_ = os.Setenv("CARNET_SNAPSHOT_PATH", "/tmp/carnet.json")
			_ = os.Setenv("CARNET_SWEEP_INTERVAL_MINUTES", "5")
			_ = os.Setenv("CARNET_TEMP_PHOTO_MAX_AGE_HOURS", "24")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
				convey.So(cfg.SnapshotPath, convey.ShouldEqual, "/tmp/carnet.json")
				convey.So(cfg.SweepIntervalMinutes, convey.ShouldEqual, 5)
				convey.So(cfg.TempPhotoMaxAgeHours, convey.ShouldEqual, 24)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			// Create a temporary YAML config file
			clearConfigEnvVars()
			dir := t.TempDir()
			path := filepath.Join(dir, "carnet.yaml")
			yaml := "addr: \":7070\"\nsweep_interval_minutes: 30\nblob_backend: cloudinary\n"
			convey.So(os.WriteFile(path, []byte(yaml), 0o600), convey.ShouldBeNil)
			_ = os.Setenv("CARNET_CONFIG", path)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.SweepIntervalMinutes, convey.ShouldEqual, 30)
				convey.So(cfg.BlobBackend, convey.ShouldEqual, "cloudinary")
			})

			convey.Convey("And env vars override the file", func() {
				_ = os.Setenv("CARNET_ADDR", ":6060")

				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":6060")
			})
		})

		convey.Convey("When the config is invalid", func() {
			clearConfigEnvVars()
			_ = os.Setenv("CARNET_BLOB_BACKEND", "ftp")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then ErrInvalidConfig is returned", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, key := range []string{
		"CARNET_CONFIG",
		"CARNET_ADDR",
		"CARNET_LOG_LEVEL",
		"CARNET_SNAPSHOT_PATH",
		"CARNET_SWEEP_INTERVAL_MINUTES",
		"CARNET_TEMP_PHOTO_MAX_AGE_HOURS",
		"CARNET_BLOB_BACKEND",
	} {
		_ = os.Unsetenv(key)
	}
}
