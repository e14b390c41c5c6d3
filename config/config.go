// Package config aggregates the configuration for every component of the
// render engine into a single YAML-loadable document.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sushant-115/gojoview/core/render/bitmapcache"
	"github.com/sushant-115/gojoview/core/render/pipeline"
	"github.com/sushant-115/gojoview/pkg/logger"
	"github.com/sushant-115/gojoview/pkg/telemetry"
)

// ViewerConfig holds the settings that shape virtualization and DPI
// selection, as opposed to the cache and pipeline internals.
type ViewerConfig struct {
	// BufferPages is the render margin added on each side of the on-screen
	// pages.
	BufferPages int `yaml:"buffer_pages"`
	// HysteresisPages is the extra demotion margin beyond the visible
	// range. 0 means BufferPages plus a small slack.
	HysteresisPages int `yaml:"hysteresis_pages"`
	// MaxInFlight bounds concurrently executing renders.
	MaxInFlight int `yaml:"max_in_flight"`
	// ZoomTableSize bounds the zoom-factor interning table.
	ZoomTableSize int `yaml:"zoom_table_size"`
	// DevicePixelRatio of the display, for high-DPI screens.
	DevicePixelRatio float64 `yaml:"device_pixel_ratio"`
	// QualityMultiplier scales the render DPI above the geometric optimum.
	QualityMultiplier float64 `yaml:"quality_multiplier"`
	// MaxRenderDPI caps the effective render DPI. 0 uses the default cap.
	MaxRenderDPI float64 `yaml:"max_render_dpi"`
}

// Config is the root configuration document.
type Config struct {
	Viewer    ViewerConfig       `yaml:"viewer"`
	Cache     bitmapcache.Config `yaml:"cache"`
	Pipeline  pipeline.Config    `yaml:"pipeline"`
	Logger    logger.Config      `yaml:"logger"`
	Telemetry telemetry.Config   `yaml:"telemetry"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Viewer: ViewerConfig{
			BufferPages:       2,
			MaxInFlight:       3,
			DevicePixelRatio:  1.0,
			QualityMultiplier: 1.0,
		},
		Logger: logger.Config{
			Level:  "info",
			Format: "json",
		},
		Telemetry: telemetry.Config{
			ServiceName:    "gojoview",
			PrometheusPort: 2112,
		},
	}
}

// Load reads a YAML configuration file, layered over Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}
