// Package config provides configuration for the inspectd service.
// Values come from flags and environment variables resolved in main;
// the detection label set lives in a separate JSON file so line
// operators can change pass labels without a rebuild.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for the service configuration.
const (
	DefaultPort        = "8000"
	DefaultDeviceIndex = 0
	DefaultWidth       = 1920
	DefaultHeight      = 1080
	DefaultFPS         = 30
	DefaultQuality     = 85
	DefaultReadTimeout = 300 * time.Millisecond
	DefaultModelPath   = "models/best.onnx"
	DefaultLabelFile   = "config.json"
	DefaultLogFile     = "logs.csv"
)

// Config holds the runtime configuration of the service.
type Config struct {
	Port        string        // HTTP listen port
	DeviceIndex int           // camera device index
	Width       int           // capture width in pixels
	Height      int           // capture height in pixels
	FPS         int           // target capture rate
	Quality     int           // JPEG encode quality 1-100
	ReadTimeout time.Duration // bound on a single frame wait
	ModelPath   string        // ONNX detection model
	LabelFile   string        // JSON label configuration
	LogFile     string        // CSV result log
	LogLevel    string        // debug, info, warn, error
}

// Default returns the baseline configuration, matching the
// inspection line's 1080p camera setup.
func Default() Config {
	return Config{
		Port:        DefaultPort,
		DeviceIndex: DefaultDeviceIndex,
		Width:       DefaultWidth,
		Height:      DefaultHeight,
		FPS:         DefaultFPS,
		Quality:     DefaultQuality,
		ReadTimeout: DefaultReadTimeout,
		ModelPath:   DefaultModelPath,
		LabelFile:   DefaultLabelFile,
		LogFile:     DefaultLogFile,
		LogLevel:    "info",
	}
}

// FromEnv overlays environment variables onto the config.
// Unset variables leave the current value untouched.
func (c *Config) FromEnv() {
	if v := os.Getenv("INSPECT_PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("INSPECT_DEVICE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DeviceIndex = n
		}
	}
	if v := os.Getenv("INSPECT_MODEL"); v != "" {
		c.ModelPath = v
	}
	if v := os.Getenv("INSPECT_LABELS"); v != "" {
		c.LabelFile = v
	}
	if v := os.Getenv("INSPECT_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("INSPECT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("INSPECT_READ_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ReadTimeout = time.Duration(n) * time.Millisecond
		}
	}
}

// Validate checks the config values are within usable ranges.
func (c *Config) Validate() error {
	if c.Width < 160 || c.Width > 4096 {
		return fmt.Errorf("config: width %d out of range [160, 4096]", c.Width)
	}
	if c.Height < 120 || c.Height > 4096 {
		return fmt.Errorf("config: height %d out of range [120, 4096]", c.Height)
	}
	if c.FPS < 1 || c.FPS > 120 {
		return fmt.Errorf("config: fps %d out of range [1, 120]", c.FPS)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("config: quality %d out of range [1, 100]", c.Quality)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("config: read timeout must be positive, got %v", c.ReadTimeout)
	}
	if c.DeviceIndex < 0 {
		return fmt.Errorf("config: device index must be >= 0, got %d", c.DeviceIndex)
	}
	return nil
}
