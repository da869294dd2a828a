package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/kappi/internal/classifier"
	"github.com/MeKo-Tech/kappi/internal/gate"
	"github.com/MeKo-Tech/kappi/internal/models"
	"github.com/MeKo-Tech/kappi/internal/onnx"
	"github.com/MeKo-Tech/kappi/internal/prefilter"
	"github.com/MeKo-Tech/kappi/internal/scans"
	"github.com/MeKo-Tech/kappi/internal/utils"
)

const autoValue = "auto"

var (
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validFormats   = []string{"text", "json", "csv", "yaml"}
	validEngines   = []string{models.EngineONNX, models.EngineTFLite}
	validLayouts   = []string{string(utils.LayoutNHWC), string(utils.LayoutNCHW)}
	validDrivers   = []string{scans.DriverMemory, scans.DriverPostgres}
	validVarieties = []string{"arabica", "robusta"}
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	pf := prefilter.DefaultConfig()
	g := gate.DefaultConfig()
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Model: ModelConfig{
			Engine:    models.EngineONNX,
			Layout:    string(utils.LayoutNHWC),
			InputSize: classifier.DefaultInputSize,
			GPU: GPUConfig{
				MemoryLimit: autoValue,
			},
		},
		Prefilter: PrefilterConfig{
			DarkChannelMax:  int(pf.DarkChannelMax),
			MaxDarkRatio:    pf.MaxDarkRatio,
			GreenChannelMin: int(pf.GreenChannelMin),
			MinGreenRatio:   pf.MinGreenRatio,
		},
		Gate: GateConfig{
			MinConfidence: g.MinConfidence,
			MaxConfidence: g.MaxConfidence,
			MinMass:       g.MinMass,
		},
		Output: OutputConfig{
			Format:              "text",
			ConfidencePrecision: 2,
		},
		Server: ServerConfig{
			Host:              "localhost",
			Port:              8080,
			CORSOrigin:        "*",
			MaxUploadMB:       20,
			TimeoutSec:        30,
			ShutdownTimeout:   10,
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			MaxRequestsPerDay: 5000,
			MaxDataPerDay:     100 * 1024 * 1024,
		},
		Batch: BatchConfig{
			Workers:   4,
			Recursive: true,
		},
		Storage: StorageConfig{
			Driver: scans.DriverMemory,
		},
	}
}

// Validate validates the configuration and returns the first error found.
func (c *Config) Validate() error {
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if c.Output.Format != "" && !contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	if c.Model.Engine != "" && !contains(validEngines, c.Model.Engine) {
		return fmt.Errorf("invalid model engine: %s (must be one of: %s)", c.Model.Engine, strings.Join(validEngines, ", "))
	}
	if c.Model.Layout != "" && !contains(validLayouts, strings.ToLower(c.Model.Layout)) {
		return fmt.Errorf("invalid tensor layout: %s (must be one of: %s)", c.Model.Layout, strings.Join(validLayouts, ", "))
	}
	if c.Model.InputSize < 0 {
		return fmt.Errorf("invalid model input size: %d (must not be negative)", c.Model.InputSize)
	}
	if c.Model.NumThreads < 0 {
		return fmt.Errorf("invalid model num threads: %d (must not be negative)", c.Model.NumThreads)
	}
	if c.Model.GPU.Device < 0 {
		return fmt.Errorf("invalid GPU device: %d (must not be negative)", c.Model.GPU.Device)
	}
	if _, err := parseMemoryLimit(c.Model.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}

	if err := validateChannel(c.Prefilter.DarkChannelMax, "prefilter.dark_channel_max"); err != nil {
		return err
	}
	if err := validateChannel(c.Prefilter.GreenChannelMin, "prefilter.green_channel_min"); err != nil {
		return err
	}
	if err := validateThreshold(c.Prefilter.MaxDarkRatio, "prefilter.max_dark_ratio"); err != nil {
		return err
	}
	if err := validateThreshold(c.Prefilter.MinGreenRatio, "prefilter.min_green_ratio"); err != nil {
		return err
	}
	if err := c.toGateConfig().Validate(); err != nil {
		return fmt.Errorf("invalid gate: %w", err)
	}

	if v := c.Treatment.DefaultVariety; v != "" && !contains(validVarieties, strings.ToLower(v)) {
		return fmt.Errorf("invalid default variety: %s (must be one of: %s)", v, strings.Join(validVarieties, ", "))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimitEnabled && (c.Server.RequestsPerMinute <= 0 || c.Server.RequestsPerHour <= 0) {
		return fmt.Errorf("invalid rate limits: %d/min %d/hour (must be positive when enabled)",
			c.Server.RequestsPerMinute, c.Server.RequestsPerHour)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}

	driver := strings.ToLower(c.Storage.Driver)
	if driver != "" && !contains(validDrivers, driver) {
		return fmt.Errorf("invalid storage driver: %s (must be one of: %s)", c.Storage.Driver, strings.Join(validDrivers, ", "))
	}
	if driver == scans.DriverPostgres && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for the %s driver", scans.DriverPostgres)
	}
	return nil
}

// ToClassifierConfig converts the config into the classifier configuration.
func (c *Config) ToClassifierConfig() classifier.Config {
	cfg := classifier.DefaultConfig()
	cfg.ModelsDir = c.ModelsDir
	cfg.ModelPath = c.Model.Path
	if c.Model.Engine != "" {
		cfg.Engine = c.Model.Engine
	}
	if c.Model.Layout != "" {
		cfg.Layout = utils.TensorLayout(strings.ToLower(c.Model.Layout))
	}
	if c.Model.InputSize > 0 {
		cfg.InputSize = c.Model.InputSize
	}
	cfg.NumThreads = c.Model.NumThreads
	cfg.GPU = c.toGPUConfig()
	cfg.Prefilter = prefilter.Config{
		DarkChannelMax:  uint8(clampChannel(c.Prefilter.DarkChannelMax)),
		MaxDarkRatio:    c.Prefilter.MaxDarkRatio,
		GreenChannelMin: uint8(clampChannel(c.Prefilter.GreenChannelMin)),
		MinGreenRatio:   c.Prefilter.MinGreenRatio,
	}
	cfg.Gate = c.toGateConfig()
	return cfg
}

func (c *Config) toGateConfig() gate.Config {
	return gate.Config{
		MinConfidence: c.Gate.MinConfidence,
		MaxConfidence: c.Gate.MaxConfidence,
		MinMass:       c.Gate.MinMass,
	}
}

func (c *Config) toGPUConfig() onnx.GPUConfig {
	cfg := onnx.DefaultGPUConfig()
	cfg.UseGPU = c.Model.GPU.Enabled
	cfg.DeviceID = c.Model.GPU.Device
	if limit, err := parseMemoryLimit(c.Model.GPU.MemoryLimit); err == nil {
		cfg.GPUMemLimit = limit
	}
	return cfg
}

// Helper functions

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// validateChannel validates an 8-bit channel intensity.
func validateChannel(value int, name string) error {
	if value < 0 || value > 255 {
		return fmt.Errorf("invalid %s: %d (must be between 0 and 255)", name, value)
	}
	return nil
}

func clampChannel(v int) int {
	return min(max(v, 0), 255)
}

// parseMemoryLimit converts "auto", "" or a size like "512MB" into bytes
// (0 meaning unlimited).
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == autoValue {
		return 0, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(limit))
	units := []struct {
		suffix string
		scale  float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(upper, u.suffix)), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.scale), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB (got %s)", limit)
}
