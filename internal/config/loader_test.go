package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kappi.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

// TestLoadWithNoConfigFile tests loading with no config file present.
func TestLoadWithNoConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != infoLevel {
		t.Errorf("Expected default log level '%s', got %s", infoLevel, cfg.LogLevel)
	}
	if cfg.Gate.MinConfidence != 0.6 {
		t.Errorf("Expected default min confidence 0.6, got %v", cfg.Gate.MinConfidence)
	}
}

// TestLoadFromSearchPath finds kappi.yaml in the working directory.
func TestLoadFromSearchPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, "kappi.yaml"), []byte("log_level: warn\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	l := NewLoaderWithViper(viper.New())
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("Expected log level warn, got %s", cfg.LogLevel)
	}
	if !strings.HasSuffix(l.GetConfigFileUsed(), "kappi.yaml") {
		t.Errorf("Unexpected config file used: %s", l.GetConfigFileUsed())
	}
}

// TestLoadWithValidYAMLFile tests loading from a valid YAML file.
func TestLoadWithValidYAMLFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
verbose: true
models_dir: /custom/models
model:
  engine: tflite
  num_threads: 2
prefilter:
  min_green_ratio: 0.2
gate:
  min_mass: 0.75
server:
  host: 0.0.0.0
  port: 9090
storage:
  driver: postgres
  dsn: postgres://kappi@localhost/kappi?sslmode=disable
`)

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() unexpected error: %v", err)
	}
	if cfg.LogLevel != debugLevel || !cfg.Verbose {
		t.Errorf("Expected debug/verbose, got %s/%v", cfg.LogLevel, cfg.Verbose)
	}
	if cfg.ModelsDir != "/custom/models" {
		t.Errorf("Expected models dir '/custom/models', got %s", cfg.ModelsDir)
	}
	if cfg.Model.Engine != "tflite" || cfg.Model.NumThreads != 2 {
		t.Errorf("Unexpected model section: %+v", cfg.Model)
	}
	if cfg.Model.InputSize != 224 {
		t.Errorf("Expected defaulted input size 224, got %d", cfg.Model.InputSize)
	}
	if cfg.Prefilter.MinGreenRatio != 0.2 || cfg.Prefilter.MaxDarkRatio != 0.5 {
		t.Errorf("Unexpected prefilter section: %+v", cfg.Prefilter)
	}
	if cfg.Gate.MinMass != 0.75 {
		t.Errorf("Expected min mass 0.75, got %v", cfg.Gate.MinMass)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9090 {
		t.Errorf("Unexpected server section: %+v", cfg.Server)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("Expected postgres driver, got %s", cfg.Storage.Driver)
	}
}

// TestLoadWithInvalidYAMLFile tests loading from an invalid YAML file.
func TestLoadWithInvalidYAMLFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
  invalid indentation
    more bad indentation
`)
	if _, err := NewLoaderWithViper(viper.New()).LoadWithFile(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

// TestLoadWithNonExistentFile tests loading from a missing file.
func TestLoadWithNonExistentFile(t *testing.T) {
	_, err := NewLoaderWithViper(viper.New()).LoadWithFile("/nonexistent/kappi.yaml")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("Expected does-not-exist error, got %v", err)
	}
}

// TestLoadWithValidationFailure rejects invalid values, unless validation is skipped.
func TestLoadWithValidationFailure(t *testing.T) {
	path := writeConfig(t, "gate:\n  min_confidence: 0.99\n")

	if _, err := NewLoaderWithViper(viper.New()).LoadWithFile(path); err == nil {
		t.Error("Expected validation error")
	}

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFileWithoutValidation(path)
	if err != nil {
		t.Fatalf("LoadWithFileWithoutValidation() unexpected error: %v", err)
	}
	if cfg.Gate.MinConfidence != 0.99 {
		t.Errorf("Expected raw value 0.99, got %v", cfg.Gate.MinConfidence)
	}
}

// TestEnvironmentVariableOverride checks KAPPI_* variables win over the file.
func TestEnvironmentVariableOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("KAPPI_SERVER_PORT", "7070")
	t.Setenv("KAPPI_MODELS_DIR", "/env/models")
	t.Setenv("KAPPI_MODEL_ENGINE", "tflite")
	t.Setenv("KAPPI_GATE_MIN_MASS", "0.85")

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() unexpected error: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Expected port 7070 from env, got %d", cfg.Server.Port)
	}
	if cfg.ModelsDir != "/env/models" {
		t.Errorf("Expected models dir from env, got %s", cfg.ModelsDir)
	}
	if cfg.Model.Engine != "tflite" {
		t.Errorf("Expected engine from env, got %s", cfg.Model.Engine)
	}
	if cfg.Gate.MinMass != 0.85 {
		t.Errorf("Expected min mass from env, got %v", cfg.Gate.MinMass)
	}
}

// TestGetSetConfigValues exercises the accessors.
func TestGetSetConfigValues(t *testing.T) {
	l := NewLoaderWithViper(viper.New())
	l.Set("output.format", "json")
	if got := l.GetString("output.format"); got != "json" {
		t.Errorf("Expected json, got %s", got)
	}
	if l.Get("output.format") != "json" {
		t.Error("Get() did not return the set value")
	}
	if l.GetViper() == nil {
		t.Error("GetViper() returned nil")
	}
	if NewLoader().GetViper() != viper.GetViper() {
		t.Error("NewLoader() should use the global viper instance")
	}
}

// TestGenerateDefaultConfigFile writes and reloads the defaults.
func TestGenerateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "generated.yaml")
	if err := GenerateDefaultConfigFile(path); err != nil {
		t.Fatalf("GenerateDefaultConfigFile() error: %v", err)
	}

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	if err != nil {
		t.Fatalf("reloading generated config: %v", err)
	}
	want := DefaultConfig()
	if cfg.Gate != want.Gate || cfg.Prefilter != want.Prefilter || cfg.Server != want.Server {
		t.Errorf("Generated config differs from defaults: %+v", cfg)
	}
}

// TestGetConfigSearchPaths honors XDG_CONFIG_HOME.
func TestGetConfigSearchPaths(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	paths := GetConfigSearchPaths()
	if paths[0] != "." {
		t.Errorf("Expected current directory first, got %s", paths[0])
	}
	if !contains(paths, filepath.Join(xdg, "kappi")) {
		t.Errorf("Expected XDG path in %v", paths)
	}
	if paths[len(paths)-1] != "/etc/kappi" {
		t.Errorf("Expected /etc/kappi last, got %s", paths[len(paths)-1])
	}
}

// TestPrintConfigInfo writes the environment prefix.
func TestPrintConfigInfo(t *testing.T) {
	var buf bytes.Buffer
	NewLoaderWithViper(viper.New()).PrintConfigInfo(&buf)
	if !strings.Contains(buf.String(), "Environment prefix: KAPPI") {
		t.Errorf("Unexpected output: %s", buf.String())
	}
}
