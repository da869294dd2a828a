package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	onnxrt "github.com/yalue/onnxruntime_go"
)

const (
	osLinux    = "linux"
	osDarwin   = "darwin"
	osWindows  = "windows"
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"

	// EnvLibraryPath points directly at the runtime shared library.
	EnvLibraryPath = "KAPPI_ONNXRUNTIME_LIB"
)

// GPUConfig holds configuration for CUDA acceleration.
type GPUConfig struct {
	UseGPU                bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DeviceID              int    `mapstructure:"device" yaml:"device" json:"device"`
	GPUMemLimit           uint64 `mapstructure:"mem_limit" yaml:"mem_limit" json:"mem_limit"` // bytes, 0 = unlimited
	ArenaExtendStrategy   string `mapstructure:"arena_extend_strategy" yaml:"arena_extend_strategy" json:"arena_extend_strategy"`
	CUDNNConvAlgoSearch   string `mapstructure:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search" json:"cudnn_conv_algo_search"`
	DoCopyInDefaultStream bool   `mapstructure:"copy_in_default_stream" yaml:"copy_in_default_stream" json:"copy_in_default_stream"`
}

// DefaultGPUConfig returns a CPU-only configuration with sane CUDA defaults.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaExtendStrategy:   "kNextPowerOfTwo",
		CUDNNConvAlgoSearch:   "DEFAULT",
		DoCopyInDefaultStream: true,
	}
}

// cudaSettings converts the config into provider option keys.
func (c GPUConfig) cudaSettings() map[string]string {
	s := map[string]string{"device_id": strconv.Itoa(c.DeviceID)}
	if c.GPUMemLimit > 0 {
		s["gpu_mem_limit"] = strconv.FormatUint(c.GPUMemLimit, 10)
	}
	if c.ArenaExtendStrategy != "" {
		s["arena_extend_strategy"] = c.ArenaExtendStrategy
	}
	if c.CUDNNConvAlgoSearch != "" {
		s["cudnn_conv_algo_search"] = c.CUDNNConvAlgoSearch
	}
	if c.DoCopyInDefaultStream {
		s["do_copy_in_default_stream"] = "1"
	} else {
		s["do_copy_in_default_stream"] = "0"
	}
	return s
}

// ConfigureSessionForGPU appends the CUDA execution provider when requested.
func ConfigureSessionForGPU(opts *onnxrt.SessionOptions, cfg GPUConfig) error {
	if !cfg.UseGPU {
		return nil
	}

	cudaOpts, err := onnxrt.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if err := cudaOpts.Destroy(); err != nil {
			slog.Warn("failed to destroy CUDA provider options", "error", err)
		}
	}()

	if err := cudaOpts.Update(cfg.cudaSettings()); err != nil {
		return fmt.Errorf("update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("append CUDA execution provider: %w", err)
	}
	return nil
}

// ValidateGPUConfig checks the CUDA settings. CPU-only configs always pass.
func ValidateGPUConfig(cfg GPUConfig) error {
	if !cfg.UseGPU {
		return nil
	}
	if cfg.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", cfg.DeviceID)
	}
	switch cfg.ArenaExtendStrategy {
	case "", "kNextPowerOfTwo", "kSameAsRequested":
	default:
		return fmt.Errorf("invalid arena extend strategy: %s (must be 'kNextPowerOfTwo' or "+
			"'kSameAsRequested')", cfg.ArenaExtendStrategy)
	}
	switch cfg.CUDNNConvAlgoSearch {
	case "", "EXHAUSTIVE", "HEURISTIC", "DEFAULT":
	default:
		return fmt.Errorf("invalid CUDNN conv algo search: %s (must be 'EXHAUSTIVE', 'HEURISTIC', or "+
			"'DEFAULT')", cfg.CUDNNConvAlgoSearch)
	}
	return nil
}

// systemLibraryPaths lists install locations, GPU builds first when useGPU is set.
func systemLibraryPaths(useGPU bool) []string {
	cpu := []string{
		"/usr/local/lib/" + libLinux,
		"/usr/lib/" + libLinux,
		"/opt/onnxruntime/cpu/lib/" + libLinux,
		"/opt/homebrew/lib/" + libDarwin,
		"/usr/local/lib/" + libDarwin,
	}
	if useGPU {
		return append([]string{"/opt/onnxruntime/gpu/lib/" + libLinux}, cpu...)
	}
	return cpu
}

// findProjectRoot walks up from the working directory to the first go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

// libraryName returns the runtime library filename for goos.
func libraryName(goos string) (string, error) {
	switch goos {
	case osLinux:
		return libLinux, nil
	case osDarwin:
		return libDarwin, nil
	case osWindows:
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// FindLibrary locates the ONNX Runtime shared library. Lookup order is
// $KAPPI_ONNXRUNTIME_LIB, system paths, then onnxruntime/ under the project root.
func FindLibrary(useGPU bool) (string, error) {
	if p := os.Getenv(EnvLibraryPath); p != "" {
		if fileExists(p) {
			return p, nil
		}
		return "", fmt.Errorf("%s=%s does not exist", EnvLibraryPath, p)
	}

	for _, p := range systemLibraryPaths(useGPU) {
		if fileExists(p) {
			return p, nil
		}
	}

	root, err := findProjectRoot()
	if err != nil {
		return "", fmt.Errorf("ONNX Runtime library not found: %w", err)
	}
	name, err := libraryName(runtime.GOOS)
	if err != nil {
		return "", err
	}

	candidates := []string{filepath.Join(root, "onnxruntime", "lib", name)}
	if useGPU {
		candidates = append([]string{filepath.Join(root, "onnxruntime", "gpu", "lib", name)}, candidates...)
	}
	for _, p := range candidates {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library not found (tried %s)", candidates[len(candidates)-1])
}
