// Package models resolves where model artifacts live on disk.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Model filenames.
const (
	LeafONNX   = "coffee_leaf_classifier.onnx"
	LeafTFLite = "coffee_leaf_classifier.tflite"
)

// Engine names, matching the model file extension.
const (
	EngineONNX   = "onnx"
	EngineTFLite = "tflite"
)

// DefaultModelsDir is the models directory relative to the project root.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "KAPPI_MODELS_DIR"

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// ModelInfo describes a known model artifact.
type ModelInfo struct {
	Name        string `json:"name"`
	Engine      string `json:"engine"`
	Description string `json:"description"`
	Filename    string `json:"filename"`
	Path        string `json:"path"`
	Exists      bool   `json:"exists"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit modelsDir, 2. $KAPPI_MODELS_DIR, 3. project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if root, err := findProjectRoot(); err == nil {
		return filepath.Join(root, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// GetModelPath joins filename onto the resolved models directory. Absolute
// filenames are returned unchanged.
func GetModelPath(modelsDir, filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	return filepath.Join(GetModelsDir(modelsDir), filename)
}

// DefaultFilename returns the bundled model filename for engine.
func DefaultFilename(engine string) (string, error) {
	switch strings.ToLower(engine) {
	case "", EngineONNX:
		return LeafONNX, nil
	case EngineTFLite:
		return LeafTFLite, nil
	default:
		return "", fmt.Errorf("unknown engine %q (want %s or %s)", engine, EngineONNX, EngineTFLite)
	}
}

// EngineForPath infers the engine from a model file extension.
func EngineForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tflite":
		return EngineTFLite
	case ".onnx":
		return EngineONNX
	default:
		return ""
	}
}

// Exists reports whether a regular file is present at path.
func Exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	fi, err := os.Stat(modelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("model file not found: %s", modelPath)
		}
		return fmt.Errorf("stat model file: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("model path is not a file: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns the known models resolved against modelsDir,
// with their presence on disk.
func ListAvailableModels(modelsDir string) []ModelInfo {
	list := []ModelInfo{
		{
			Name:        "coffee-leaf-onnx",
			Engine:      EngineONNX,
			Description: "Coffee leaf rust stage classifier (ONNX export)",
			Filename:    LeafONNX,
		},
		{
			Name:        "coffee-leaf-tflite",
			Engine:      EngineTFLite,
			Description: "Coffee leaf rust stage classifier (TensorFlow Lite)",
			Filename:    LeafTFLite,
		},
	}
	for i := range list {
		list[i].Path = GetModelPath(modelsDir, list[i].Filename)
		if fi, err := os.Stat(list[i].Path); err == nil && fi.Mode().IsRegular() {
			list[i].Exists = true
			list[i].SizeBytes = fi.Size()
		}
	}
	return list
}
