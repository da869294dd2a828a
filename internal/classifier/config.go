package classifier

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/kappi/internal/gate"
	"github.com/MeKo-Tech/kappi/internal/models"
	"github.com/MeKo-Tech/kappi/internal/onnx"
	"github.com/MeKo-Tech/kappi/internal/prefilter"
	"github.com/MeKo-Tech/kappi/internal/utils"
)

// DefaultInputSize is the edge length the bundled model was trained on.
const DefaultInputSize = 224

// Config holds everything needed to build a Classifier.
type Config struct {
	// Engine is "onnx" or "tflite". Empty means: infer from ModelPath, else onnx.
	Engine     string
	ModelPath  string
	ModelsDir  string
	Layout     utils.TensorLayout
	InputSize  int
	NumThreads int
	GPU        onnx.GPUConfig

	Prefilter prefilter.Config
	Gate      gate.Config
	Labels    []gate.Label
}

// DefaultConfig returns the configuration for the bundled ONNX model.
func DefaultConfig() Config {
	return Config{
		Engine:    models.EngineONNX,
		Layout:    utils.LayoutNHWC,
		InputSize: DefaultInputSize,
		GPU:       onnx.DefaultGPUConfig(),
		Prefilter: prefilter.DefaultConfig(),
		Gate:      gate.DefaultConfig(),
		Labels:    gate.DefaultLabels,
	}
}

// ResolveEngine returns the engine to use, preferring the model file extension.
func (c Config) ResolveEngine() string {
	if c.ModelPath != "" {
		if e := models.EngineForPath(c.ModelPath); e != "" {
			return e
		}
	}
	if c.Engine == "" {
		return models.EngineONNX
	}
	return c.Engine
}

// ResolveModelPath returns the explicit model path or the bundled model for the engine.
func (c Config) ResolveModelPath() (string, error) {
	if c.ModelPath != "" {
		return models.GetModelPath(c.ModelsDir, c.ModelPath), nil
	}
	name, err := models.DefaultFilename(c.ResolveEngine())
	if err != nil {
		return "", err
	}
	return models.GetModelPath(c.ModelsDir, name), nil
}

// Validate checks the classifier settings.
func (c Config) Validate() error {
	if _, err := models.DefaultFilename(c.ResolveEngine()); err != nil {
		return err
	}
	if c.Layout != "" && !c.Layout.Valid() {
		return fmt.Errorf("invalid tensor layout %q (want nhwc or nchw)", c.Layout)
	}
	if c.InputSize < 0 {
		return fmt.Errorf("input size must be non-negative, got %d", c.InputSize)
	}
	if c.NumThreads < 0 {
		return fmt.Errorf("num threads must be non-negative, got %d", c.NumThreads)
	}
	if len(c.Labels) == 0 {
		return errors.New("label table is empty")
	}
	if err := c.Prefilter.Validate(); err != nil {
		return fmt.Errorf("prefilter: %w", err)
	}
	if err := c.Gate.Validate(); err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	return onnx.ValidateGPUConfig(c.GPU)
}
