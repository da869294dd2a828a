// Package onnx runs the leaf classifier on ONNX Runtime.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/MeKo-Tech/kappi/internal/utils"
	onnxrt "github.com/yalue/onnxruntime_go"
)

// Config controls how an Engine is created.
type Config struct {
	ModelPath  string
	NumThreads int
	GPU        GPUConfig
	// Layout and InputSize are used when the model leaves them dynamic.
	Layout    utils.TensorLayout
	InputSize int
}

// Engine wraps a DynamicAdvancedSession. Infer is safe for concurrent use;
// every call creates its own input and output tensors.
type Engine struct {
	path       string
	session    *onnxrt.DynamicAdvancedSession
	inputInfo  onnxrt.InputOutputInfo
	outputInfo onnxrt.InputOutputInfo
	layout     utils.TensorLayout
	size       int
	shape      onnxrt.Shape

	// mu guards session: Infer holds it shared, Close exclusively.
	mu        sync.RWMutex
	closeOnce sync.Once
}

// NewEngine loads the model at cfg.ModelPath.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path is empty")
	}
	if fi, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model not found: %w", err)
	} else if fi.IsDir() {
		return nil, fmt.Errorf("model path %s is a directory", cfg.ModelPath)
	}
	if err := ValidateGPUConfig(cfg.GPU); err != nil {
		return nil, fmt.Errorf("gpu config: %w", err)
	}

	if err := acquireEnvironment(cfg.GPU.UseGPU); err != nil {
		return nil, err
	}
	e, err := buildEngine(cfg)
	if err != nil {
		releaseEnvironment()
		return nil, err
	}
	return e, nil
}

func buildEngine(cfg Config) (*Engine, error) {
	inputs, outputs, err := onnxrt.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read model io info: %w", err)
	}
	in, out, err := validateModelIO(inputs, outputs)
	if err != nil {
		return nil, err
	}

	layout, size, err := resolveInput(in.Dimensions, cfg.Layout, cfg.InputSize)
	if err != nil {
		return nil, err
	}

	opts, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer func() { _ = opts.Destroy() }()

	if err := ConfigureSessionForGPU(opts, cfg.GPU); err != nil {
		return nil, fmt.Errorf("configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("set threads: %w", err)
		}
	}

	sess, err := onnxrt.NewDynamicAdvancedSession(cfg.ModelPath, []string{in.Name}, []string{out.Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	return &Engine{
		path:       cfg.ModelPath,
		session:    sess,
		inputInfo:  in,
		outputInfo: out,
		layout:     layout,
		size:       size,
		shape:      onnxrt.NewShape(layout.Shape(size)...),
	}, nil
}

func validateModelIO(inputs, outputs []onnxrt.InputOutputInfo) (onnxrt.InputOutputInfo, onnxrt.InputOutputInfo, error) {
	if len(inputs) == 0 || len(outputs) == 0 {
		return onnxrt.InputOutputInfo{}, onnxrt.InputOutputInfo{},
			fmt.Errorf("model must have at least one input and one output, got %d/%d", len(inputs), len(outputs))
	}
	in := inputs[0]
	if len(in.Dimensions) != 4 {
		return onnxrt.InputOutputInfo{}, onnxrt.InputOutputInfo{},
			fmt.Errorf("expected 4D image input, got %dD", len(in.Dimensions))
	}
	return in, outputs[0], nil
}

// resolveInput reads layout and spatial size from the model's input
// dimensions, falling back to the configured values for dynamic axes.
func resolveInput(dims onnxrt.Shape, layout utils.TensorLayout, size int) (utils.TensorLayout, int, error) {
	switch {
	case dims[3] == 3 && dims[1] != 3:
		layout = utils.LayoutNHWC
	case dims[1] == 3 && dims[3] != 3:
		layout = utils.LayoutNCHW
	}
	if layout == "" {
		layout = utils.LayoutNHWC
	}
	if !layout.Valid() {
		return "", 0, fmt.Errorf("unknown tensor layout %q", layout)
	}

	h, w := dims[1], dims[2]
	if layout == utils.LayoutNCHW {
		h, w = dims[2], dims[3]
	}
	if h > 0 && w > 0 {
		if h != w {
			return "", 0, fmt.Errorf("model input must be square, got %dx%d", w, h)
		}
		size = int(h)
	}
	if size <= 0 {
		return "", 0, errors.New("model input size is dynamic and no input size is configured")
	}
	return layout, size, nil
}

// Infer runs the model on one normalized image and returns a copy of the
// first output.
func (e *Engine) Infer(data []float32) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return nil, errors.New("engine is closed")
	}
	if want := int(e.shape.FlattenedSize()); len(data) != want {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(data), want)
	}

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		lo, hi, mean := TensorStats(data)
		slog.Debug("onnx input", "model", e.path, "min", lo, "max", hi, "mean", mean)
	}

	input, err := onnxrt.NewTensor(e.shape, data)
	if err != nil {
		return nil, fmt.Errorf("tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	outputs := []onnxrt.Value{nil}
	if err := e.session.Run([]onnxrt.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				_ = o.Destroy()
			}
		}
	}()

	t, ok := outputs[0].(*onnxrt.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	src := t.GetData()
	scores := make([]float32, len(src))
	copy(scores, src)
	return scores, nil
}

// InputLayout is the tensor layout the model expects.
func (e *Engine) InputLayout() utils.TensorLayout { return e.layout }

// InputSize is the square edge length the model expects.
func (e *Engine) InputSize() int { return e.size }

// Path is the model file this engine was loaded from.
func (e *Engine) Path() string { return e.path }

// Close destroys the session and releases the runtime. Safe to call twice.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.session != nil {
			err = e.session.Destroy()
			e.session = nil
		}
		releaseEnvironment()
	})
	return err
}
