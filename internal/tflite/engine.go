//go:build tflite

package tflite

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/MeKo-Tech/kappi/internal/utils"
	tfl "github.com/mattn/go-tflite"
)

// Engine owns one interpreter. Interpreters are not reentrant, so Infer
// calls are serialized.
type Engine struct {
	mu      sync.Mutex
	path    string
	model   *tfl.Model
	options *tfl.InterpreterOptions
	interp  *tfl.Interpreter
	size    int
	inLen   int
}

// NewEngine loads the model at cfg.ModelPath and allocates its tensors.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path is empty")
	}
	if fi, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model not found: %w", err)
	} else if fi.IsDir() {
		return nil, fmt.Errorf("model path %s is a directory", cfg.ModelPath)
	}

	e := &Engine{path: cfg.ModelPath}
	e.model = tfl.NewModelFromFile(cfg.ModelPath)
	if e.model == nil {
		return nil, fmt.Errorf("cannot load model %s", cfg.ModelPath)
	}

	e.options = tfl.NewInterpreterOptions()
	if cfg.NumThreads > 0 {
		e.options.SetNumThread(cfg.NumThreads)
	}
	e.options.SetErrorReporter(func(msg string, _ interface{}) {
		slog.Warn("tflite", "message", msg)
	}, nil)

	e.interp = tfl.NewInterpreter(e.model, e.options)
	if e.interp == nil {
		e.release()
		return nil, errors.New("cannot create interpreter")
	}
	if status := e.interp.AllocateTensors(); status != tfl.OK {
		e.release()
		return nil, fmt.Errorf("allocate tensors: status %d", status)
	}

	if err := e.inspectInput(); err != nil {
		e.release()
		return nil, err
	}
	return e, nil
}

// inspectInput checks for a float32 [1, S, S, 3] input.
func (e *Engine) inspectInput() error {
	if e.interp.GetInputTensorCount() < 1 || e.interp.GetOutputTensorCount() < 1 {
		return errors.New("model must have at least one input and one output")
	}
	in := e.interp.GetInputTensor(0)
	if in.Type() != tfl.Float32 {
		return fmt.Errorf("input tensor must be float32, got %v", in.Type())
	}
	if in.NumDims() != 4 || in.Dim(3) != 3 {
		dims := make([]int, in.NumDims())
		for i := range dims {
			dims[i] = in.Dim(i)
		}
		return fmt.Errorf("expected [1,S,S,3] input, got %v", dims)
	}
	if in.Dim(1) != in.Dim(2) {
		return fmt.Errorf("model input must be square, got %dx%d", in.Dim(2), in.Dim(1))
	}
	e.size = in.Dim(1)
	e.inLen = in.Dim(0) * e.size * e.size * 3
	if out := e.interp.GetOutputTensor(0); out.Type() != tfl.Float32 {
		return fmt.Errorf("output tensor must be float32, got %v", out.Type())
	}
	return nil
}

// Infer copies data into the input tensor, invokes the interpreter and
// returns a copy of the first output.
func (e *Engine) Infer(data []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.interp == nil {
		return nil, errors.New("engine is closed")
	}
	if len(data) != e.inLen {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(data), e.inLen)
	}

	copy(e.interp.GetInputTensor(0).Float32s(), data)
	if status := e.interp.Invoke(); status != tfl.OK {
		return nil, fmt.Errorf("invoke: status %d", status)
	}

	src := e.interp.GetOutputTensor(0).Float32s()
	scores := make([]float32, len(src))
	copy(scores, src)
	return scores, nil
}

// InputLayout is always NHWC for TFLite image models.
func (e *Engine) InputLayout() utils.TensorLayout { return utils.LayoutNHWC }

// InputSize is the square edge length the model expects.
func (e *Engine) InputSize() int { return e.size }

// Path is the model file this engine was loaded from.
func (e *Engine) Path() string { return e.path }

// Close frees the interpreter and model. Safe to call twice.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.release()
	return nil
}

func (e *Engine) release() {
	if e.interp != nil {
		e.interp.Delete()
		e.interp = nil
	}
	if e.options != nil {
		e.options.Delete()
		e.options = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
}
