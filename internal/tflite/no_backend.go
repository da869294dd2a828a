//go:build !tflite

package tflite

import (
	"errors"

	"github.com/MeKo-Tech/kappi/internal/utils"
)

var ErrNoBackend = errors.New("tflite: no interpreter linked; build with -tags=tflite or use the onnx engine")

// Engine is a placeholder so callers compile without the C library.
type Engine struct{}

func NewEngine(_ Config) (*Engine, error) { return nil, ErrNoBackend }

func (e *Engine) Infer(_ []float32) ([]float32, error) { return nil, ErrNoBackend }

func (e *Engine) InputLayout() utils.TensorLayout { return utils.LayoutNHWC }

func (e *Engine) InputSize() int { return 0 }

func (e *Engine) Path() string { return "" }

func (e *Engine) Close() error { return nil }
