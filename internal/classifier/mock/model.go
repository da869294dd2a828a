// Package mock provides scripted models for exercising the classification
// pipeline without an inference runtime.
package mock

import (
	"sync"
	"sync/atomic"

	"github.com/MeKo-Tech/kappi/internal/utils"
)

// Model returns canned scores. The zero value returns an empty vector.
type Model struct {
	mu     sync.Mutex
	scores []float32
	err    error
	panic  any
	fn     func(input []float32) ([]float32, error)

	layout utils.TensorLayout
	size   int

	calls  atomic.Int64
	closed atomic.Bool
}

// NewModel returns a model that always answers with scores.
func NewModel(scores ...float32) *Model {
	m := &Model{}
	m.SetScores(scores...)
	return m
}

// NewFuncModel returns a model that delegates to fn.
func NewFuncModel(fn func(input []float32) ([]float32, error)) *Model {
	return &Model{fn: fn}
}

// SetScores replaces the canned scores and clears any scripted failure.
func (m *Model) SetScores(scores ...float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = append([]float32(nil), scores...)
	m.err = nil
	m.panic = nil
}

// SetError makes every following call fail with err.
func (m *Model) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetPanic makes every following call panic with v.
func (m *Model) SetPanic(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panic = v
}

// WithInput wraps m so that it reports its own input shape.
func (m *Model) WithInput(layout utils.TensorLayout, size int) DescribedModel {
	m.layout = layout
	m.size = size
	return DescribedModel{Model: m}
}

// Infer implements classifier.Model.
func (m *Model) Infer(input []float32) ([]float32, error) {
	m.calls.Add(1)
	m.mu.Lock()
	fn, p, err := m.fn, m.panic, m.err
	scores := append([]float32(nil), m.scores...)
	m.mu.Unlock()

	if p != nil {
		panic(p)
	}
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(input)
	}
	return scores, nil
}

// Close implements classifier.Model.
func (m *Model) Close() error {
	m.closed.Store(true)
	return nil
}

// Calls is the number of Infer invocations so far.
func (m *Model) Calls() int { return int(m.calls.Load()) }

// Closed reports whether Close was called.
func (m *Model) Closed() bool { return m.closed.Load() }

// DescribedModel is a Model that also reports its input shape.
type DescribedModel struct {
	*Model
}

// InputLayout implements classifier.InputDescriber.
func (d DescribedModel) InputLayout() utils.TensorLayout { return d.layout }

// InputSize implements classifier.InputDescriber.
func (d DescribedModel) InputSize() int { return d.size }
