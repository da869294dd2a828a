// Package classifier runs the leaf classification pipeline: decode and
// resize, plausibility pre-filter, inference and the decision gate.
package classifier

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/kappi/internal/common"
	"github.com/MeKo-Tech/kappi/internal/gate"
	"github.com/MeKo-Tech/kappi/internal/mempool"
	"github.com/MeKo-Tech/kappi/internal/models"
	"github.com/MeKo-Tech/kappi/internal/onnx"
	"github.com/MeKo-Tech/kappi/internal/prefilter"
	"github.com/MeKo-Tech/kappi/internal/tflite"
	"github.com/MeKo-Tech/kappi/internal/utils"
)

// Model maps a normalized image tensor to one score per class.
type Model interface {
	Infer(input []float32) ([]float32, error)
	Close() error
}

// InputDescriber is implemented by models that know their own input shape.
type InputDescriber interface {
	InputLayout() utils.TensorLayout
	InputSize() int
}

// Result is the outcome of one classification. Disease, Severity, Stage and
// Confidence are either a label table entry or "Unknown" with confidence 0;
// in the latter case Error explains why and Reason carries a code.
type Result struct {
	Disease    string  `json:"disease" yaml:"disease"`
	Severity   string  `json:"severity" yaml:"severity"`
	Stage      string  `json:"stage" yaml:"stage"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Error      string  `json:"error,omitempty" yaml:"error,omitempty"`
	Reason     string  `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// IsUnknown reports whether the result is the Unknown sentinel.
func (r Result) IsUnknown() bool { return r.Disease == gate.UnknownLabel }

func unknownResult(reason, message string) Result {
	return Result{
		Disease:  gate.UnknownLabel,
		Severity: gate.UnknownLabel,
		Stage:    gate.UnknownLabel,
		Error:    message,
		Reason:   reason,
	}
}

// Classifier is safe for concurrent use once constructed.
type Classifier struct {
	cfg       Config
	model     Model
	loadErr   error
	modelPath string
	layout    utils.TensorLayout
	size      int
	logger    *slog.Logger
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// LoadModel opens the model described by cfg with the matching engine.
func LoadModel(cfg Config) (Model, string, error) {
	path, err := cfg.ResolveModelPath()
	if err != nil {
		return nil, "", err
	}
	if err := models.ValidateModelExists(path); err != nil {
		return nil, path, err
	}

	switch engine := cfg.ResolveEngine(); engine {
	case models.EngineTFLite:
		m, err := tflite.NewEngine(tflite.Config{ModelPath: path, NumThreads: cfg.NumThreads})
		if err != nil {
			return nil, path, fmt.Errorf("tflite: %w", err)
		}
		return m, path, nil
	case models.EngineONNX:
		m, err := onnx.NewEngine(onnx.Config{
			ModelPath:  path,
			NumThreads: cfg.NumThreads,
			GPU:        cfg.GPU,
			Layout:     cfg.Layout,
			InputSize:  cfg.InputSize,
		})
		if err != nil {
			return nil, path, fmt.Errorf("onnx: %w", err)
		}
		return m, path, nil
	default:
		return nil, path, fmt.Errorf("unknown engine %q", engine)
	}
}

// New loads the model once. A load failure does not fail construction: it
// is logged and every later Classify call returns MODEL_UNAVAILABLE.
func New(cfg Config, opts ...Option) *Classifier {
	m, path, err := LoadModel(cfg)
	c := newClassifier(cfg, m, opts)
	c.modelPath = path
	if err != nil {
		c.loadErr = err
		c.logger.Error("failed to load model", "path", path, "engine", cfg.ResolveEngine(), "error", err)
		return c
	}
	c.logger.Info("model loaded", "path", path, "engine", cfg.ResolveEngine(),
		"layout", string(c.layout), "input_size", c.size)
	return c
}

// NewWithModel wraps an already loaded model. A nil model yields a
// classifier that reports MODEL_UNAVAILABLE.
func NewWithModel(m Model, cfg Config, opts ...Option) *Classifier {
	c := newClassifier(cfg, m, opts)
	if m == nil {
		c.loadErr = errors.New("no model provided")
	}
	return c
}

func newClassifier(cfg Config, m Model, opts []Option) *Classifier {
	if len(cfg.Labels) == 0 {
		cfg.Labels = gate.DefaultLabels
	}
	if cfg.Gate == (gate.Config{}) {
		cfg.Gate = gate.DefaultConfig()
	}
	if cfg.Prefilter == (prefilter.Config{}) {
		cfg.Prefilter = prefilter.DefaultConfig()
	}
	c := &Classifier{
		cfg:    cfg,
		model:  m,
		layout: cfg.Layout,
		size:   cfg.InputSize,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if d, ok := m.(InputDescriber); ok {
		c.layout = d.InputLayout()
		c.size = d.InputSize()
	}
	if !c.layout.Valid() {
		c.layout = utils.LayoutNHWC
	}
	if c.size <= 0 {
		c.size = DefaultInputSize
	}
	return c
}

// Ready reports whether a model is loaded.
func (c *Classifier) Ready() bool { return c.model != nil }

// LoadError returns the model load failure, if any.
func (c *Classifier) LoadError() error { return c.loadErr }

// ModelPath is the resolved model file, empty for injected models.
func (c *Classifier) ModelPath() string { return c.modelPath }

// Engine is the configured inference engine name.
func (c *Classifier) Engine() string { return c.cfg.ResolveEngine() }

// Close releases the model.
func (c *Classifier) Close() error {
	if c.model == nil {
		return nil
	}
	return c.model.Close()
}

// Classify runs the pipeline on the image at path. A "file://" prefix is
// accepted. Pre-filter and gate rejections are successful Unknown results;
// errors are always *Error.
func (c *Classifier) Classify(path string) (Result, error) {
	if c.model == nil {
		return Result{}, unavailableError(c.loadErr)
	}
	img, meta, err := utils.LoadImage(path)
	if err != nil {
		return Result{}, decodeError(err)
	}
	c.logger.Debug("image decoded", "path", meta.Path, "format", meta.Format,
		"width", meta.Width, "height", meta.Height)
	return c.ClassifyImage(img)
}

// ClassifyImage runs the pipeline on an already decoded image.
func (c *Classifier) ClassifyImage(img image.Image) (Result, error) {
	if c.model == nil {
		return Result{}, unavailableError(c.loadErr)
	}
	if img == nil {
		return Result{}, decodeError(errors.New("nil image"))
	}

	sw := common.StartStopwatch()
	screened, err := utils.ResizeSquare(img, prefilter.InputSize)
	if err != nil {
		return Result{}, decodeError(err)
	}
	resized := screened
	if c.size != prefilter.InputSize {
		if resized, err = utils.ResizeSquare(img, c.size); err != nil {
			return Result{}, decodeError(err)
		}
	}
	sw.Lap("resize")

	verdict, err := prefilter.Check(screened, c.cfg.Prefilter)
	if err != nil {
		return Result{}, decodeError(err)
	}
	sw.Lap("prefilter")
	c.logger.Debug("prefilter", "dark_ratio", verdict.Stats.DarkRatio(),
		"green_ratio", verdict.Stats.GreenRatio(), "pass", verdict.Pass)
	if !verdict.Pass {
		return unknownResult(string(verdict.Reason), verdict.Message), nil
	}

	buf := mempool.GetFloat32(3 * c.size * c.size)
	defer mempool.PutFloat32(buf)

	input, err := utils.NormalizeImageInto(resized, c.layout, buf)
	if err != nil {
		return Result{}, inferenceError("failed to prepare input tensor", err)
	}

	raw, err := c.infer(input)
	if err != nil {
		return Result{}, err
	}
	sw.Lap("infer")
	scores := gate.ToFloat64(raw)

	d, err := gate.Decide(scores, c.cfg.Gate, c.cfg.Labels)
	if err != nil {
		return Result{}, inferenceError("unexpected model output", err)
	}
	sw.Lap("gate")
	c.logger.Debug("gate", "scores", scores, "index", d.Index, "score", d.Score,
		"mass", d.Mass, "known", d.Known, "reason", d.Reason, "timings", sw)

	if !d.Known {
		return unknownResult(d.Reason, d.Message), nil
	}
	return Result{
		Disease:    d.Disease,
		Severity:   d.Severity,
		Stage:      d.Stage,
		Confidence: d.Confidence,
	}, nil
}

// infer calls the model and converts panics into inference errors.
func (c *Classifier) infer(input []float32) (scores []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("model panicked", "panic", r)
			scores, err = nil, inferenceError("model panicked", fmt.Errorf("%v", r))
		}
	}()
	scores, err = c.model.Infer(input)
	if err != nil {
		return nil, inferenceError("model invocation failed", err)
	}
	return scores, nil
}
