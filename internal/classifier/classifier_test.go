package classifier

import (
	"errors"
	"image"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/MeKo-Tech/kappi/internal/classifier/mock"
	"github.com/MeKo-Tech/kappi/internal/gate"
	"github.com/MeKo-Tech/kappi/internal/prefilter"
	"github.com/MeKo-Tech/kappi/internal/testutil"
	"github.com/MeKo-Tech/kappi/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T, m Model) *Classifier {
	t.Helper()
	return NewWithModel(m, DefaultConfig())
}

func leafPath(t *testing.T) string {
	t.Helper()
	return testutil.WriteImage(t, t.TempDir(), "leaf.png", testutil.LeafImage(224, 224))
}

func TestClassifyAllBlackIsTooDark(t *testing.T) {
	m := mock.NewModel(0.05, 0.1, 0.8, 0.05)
	c := newTestClassifier(t, m)
	p := testutil.WriteImage(t, t.TempDir(), "black.png", testutil.SolidImage(224, 224, testutil.Black))

	res, err := c.Classify(p)
	require.NoError(t, err)
	assert.True(t, res.IsUnknown())
	assert.Equal(t, Result{
		Disease: "Unknown", Severity: "Unknown", Stage: "Unknown", Confidence: 0,
		Error: res.Error, Reason: "too_dark",
	}, res)
	assert.Contains(t, strings.ToLower(res.Error), "too dark")
	assert.Zero(t, m.Calls(), "model must not run on rejected images")
}

func TestClassifyMidGrayHasNoLeaf(t *testing.T) {
	m := mock.NewModel(0.05, 0.1, 0.8, 0.05)
	c := newTestClassifier(t, m)
	p := testutil.WriteImage(t, t.TempDir(), "gray.png", testutil.SolidImage(224, 224, testutil.MidGray))

	res, err := c.Classify(p)
	require.NoError(t, err)
	assert.True(t, res.IsUnknown())
	assert.Equal(t, "no_leaf", res.Reason)
	assert.Contains(t, strings.ToLower(res.Error), "no leaf detected")
	assert.Zero(t, res.Confidence)
	assert.Zero(t, m.Calls())
}

func TestClassifyProgressiveRust(t *testing.T) {
	m := mock.NewModel(0.05, 0.1, 0.8, 0.05)
	c := newTestClassifier(t, m)

	res, err := c.Classify(leafPath(t))
	require.NoError(t, err)
	assert.Equal(t, "Coffee Leaf Rust", res.Disease)
	assert.Equal(t, "Medium", res.Severity)
	assert.Equal(t, "Progressive", res.Stage)
	assert.InDelta(t, 80.0, res.Confidence, 1e-4)
	assert.Empty(t, res.Error)
	assert.Empty(t, res.Reason)
	assert.Equal(t, 1, m.Calls())
}

func TestClassifyScoreFixtures(t *testing.T) {
	path := leafPath(t)
	for _, f := range testutil.LoadScoreFixtures(t, "gate_scores") {
		t.Run(f.Name, func(t *testing.T) {
			scores := make([]float32, len(f.Scores))
			for i, s := range f.Scores {
				scores[i] = float32(s)
			}
			c := newTestClassifier(t, mock.NewModel(scores...))

			res, err := c.Classify(path)
			require.NoError(t, err)
			assert.Equal(t, f.Expected.Disease, res.Disease)
			assert.Equal(t, f.Expected.Severity, res.Severity)
			assert.Equal(t, f.Expected.Stage, res.Stage)
			assert.InDelta(t, f.Expected.Confidence, res.Confidence, 1e-4)
			assert.Equal(t, f.Expected.Reason, res.Reason)
			assert.Equal(t, f.Expected.Reason != "", res.Error != "")
		})
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	c := newTestClassifier(t, mock.NewModel(0.2, 0.7, 0.05, 0.05))
	path := leafPath(t)

	first, err := c.Classify(path)
	require.NoError(t, err)
	second, err := c.Classify(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClassifyAcceptsFileScheme(t *testing.T) {
	c := newTestClassifier(t, mock.NewModel(0.05, 0.1, 0.8, 0.05))
	res, err := c.Classify("file://" + leafPath(t))
	require.NoError(t, err)
	assert.Equal(t, "Progressive", res.Stage)
}

func TestModelUnavailableFailsFast(t *testing.T) {
	c := NewWithModel(nil, DefaultConfig())
	assert.False(t, c.Ready())
	require.Error(t, c.LoadError())

	// the path does not exist: the model check must come first
	_, err := c.Classify(filepath.Join(t.TempDir(), "missing.jpg"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Equal(t, CodeModelUnavailable, CodeOf(err))

	_, err = c.ClassifyImage(nil)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestNewWithMissingModelStaysConstructible(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelsDir = t.TempDir()

	c := New(cfg)
	require.NotNil(t, c)
	assert.False(t, c.Ready())
	require.Error(t, c.LoadError())
	assert.Equal(t, filepath.Join(cfg.ModelsDir, "coffee_leaf_classifier.onnx"), c.ModelPath())

	_, err := c.Classify(leafPath(t))
	assert.Equal(t, CodeModelUnavailable, CodeOf(err))
	assert.NoError(t, c.Close())
}

func TestDecodeErrors(t *testing.T) {
	m := mock.NewModel(0.05, 0.1, 0.8, 0.05)
	c := newTestClassifier(t, m)
	dir := t.TempDir()

	garbage := testutil.WriteFile(t, dir, "leaf.jpg", []byte("not an image at all"))
	for _, p := range []string{garbage, filepath.Join(dir, "missing.png"), ""} {
		_, err := c.Classify(p)
		require.Error(t, err, p)
		assert.ErrorIs(t, err, ErrDecode)
		var ce *Error
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, CodeDecode, ce.Code)
		assert.NotEmpty(t, ce.Message)
	}

	_, err := c.ClassifyImage(nil)
	assert.ErrorIs(t, err, ErrDecode)
	_, err = c.ClassifyImage(image.NewNRGBA(image.Rectangle{}))
	assert.ErrorIs(t, err, ErrDecode)
	assert.Zero(t, m.Calls())
}

func TestInferenceErrors(t *testing.T) {
	path := leafPath(t)

	t.Run("model error", func(t *testing.T) {
		m := mock.NewModel()
		m.SetError(errors.New("tensor arena exhausted"))
		_, err := newTestClassifier(t, m).Classify(path)
		require.ErrorIs(t, err, ErrInference)
		assert.Contains(t, err.Error(), "tensor arena exhausted")
	})

	t.Run("panic is recovered", func(t *testing.T) {
		m := mock.NewModel()
		m.SetPanic("segfault in delegate")
		var err error
		require.NotPanics(t, func() {
			_, err = newTestClassifier(t, m).Classify(path)
		})
		require.ErrorIs(t, err, ErrInference)
		assert.Contains(t, err.Error(), "segfault in delegate")
	})

	t.Run("wrong output length", func(t *testing.T) {
		_, err := newTestClassifier(t, mock.NewModel(0.9, 0.1)).Classify(path)
		require.ErrorIs(t, err, ErrInference)
		var le *gate.LengthError
		assert.True(t, errors.As(err, &le))
	})

	t.Run("empty output", func(t *testing.T) {
		_, err := newTestClassifier(t, mock.NewModel()).Classify(path)
		require.ErrorIs(t, err, ErrInference)
	})
}

func TestTensorLayoutReachesModel(t *testing.T) {
	path := leafPath(t)
	soilR := float32(testutil.SoilBrwn.R) / 255
	soilG := float32(testutil.SoilBrwn.G) / 255

	cases := []struct {
		layout utils.TensorLayout
		want   float32
	}{
		{utils.LayoutNHWC, soilG}, // [R0 G0 B0 R1 ...]
		{utils.LayoutNCHW, soilR}, // [R0 R1 ...]
	}
	for _, tc := range cases {
		t.Run(string(tc.layout), func(t *testing.T) {
			var got float32
			var n int
			m := mock.NewFuncModel(func(in []float32) ([]float32, error) {
				got, n = in[1], len(in)
				return []float32{0.05, 0.1, 0.8, 0.05}, nil
			})
			cfg := DefaultConfig()
			cfg.Layout = tc.layout
			_, err := NewWithModel(m, cfg).Classify(path)
			require.NoError(t, err)
			assert.Equal(t, 224*224*3, n)
			assert.InDelta(t, tc.want, got, 1e-6)
		})
	}
}

func TestModelInputShapeOverridesConfig(t *testing.T) {
	var n int
	m := mock.NewFuncModel(func(in []float32) ([]float32, error) {
		n = len(in)
		return []float32{0.7, 0.1, 0.1, 0.1}, nil
	})
	c := NewWithModel(m.WithInput(utils.LayoutNCHW, 64), DefaultConfig())

	res, err := c.Classify(leafPath(t))
	require.NoError(t, err)
	assert.Equal(t, "Healthy", res.Disease)
	assert.Equal(t, 64*64*3, n)
}

// stripedDark paints two of every three rows black. Downscaling blends the
// stripes into a mid tone, so the verdict depends on the screening size.
func stripedDark() *image.NRGBA {
	img := testutil.SolidImage(prefilter.InputSize, prefilter.InputSize, testutil.MidGray)
	for y := range prefilter.InputSize {
		if y%3 == 2 {
			continue
		}
		for x := range prefilter.InputSize {
			img.SetNRGBA(x, y, testutil.Black)
		}
	}
	return img
}

func TestPrefilterIgnoresModelInputSize(t *testing.T) {
	for _, size := range []int{32, 64, 224, 299} {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			m := mock.NewModel(0.7, 0.1, 0.1, 0.1)
			c := NewWithModel(m.WithInput(utils.LayoutNHWC, size), DefaultConfig())

			res, err := c.ClassifyImage(stripedDark())
			require.NoError(t, err)
			assert.Equal(t, string(prefilter.ReasonTooDark), res.Reason)
			assert.Zero(t, m.Calls())

			res, err = c.ClassifyImage(testutil.LeafImage(300, 200))
			require.NoError(t, err)
			assert.Equal(t, "Healthy", res.Disease)
		})
	}
}

func TestConcurrentClassify(t *testing.T) {
	c := newTestClassifier(t, mock.NewModel(0.05, 0.1, 0.8, 0.05))
	path := leafPath(t)
	want, err := c.Classify(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Classify(path)
			if err != nil {
				errs <- err
				return
			}
			if got != want {
				errs <- errors.New("result differs between concurrent calls")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCloseReleasesModel(t *testing.T) {
	m := mock.NewModel(0.05, 0.1, 0.8, 0.05)
	c := newTestClassifier(t, m)
	require.NoError(t, c.Close())
	assert.True(t, m.Closed())
}

func TestZeroConfigUsesDefaults(t *testing.T) {
	c := NewWithModel(mock.NewModel(0.05, 0.1, 0.8, 0.05), Config{})
	res, err := c.Classify(leafPath(t))
	require.NoError(t, err)
	assert.Equal(t, "Progressive", res.Stage)
}
