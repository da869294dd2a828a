package utils

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorLayout(t *testing.T) {
	assert.True(t, LayoutNHWC.Valid())
	assert.True(t, LayoutNCHW.Valid())
	assert.False(t, TensorLayout("hwc").Valid())

	assert.Equal(t, []int64{1, 224, 224, 3}, LayoutNHWC.Shape(224))
	assert.Equal(t, []int64{1, 3, 224, 224}, LayoutNCHW.Shape(224))
}

func TestResizeSquare(t *testing.T) {
	t.Run("non square input", func(t *testing.T) {
		src := image.NewRGBA(image.Rect(0, 0, 640, 480))
		out, err := ResizeSquare(src, 224)
		require.NoError(t, err)
		assert.Equal(t, 224, out.Bounds().Dx())
		assert.Equal(t, 224, out.Bounds().Dy())
	})

	t.Run("uniform color survives", func(t *testing.T) {
		src := image.NewRGBA(image.Rect(0, 0, 50, 30))
		for y := range 30 {
			for x := range 50 {
				src.SetRGBA(x, y, color.RGBA{R: 40, G: 160, B: 60, A: 255})
			}
		}
		out, err := ResizeSquare(src, 16)
		require.NoError(t, err)
		c := out.NRGBAAt(7, 7)
		assert.Equal(t, color.NRGBA{R: 40, G: 160, B: 60, A: 255}, c)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := ResizeSquare(nil, 224)
		require.Error(t, err)
		_, err = ResizeSquare(image.NewRGBA(image.Rect(0, 0, 4, 4)), 0)
		require.Error(t, err)
		_, err = ResizeSquare(image.NewRGBA(image.Rectangle{}), 8)
		require.Error(t, err)
	})
}

func twoPixelImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 0, G: 102, B: 255, A: 10})
	return img
}

func TestNormalizeImageNHWC(t *testing.T) {
	data, err := NormalizeImage(twoPixelImage(), LayoutNHWC)
	require.NoError(t, err)
	require.Len(t, data, 6)
	want := []float32{1, 0, 0.2, 0, 0.4, 1}
	for i := range want {
		assert.InDelta(t, want[i], data[i], 1e-6, "index %d", i)
	}
}

func TestNormalizeImageNCHW(t *testing.T) {
	data, err := NormalizeImage(twoPixelImage(), LayoutNCHW)
	require.NoError(t, err)
	require.Len(t, data, 6)
	want := []float32{1, 0, 0, 0.4, 0.2, 1}
	for i := range want {
		assert.InDelta(t, want[i], data[i], 1e-6, "index %d", i)
	}
}

func TestNormalizeImageIntoReusesBuffer(t *testing.T) {
	buf := make([]float32, 0, 64)
	data, err := NormalizeImageInto(twoPixelImage(), LayoutNHWC, buf)
	require.NoError(t, err)
	assert.Len(t, data, 6)
	assert.Same(t, &buf[:1][0], &data[0])

	small := make([]float32, 2)
	data, err = NormalizeImageInto(twoPixelImage(), LayoutNHWC, small)
	require.NoError(t, err)
	assert.Len(t, data, 6)
}

func TestNormalizeImageSubImage(t *testing.T) {
	base := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	base.SetNRGBA(2, 2, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	sub, ok := base.SubImage(image.Rect(2, 2, 4, 4)).(*image.NRGBA)
	require.True(t, ok)

	data, err := NormalizeImage(sub, LayoutNHWC)
	require.NoError(t, err)
	require.Len(t, data, 12)
	assert.InDelta(t, 1.0, data[0], 1e-6)
	assert.InDelta(t, 0.0, data[3], 1e-6)
}

func TestNormalizeImageErrors(t *testing.T) {
	_, err := NormalizeImage(nil, LayoutNHWC)
	require.Error(t, err)
	_, err = NormalizeImage(twoPixelImage(), TensorLayout("bogus"))
	require.Error(t, err)
}
