package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Reference colors for synthetic scenes.
var (
	Black    = color.NRGBA{R: 0, G: 0, B: 0, A: 255}
	MidGray  = color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	LeafGrn  = color.NRGBA{R: 46, G: 139, B: 57, A: 255}
	RustOrng = color.NRGBA{R: 196, G: 98, B: 16, A: 255}
	SoilBrwn = color.NRGBA{R: 101, G: 67, B: 33, A: 255}
)

// SolidImage returns a w×h image filled with c.
func SolidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// SplitImage paints the first rows rows of a w×h image with top and the
// rest with bottom. It gives exact pixel ratios for threshold tests.
func SplitImage(w, h, rows int, top, bottom color.Color) *image.NRGBA {
	img := SolidImage(w, h, bottom)
	if rows > h {
		rows = h
	}
	if rows > 0 {
		draw.Draw(img, image.Rect(0, 0, w, rows), &image.Uniform{top}, image.Point{}, draw.Src)
	}
	return img
}

// LeafImage renders a green ellipse on a soil background with a few rust
// spots, roughly what a field photo of a coffee leaf reduces to.
func LeafImage(w, h int) *image.NRGBA {
	img := SolidImage(w, h, SoilBrwn)
	cx, cy := float64(w)/2, float64(h)/2
	rx, ry := float64(w)*0.42, float64(h)*0.30
	for y := range h {
		for x := range w {
			dx := (float64(x) - cx) / rx
			dy := (float64(y) - cy) / ry
			if dx*dx+dy*dy <= 1 {
				img.SetNRGBA(x, y, LeafGrn)
			}
		}
	}
	spot := max(w/40, 1)
	for _, p := range []image.Point{{w / 3, h / 2}, {w / 2, h / 2}, {2 * w / 3, h / 2}} {
		draw.Draw(img, image.Rect(p.X, p.Y, p.X+spot, p.Y+spot), &image.Uniform{RustOrng}, image.Point{}, draw.Src)
	}
	return img
}

// EncodePNG returns img as PNG bytes.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// WriteImage encodes img into dir/name and returns the path. The encoder
// is picked from the extension (.jpg/.jpeg or PNG otherwise).
func WriteImage(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, EnsureDir(filepath.Dir(path)))

	f, err := os.Create(path) //nolint:gosec // G304: test file creation with controlled path
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()

	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 95}))
	default:
		require.NoError(t, png.Encode(f, img))
	}
	return path
}

// WriteFile writes raw bytes into dir/name and returns the path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, EnsureDir(filepath.Dir(path)))
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}
