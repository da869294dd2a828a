package utils

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// TensorLayout selects the memory order of a normalized image tensor.
type TensorLayout string

const (
	// LayoutNHWC stores pixels interleaved: [1, H, W, 3]. Keras and TFLite exports use it.
	LayoutNHWC TensorLayout = "nhwc"
	// LayoutNCHW stores channel planes: [1, 3, H, W].
	LayoutNCHW TensorLayout = "nchw"
)

// Valid reports whether l is a known layout.
func (l TensorLayout) Valid() bool {
	return l == LayoutNHWC || l == LayoutNCHW
}

// Shape returns the tensor shape for a single size×size RGB image.
func (l TensorLayout) Shape(size int) []int64 {
	s := int64(size)
	if l == LayoutNCHW {
		return []int64{1, 3, s, s}
	}
	return []int64{1, s, s, 3}
}

// ResizeSquare rescales img to size×size with bilinear interpolation.
// Aspect ratio is not preserved.
func ResizeSquare(img image.Image, size int) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is nil")}
	}
	if size <= 0 {
		return nil, &ImageProcessingError{Operation: "resize", Err: fmt.Errorf("invalid target size: %d", size)}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("invalid image dimensions")}
	}
	return imaging.Resize(img, size, size, imaging.Linear), nil
}

// NormalizeImageInto writes the R, G and B channels of img, each divided by
// 255, into buf using the given layout. buf is grown when too small and the
// filled slice is returned. Alpha is ignored.
func NormalizeImageInto(img *image.NRGBA, layout TensorLayout, buf []float32) ([]float32, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "normalize", Err: errors.New("input image is nil")}
	}
	if !layout.Valid() {
		return nil, &ImageProcessingError{Operation: "normalize", Err: fmt.Errorf("unknown layout %q", layout)}
	}
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= 0 || height <= 0 {
		return nil, &ImageProcessingError{Operation: "normalize", Err: errors.New("invalid image dimensions")}
	}

	plane := width * height
	needed := 3 * plane
	if cap(buf) < needed {
		buf = make([]float32, needed)
	}
	data := buf[:needed]

	for y := range height {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		row := img.Pix[off : off+width*4]
		for x := range width {
			r := float32(row[x*4]) / 255.0
			g := float32(row[x*4+1]) / 255.0
			bl := float32(row[x*4+2]) / 255.0

			idx := y*width + x
			if layout == LayoutNCHW {
				data[idx] = r
				data[plane+idx] = g
				data[2*plane+idx] = bl
			} else {
				data[idx*3] = r
				data[idx*3+1] = g
				data[idx*3+2] = bl
			}
		}
	}

	return data, nil
}

// NormalizeImage is NormalizeImageInto with a freshly allocated buffer.
func NormalizeImage(img *image.NRGBA, layout TensorLayout) ([]float32, error) {
	return NormalizeImageInto(img, layout, nil)
}
