// Package utils loads field photos and turns them into model input tensors.
package utils

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxPixels bounds the decoded size of a single photo (about 100 MP).
const MaxPixels = 100_000_000

// SupportedImageExtensions are the extensions picked up by directory scans.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp"}

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	return slices.Contains(SupportedImageExtensions, strings.ToLower(filepath.Ext(path)))
}

// ImageMetadata describes a decoded photo.
type ImageMetadata struct {
	Path        string
	Format      string
	SizeBytes   int64
	Width       int
	Height      int
	AspectRatio float64
}

// LoadImage reads and decodes the photo at path. A "file://" prefix is
// stripped. The format is sniffed from the content, not the extension.
func LoadImage(path string) (image.Image, ImageMetadata, error) {
	if path == "" {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: errors.New("empty path")}
	}
	path = strings.TrimPrefix(path, "file://")

	fi, err := os.Stat(path)
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: err}
	}
	if fi.IsDir() {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: fmt.Errorf("%s is a directory", path)}
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: caller-provided image path
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: err}
	}

	img, format, err := decodeBytes(data)
	if err != nil {
		return nil, ImageMetadata{}, err
	}
	b := img.Bounds()
	return img, ImageMetadata{
		Path:        path,
		Format:      format,
		SizeBytes:   fi.Size(),
		Width:       b.Dx(),
		Height:      b.Dy(),
		AspectRatio: float64(b.Dx()) / float64(b.Dy()),
	}, nil
}

// DecodeImage decodes an uploaded or streamed photo and returns its format name.
func DecodeImage(r io.Reader) (image.Image, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", &ImageProcessingError{Operation: "decode", Err: err}
	}
	return decodeBytes(data)
}

// decodeBytes checks the header dimensions before decoding the pixels and
// applies the EXIF orientation phone cameras record.
func decodeBytes(data []byte) (image.Image, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", &ImageProcessingError{Operation: "decode", Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", &ImageProcessingError{Operation: "decode", Err: errors.New("empty image")}
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return nil, "", &ImageProcessingError{
			Operation: "decode",
			Err:       fmt.Errorf("image is %dx%d, larger than %d pixels", cfg.Width, cfg.Height, MaxPixels),
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(format == "jpeg"))
	if err != nil {
		return nil, "", &ImageProcessingError{Operation: "decode", Err: err}
	}
	return img, format, nil
}
