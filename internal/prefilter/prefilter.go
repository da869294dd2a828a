// Package prefilter rejects photos that cannot plausibly show a leaf before
// any inference is spent on them. Both checks are single passes over the
// resized image.
package prefilter

import (
	"errors"
	"fmt"
	"image"
)

// InputSize is the square edge the thresholds were tuned at. Callers resize
// to it whatever input size the model uses.
const InputSize = 224

// Reason is a machine-readable code for a rejected image.
type Reason string

const (
	ReasonNone    Reason = ""
	ReasonTooDark Reason = "too_dark"
	ReasonNoLeaf  Reason = "no_leaf"
)

// Messages reported alongside a rejection.
const (
	MessageTooDark = "Image is too dark. Please retake the photo in better lighting."
	MessageNoLeaf  = "No leaf detected. Please make sure a coffee leaf fills most of the frame."
)

// Config holds the pixel thresholds. Channel values are 0..255.
type Config struct {
	// DarkChannelMax: a pixel is dark when R, G and B are all below it.
	DarkChannelMax uint8 `mapstructure:"dark_channel_max" yaml:"dark_channel_max" json:"dark_channel_max"`
	// MaxDarkRatio: reject as too dark when the dark ratio exceeds it.
	MaxDarkRatio float64 `mapstructure:"max_dark_ratio" yaml:"max_dark_ratio" json:"max_dark_ratio"`
	// GreenChannelMin: a green-dominant pixel must have G above it.
	GreenChannelMin uint8 `mapstructure:"green_channel_min" yaml:"green_channel_min" json:"green_channel_min"`
	// MinGreenRatio: reject as no leaf when the green ratio is below it.
	MinGreenRatio float64 `mapstructure:"min_green_ratio" yaml:"min_green_ratio" json:"min_green_ratio"`
}

// DefaultConfig returns the thresholds the bundled model was tuned with.
func DefaultConfig() Config {
	return Config{
		DarkChannelMax:  30,
		MaxDarkRatio:    0.5,
		GreenChannelMin: 50,
		MinGreenRatio:   0.15,
	}
}

// Validate checks ratio bounds.
func (c Config) Validate() error {
	if c.MaxDarkRatio < 0 || c.MaxDarkRatio > 1 {
		return fmt.Errorf("max_dark_ratio must be within [0,1], got %v", c.MaxDarkRatio)
	}
	if c.MinGreenRatio < 0 || c.MinGreenRatio > 1 {
		return fmt.Errorf("min_green_ratio must be within [0,1], got %v", c.MinGreenRatio)
	}
	return nil
}

// Stats are the pixel counts of one image.
type Stats struct {
	Total int
	Dark  int
	Green int
}

// DarkRatio is Dark/Total, or 0 for an empty image.
func (s Stats) DarkRatio() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Dark) / float64(s.Total)
}

// GreenRatio is Green/Total, or 0 for an empty image.
func (s Stats) GreenRatio() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Green) / float64(s.Total)
}

// Verdict is the outcome of Evaluate.
type Verdict struct {
	Pass    bool
	Reason  Reason
	Message string
	Stats   Stats
}

// IsDark reports whether all three channels are below limit.
func IsDark(r, g, b, limit uint8) bool {
	return r < limit && g < limit && b < limit
}

// IsGreen reports whether green dominates both other channels and exceeds floor.
func IsGreen(r, g, b, floor uint8) bool {
	return g > r && g > b && g > floor
}

// Analyze counts dark and green-dominant pixels. Alpha is ignored.
func Analyze(img *image.NRGBA, cfg Config) Stats {
	if img == nil {
		return Stats{}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return Stats{}
	}

	s := Stats{Total: w * h}
	for y := range h {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		row := img.Pix[off : off+w*4]
		for x := 0; x < len(row); x += 4 {
			r, g, bl := row[x], row[x+1], row[x+2]
			if IsDark(r, g, bl, cfg.DarkChannelMax) {
				s.Dark++
			}
			if IsGreen(r, g, bl, cfg.GreenChannelMin) {
				s.Green++
			}
		}
	}
	return s
}

// Evaluate applies the darkness check and then the green check.
func Evaluate(s Stats, cfg Config) Verdict {
	if s.DarkRatio() > cfg.MaxDarkRatio {
		return Verdict{Reason: ReasonTooDark, Message: MessageTooDark, Stats: s}
	}
	if s.GreenRatio() < cfg.MinGreenRatio {
		return Verdict{Reason: ReasonNoLeaf, Message: MessageNoLeaf, Stats: s}
	}
	return Verdict{Pass: true, Stats: s}
}

// ErrEmptyImage is returned by Check for nil or zero-sized images.
var ErrEmptyImage = errors.New("prefilter: empty image")

// Check analyzes and evaluates img in one call.
func Check(img *image.NRGBA, cfg Config) (Verdict, error) {
	if img == nil || img.Bounds().Empty() {
		return Verdict{}, ErrEmptyImage
	}
	return Evaluate(Analyze(img, cfg), cfg), nil
}
