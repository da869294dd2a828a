// Package gate turns raw class scores into a reported label, or into
// Unknown when the scores do not look trustworthy.
package gate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Reason codes for gated-out scores.
const (
	ReasonNotLeafLike           = "not_leaf_like"
	ReasonLowConfidence         = "low_confidence"
	ReasonImplausibleConfidence = "implausible_confidence"
)

// Messages reported alongside a gated-out result.
const (
	MessageNotLeafLike           = "The image does not look like a coffee leaf."
	MessageLowConfidence         = "Unable to identify the leaf condition with enough confidence."
	MessageImplausibleConfidence = "The model returned an implausibly certain score; result discarded."
)

// UnknownLabel fills disease, severity and stage of an Unknown decision.
const UnknownLabel = "Unknown"

// Label is one row of the label table.
type Label struct {
	Disease  string `json:"disease" yaml:"disease"`
	Severity string `json:"severity" yaml:"severity"`
	Stage    string `json:"stage" yaml:"stage"`
}

// DefaultLabels is the label table of the coffee leaf rust model, indexed
// by output position.
var DefaultLabels = []Label{
	{Disease: "Healthy", Severity: "None", Stage: "Healthy"},
	{Disease: "Coffee Leaf Rust", Severity: "Low", Stage: "Early"},
	{Disease: "Coffee Leaf Rust", Severity: "Medium", Stage: "Progressive"},
	{Disease: "Coffee Leaf Rust", Severity: "High", Stage: "Severe"},
}

// Config holds the decision thresholds.
type Config struct {
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence" json:"min_confidence"`
	MaxConfidence float64 `mapstructure:"max_confidence" yaml:"max_confidence" json:"max_confidence"`
	MinMass       float64 `mapstructure:"min_mass" yaml:"min_mass" json:"min_mass"`
}

// DefaultConfig returns the band [0.6, 0.95] and a minimum mass of 0.8.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.6,
		MaxConfidence: 0.95,
		MinMass:       0.8,
	}
}

// Validate checks that the band is well formed.
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MaxConfidence > 1 {
		return fmt.Errorf("confidence band must lie within [0,1], got [%v,%v]", c.MinConfidence, c.MaxConfidence)
	}
	if c.MinConfidence > c.MaxConfidence {
		return fmt.Errorf("min_confidence %v exceeds max_confidence %v", c.MinConfidence, c.MaxConfidence)
	}
	if c.MinMass < 0 {
		return fmt.Errorf("min_mass must be non-negative, got %v", c.MinMass)
	}
	return nil
}

// Decision is the gated outcome of one score vector.
type Decision struct {
	Label
	// Confidence is the arg-max score as a percentage, or 0 when Unknown.
	Confidence float64
	Known      bool
	Reason     string
	Message    string
	Index      int
	Score      float64
	Mass       float64
}

// LengthError reports a score vector that does not match the label table.
type LengthError struct {
	Got, Want int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("model returned %d scores, expected %d", e.Got, e.Want)
}

// ErrNonFinite is returned for score vectors containing NaN or ±Inf.
var ErrNonFinite = errors.New("model returned a non-finite score")

// ArgMax returns the index of the first maximum; ties keep the lowest index.
// It returns -1 for an empty slice.
func ArgMax(scores []float64) int {
	if len(scores) == 0 {
		return -1
	}
	return floats.MaxIdx(scores)
}

// Mass returns the sum of all scores.
func Mass(scores []float64) float64 {
	return floats.Sum(scores)
}

// Decide gates scores against cfg and maps the winner through labels.
// Checks run in order: mass, lower bound, upper bound. Both bounds are inclusive.
func Decide(scores []float64, cfg Config, labels []Label) (Decision, error) {
	if len(scores) == 0 || len(scores) != len(labels) {
		return Decision{}, &LengthError{Got: len(scores), Want: len(labels)}
	}

	for _, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return Decision{}, ErrNonFinite
		}
	}

	idx := ArgMax(scores)
	d := Decision{Index: idx, Score: scores[idx], Mass: Mass(scores)}

	switch {
	case d.Mass < cfg.MinMass:
		return d.unknown(ReasonNotLeafLike, MessageNotLeafLike), nil
	case d.Score < cfg.MinConfidence:
		return d.unknown(ReasonLowConfidence, MessageLowConfidence), nil
	case d.Score > cfg.MaxConfidence:
		return d.unknown(ReasonImplausibleConfidence, MessageImplausibleConfidence), nil
	}

	d.Label = labels[idx]
	d.Confidence = d.Score * 100
	d.Known = true
	return d, nil
}

func (d Decision) unknown(reason, message string) Decision {
	d.Label = Label{Disease: UnknownLabel, Severity: UnknownLabel, Stage: UnknownLabel}
	d.Confidence = 0
	d.Known = false
	d.Reason = reason
	d.Message = message
	return d
}

// ToFloat64 widens model output for the gate.
func ToFloat64(scores []float32) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = float64(s)
	}
	return out
}
