package classifier

import (
	"testing"

	"github.com/MeKo-Tech/kappi/internal/classifier/mock"
	"github.com/MeKo-Tech/kappi/internal/gate"
	"github.com/MeKo-Tech/kappi/internal/testutil"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestClassifyResultProperties(t *testing.T) {
	leaf := testutil.LeafImage(224, 224)
	m := mock.NewModel()
	c := NewWithModel(m, DefaultConfig())
	cfg := gate.DefaultConfig()

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("results are never partially populated", prop.ForAll(
		func(scores []float32) bool {
			m.SetScores(scores...)
			res, err := c.ClassifyImage(leaf)
			if err != nil {
				return false
			}
			if res.IsUnknown() {
				return res.Severity == gate.UnknownLabel && res.Stage == gate.UnknownLabel &&
					res.Confidence == 0 && res.Error != "" && res.Reason != ""
			}
			return res.Confidence >= cfg.MinConfidence*100-1e-3 &&
				res.Confidence <= cfg.MaxConfidence*100+1e-3 &&
				res.Error == "" && res.Reason == ""
		},
		gen.SliceOfN(4, gen.Float32Range(0, 1)),
	))

	properties.TestingRun(t)
}
