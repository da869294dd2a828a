package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProjectRoot(t *testing.T) {
	root, err := GetProjectRootValidated()
	require.NoError(t, err)
	assert.True(t, FileExists(root+"/go.mod"))
}

func TestSplitImageRows(t *testing.T) {
	img := SplitImage(10, 10, 3, Black, MidGray)
	assert.Equal(t, Black, img.NRGBAAt(5, 2))
	assert.Equal(t, MidGray, img.NRGBAAt(5, 3))

	all := SplitImage(4, 4, 10, Black, MidGray)
	assert.Equal(t, Black, all.NRGBAAt(3, 3))
}

func TestLeafImageHasGreenCenter(t *testing.T) {
	img := LeafImage(100, 100)
	assert.Equal(t, LeafGrn, img.NRGBAAt(50, 40))
	assert.Equal(t, SoilBrwn, img.NRGBAAt(0, 0))
}

func TestLoadScoreFixtures(t *testing.T) {
	fixtures := LoadScoreFixtures(t, "gate_scores")
	for _, f := range fixtures {
		assert.NotEmpty(t, f.Name)
		assert.Len(t, f.Scores, 4, f.Name)
	}
}

func TestWriteImageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := WriteImage(t, dir, "leaf.png", LeafImage(32, 32))
	assert.True(t, FileExists(p))
	assert.NotEmpty(t, EncodePNG(t, SolidImage(2, 2, Black)))
}
