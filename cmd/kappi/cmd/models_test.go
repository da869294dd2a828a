package cmd

import (
	"encoding/json"
	"testing"

	"github.com/MeKo-Tech/kappi/internal/models"
	"github.com/MeKo-Tech/kappi/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelsCommandText(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, models.LeafONNX, make([]byte, 2048))

	out, _, err := runCLI(t, "models", "--models-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "coffee-leaf-onnx")
	assert.Contains(t, out, "coffee-leaf-tflite")
	assert.Contains(t, out, "missing")
	assert.NotContains(t, out, "ONNX Runtime:")
}

func TestModelsCommandJSON(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, models.LeafTFLite, make([]byte, 512))

	out, _, err := runCLI(t, "models", "--models-dir", dir, "--json")
	require.NoError(t, err)

	var report modelsReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, dir, report.ModelsDir)
	assert.Nil(t, report.Runtime)
	require.Len(t, report.Models, 2)
	for _, m := range report.Models {
		if m.Engine == models.EngineTFLite {
			assert.True(t, m.Exists)
			assert.Equal(t, int64(512), m.SizeBytes)
		} else {
			assert.False(t, m.Exists)
		}
	}
}
