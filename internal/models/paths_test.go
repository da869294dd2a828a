package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelsDir(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		env      string
		expected string
	}{
		{"explicit directory takes precedence", "/explicit/path", "/env/path", "/explicit/path"},
		{"environment variable used when no explicit dir", "", "/env/path", "/env/path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvModelsDir, tt.env)
			assert.Equal(t, tt.expected, GetModelsDir(tt.explicit))
		})
	}

	t.Run("project root default", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "")
		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, DefaultModelsDir), GetModelsDir(""))
	})
}

func TestGetModelPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/m", LeafONNX), GetModelPath("/m", LeafONNX))
	assert.Equal(t, "/abs/model.tflite", GetModelPath("/m", "/abs/model.tflite"))
}

func TestDefaultFilename(t *testing.T) {
	name, err := DefaultFilename("")
	require.NoError(t, err)
	assert.Equal(t, LeafONNX, name)

	name, err = DefaultFilename("TFLite")
	require.NoError(t, err)
	assert.Equal(t, LeafTFLite, name)

	_, err = DefaultFilename("coreml")
	require.Error(t, err)
}

func TestEngineForPath(t *testing.T) {
	assert.Equal(t, EngineONNX, EngineForPath("a/b/model.ONNX"))
	assert.Equal(t, EngineTFLite, EngineForPath("model.tflite"))
	assert.Empty(t, EngineForPath("model.bin"))
}

func TestValidateModelExists(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, LeafONNX)

	require.Error(t, ValidateModelExists(p))
	require.Error(t, ValidateModelExists(dir))
	assert.False(t, Exists(p))

	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	require.NoError(t, ValidateModelExists(p))
	assert.True(t, Exists(p))
}

func TestListAvailableModels(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LeafTFLite), []byte("tflite"), 0o600))

	list := ListAvailableModels(dir)
	require.Len(t, list, 2)
	for _, m := range list {
		assert.Equal(t, filepath.Join(dir, m.Filename), m.Path)
		switch m.Engine {
		case EngineTFLite:
			assert.True(t, m.Exists)
			assert.EqualValues(t, 6, m.SizeBytes)
		case EngineONNX:
			assert.False(t, m.Exists)
		}
	}
}
