package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/kappi/internal/batch"
	"github.com/MeKo-Tech/kappi/internal/config"
	"github.com/MeKo-Tech/kappi/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func photoDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeLeaf(t, dir, "a.png")
	writeLeaf(t, dir, "b.png")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o750))
	writeLeaf(t, filepath.Join(dir, "sub"), "c.png")
	testutil.WriteImage(t, dir, "dark.png", testutil.SolidImage(224, 224, testutil.Black))
	testutil.WriteFile(t, dir, "notes.txt", []byte("field notes"))
	return dir
}

func TestBatchCommand(t *testing.T) {
	assert.True(t, strings.HasPrefix(batchCmd.Use, "batch"))
	assert.NotEmpty(t, batchCmd.Short)
	for _, name := range []string{"workers", "recursive", "include", "exclude", "continue-on-error", "progress", "stats", "output-dir"} {
		assert.NotNil(t, batchCmd.Flags().Lookup(name), name)
	}
}

func TestBatchDirectoryJSON(t *testing.T) {
	m := useMockModel(t, progressiveRust...)
	dir := photoDir(t)

	out, _, err := runCLI(t, "batch", dir, "--format", "json", "--workers", "2")
	require.NoError(t, err)

	doc := decodeDocument(t, out)
	require.Len(t, doc.Items, 4)
	files := make([]string, 0, len(doc.Items))
	for _, it := range doc.Items {
		files = append(files, filepath.Base(it.File))
	}
	assert.Equal(t, []string{"a.png", "b.png", "dark.png", "c.png"}, files)
	assert.Equal(t, 4, doc.Summary.Total)
	assert.Equal(t, 3, doc.Summary.Classified)
	assert.Equal(t, 1, doc.Summary.Unknown)
	assert.Equal(t, 3, doc.Summary.ByStage["Progressive"])
	assert.Equal(t, 3, m.Calls())
}

func TestBatchNonRecursiveAndPatterns(t *testing.T) {
	useMockModel(t, progressiveRust...)
	dir := photoDir(t)

	out, _, err := runCLI(t, "batch", dir, "--format", "csv", "--recursive=false", "--exclude", "dark*")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "a.png")
	assert.Contains(t, lines[2], "b.png")
}

func TestBatchOutputDir(t *testing.T) {
	useMockModel(t, progressiveRust...)
	dir := photoDir(t)
	outDir := filepath.Join(t.TempDir(), "reports")

	out, errOut, err := runCLI(t, "batch", dir, "--format", "yaml", "--output-dir", outDir, "--stats")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "Processing Statistics")

	data, err := os.ReadFile(filepath.Join(outDir, "results.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "stage: Progressive")
}

func TestBatchStopsOnFirstErrorWhenAsked(t *testing.T) {
	m := useMockModel(t, progressiveRust...)
	m.SetError(assert.AnError)
	dir := photoDir(t)

	_, _, err := runCLI(t, "batch", dir, "--workers", "1", "--continue-on-error=false")
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestBatchWithoutImages(t *testing.T) {
	useMockModel(t, progressiveRust...)
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "readme.md", []byte("# nothing"))

	_, _, err := runCLI(t, "batch", dir)
	require.ErrorIs(t, err, batch.ErrNoImages)
}

func TestConfigToBatchConfigOverrides(t *testing.T) {
	resetFlags(rootCmd)
	cfg := config.DefaultConfig()
	cfg.Batch.Workers = 3
	cfg.Batch.ContinueOnError = true
	cfg.Batch.ShowProgress = true

	bc := configToBatchConfig(&cfg, batchCmd)
	assert.Equal(t, 3, bc.Workers)
	assert.True(t, bc.ContinueOnError)
	assert.NotNil(t, bc.Progress)

	require.NoError(t, batchCmd.Flags().Set("workers", "7"))
	require.NoError(t, batchCmd.Flags().Set("continue-on-error", "false"))
	require.NoError(t, batchCmd.Flags().Set("progress", "false"))
	require.NoError(t, batchCmd.Flags().Set("include", "*.jpg,*.png"))
	t.Cleanup(func() { resetFlags(rootCmd) })

	bc = configToBatchConfig(&cfg, batchCmd)
	assert.Equal(t, 7, bc.Workers)
	assert.False(t, bc.ContinueOnError)
	assert.Nil(t, bc.Progress)
	assert.Equal(t, []string{"*.jpg", "*.png"}, bc.IncludePatterns)
}
