package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// ScoreFixture is a canned model output together with the outcome the
// decision gate must produce for it.
type ScoreFixture struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Scores      []float64      `json:"scores"`
	Expected    ExpectedResult `json:"expected"`
}

// ExpectedResult mirrors the fields of a classification result.
type ExpectedResult struct {
	Disease    string  `json:"disease"`
	Severity   string  `json:"severity"`
	Stage      string  `json:"stage"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// LoadScoreFixtures reads testdata/fixtures/<name>.json as a list of fixtures.
func LoadScoreFixtures(t *testing.T, name string) []ScoreFixture {
	t.Helper()

	path := filepath.Join(GetFixturesDir(t), name+".json")
	data, err := os.ReadFile(path) //nolint:gosec // G304: reading test fixture files with controlled paths
	require.NoError(t, err, "Failed to read fixture file: %s", path)

	var fixtures []ScoreFixture
	require.NoError(t, json.Unmarshal(data, &fixtures), "Failed to unmarshal fixture JSON")
	require.NotEmpty(t, fixtures, "fixture file %s is empty", path)
	return fixtures
}
