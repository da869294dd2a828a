// Package testutil builds synthetic field photos and loads fixtures for tests.
package testutil

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// ModulePath is the module this helper expects at the project root.
const ModulePath = "github.com/MeKo-Tech/kappi"

// GetProjectRoot walks up from this source file to the kappi go.mod.
func GetProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	for dir := filepath.Dir(filename); ; {
		if mod, err := readModulePath(filepath.Join(dir, "go.mod")); err == nil && mod == ModulePath {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no go.mod declaring %s above %s", ModulePath, filepath.Dir(filename))
		}
		dir = parent
	}
}

func readModulePath(goMod string) (string, error) {
	f, err := os.Open(goMod) //nolint:gosec // G304: fixed file name
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "module "); ok {
			return strings.TrimSpace(rest), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%s has no module directive", goMod)
}

// GetProjectRootValidated is GetProjectRoot plus a check for cmd/kappi.
func GetProjectRootValidated() (string, error) {
	root, err := GetProjectRoot()
	if err != nil {
		return "", err
	}
	if !DirExists(filepath.Join(root, "cmd", "kappi")) {
		return "", fmt.Errorf("cmd/kappi not found under %s", root)
	}
	return root, nil
}

// GetFixturesDir returns testdata/fixtures under the project root.
func GetFixturesDir(t *testing.T) string {
	t.Helper()
	root, err := GetProjectRoot()
	require.NoError(t, err, "Failed to find project root")
	return filepath.Join(root, "testdata", "fixtures")
}

// EnsureDir creates path and its parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o750)
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DirExists reports whether path is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
