package support

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/kappi/internal/classifier/mock"
	"github.com/MeKo-Tech/kappi/internal/server"
	"github.com/gorilla/websocket"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Command execution state
	LastCommand  string
	LastOutput   string
	LastError    error
	LastExitCode int
	LastDuration time.Duration

	// Test environment
	WorkingDir string
	TempDir    string
	EnvVars    []string

	// In-process API server
	HTTPServer *httptest.Server
	APIServer  *server.Server
	Model      *mock.Model
	RateLimit  server.RateLimitConfig
	Auth       server.AuthConfig
	Token      string

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   []byte
	LastHTTPHeaders    http.Header

	// WebSocket state
	WSConn     *websocket.Conn
	WSMessages []map[string]any
}

// NewTestContext creates a new test context rooted at the module directory.
func NewTestContext() (*TestContext, error) {
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	// test execution runs in the package directory; walk up to go.mod
	currentDir := workingDir
	for {
		if _, err := os.Stat(filepath.Join(currentDir, "go.mod")); err == nil {
			workingDir = currentDir
			break
		}
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}

	tempDir, err := os.MkdirTemp("", "kappi-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &TestContext{
		WorkingDir: workingDir,
		TempDir:    tempDir,
	}, nil
}

// Cleanup stops servers and removes the scenario's temporary files.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	if testCtx.WSConn != nil {
		if err := testCtx.WSConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close websocket: %w", err))
		}
		testCtx.WSConn = nil
	}
	if err := testCtx.StopServer(); err != nil {
		errs = append(errs, err)
	}
	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}
	return errors.Join(errs...)
}

// StopServer shuts the in-process server down.
func (testCtx *TestContext) StopServer() error {
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.APIServer != nil {
		err := testCtx.APIServer.Close()
		testCtx.APIServer = nil
		if err != nil {
			return fmt.Errorf("failed to close server: %w", err)
		}
	}
	return nil
}

// AddEnvVar adds an environment variable for command execution.
func (testCtx *TestContext) AddEnvVar(name, value string) {
	testCtx.EnvVars = append(testCtx.EnvVars, fmt.Sprintf("%s=%s", name, value))
}

// TempPath returns a path inside the scenario's temporary directory.
func (testCtx *TestContext) TempPath(name string) string {
	return filepath.Join(testCtx.TempDir, name)
}
