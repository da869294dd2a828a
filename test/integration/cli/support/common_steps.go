package support

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/kappi/internal/testutil"
	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"
)

// substituteCommandVariables expands {tmp} to the scenario directory.
func (testCtx *TestContext) substituteCommandVariables(s string) string {
	return strings.ReplaceAll(s, "{tmp}", testCtx.TempDir)
}

// splitCommand splits on whitespace and keeps single-quoted words together.
func splitCommand(command string) ([]string, error) {
	var (
		parts   []string
		current strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range command {
		switch {
		case r == '\'':
			quoted = !quoted
			started = true
		case r == ' ' && !quoted:
			if started {
				parts = append(parts, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote in %q", command)
	}
	if started {
		parts = append(parts, current.String())
	}
	return parts, nil
}

// writeImage saves img under the scenario directory.
func (testCtx *TestContext) writeImage(name string, img image.Image) error {
	if err := imaging.Save(img, testCtx.TempPath(name)); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (testCtx *TestContext) aLeafPhoto(name string) error {
	return testCtx.writeImage(name, testutil.LeafImage(224, 224))
}

func (testCtx *TestContext) aDarkPhoto(name string) error {
	return testCtx.writeImage(name, testutil.SolidImage(224, 224, testutil.Black))
}

func (testCtx *TestContext) aFileContaining(name, content string) error {
	path := testCtx.TempPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

// iRunCommand executes a command and stores the result.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substituteCommandVariables(command)
	testCtx.LastCommand = command

	parts, err := splitCommand(command)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = testCtx.TempDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	output, err := cmd.CombinedOutput()
	testCtx.LastOutput = string(output)
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(start)

	testCtx.LastExitCode = 0
	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldBeValidJSON skips any log lines that precede the document.
func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	_, err := testCtx.outputJSON()
	return err
}

func (testCtx *TestContext) outputJSON() (any, error) {
	output := strings.TrimSpace(testCtx.LastOutput)
	for i, r := range output {
		if r != '{' && r != '[' {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(output[i:]), &v); err == nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no JSON document found in output: %s", testCtx.LastOutput)
}

func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", errorText)
	}
	if !strings.Contains(strings.ToLower(testCtx.LastOutput), strings.ToLower(errorText)) {
		return fmt.Errorf("error does not contain '%s'\nActual output: %s", errorText, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldContain(name, content string) error {
	data, err := os.ReadFile(testCtx.TempPath(name))
	if err != nil {
		return fmt.Errorf("file %s not found: %w", name, err)
	}
	if !strings.Contains(string(data), content) {
		return fmt.Errorf("file %s does not contain '%s'\nContent: %s", name, content, data)
	}
	return nil
}

// RegisterCommonSteps registers the CLI and fixture steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a leaf photo "([^"]*)"$`, testCtx.aLeafPhoto)
	sc.Step(`^a dark photo "([^"]*)"$`, testCtx.aDarkPhoto)
	sc.Step(`^a file "([^"]*)" containing "([^"]*)"$`, testCtx.aFileContaining)
	sc.Step(`^the environment variable "([^"]*)" is "([^"]*)"$`, func(name, value string) error {
		testCtx.AddEnvVar(name, testCtx.substituteCommandVariables(value))
		return nil
	})

	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
}
