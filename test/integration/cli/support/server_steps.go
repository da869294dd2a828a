package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/kappi/internal/classifier"
	"github.com/MeKo-Tech/kappi/internal/classifier/mock"
	"github.com/MeKo-Tech/kappi/internal/server"
	"github.com/cucumber/godog"
)

func parseScores(list string) ([]float32, error) {
	var scores []float32
	for _, f := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid score %q: %w", f, err)
		}
		scores = append(scores, float32(v))
	}
	return scores, nil
}

// startServer runs the real API handlers in-process around m. A nil m gives
// a server whose model failed to load.
func (testCtx *TestContext) startServer(m classifier.Model) error {
	if err := testCtx.StopServer(); err != nil {
		return err
	}
	clf := classifier.NewWithModel(m, classifier.DefaultConfig())
	srv, err := server.NewServer(server.Config{
		CORSOrigin:  "*",
		MaxUploadMB: 1,
		RateLimit:   testCtx.RateLimit,
		Auth:        testCtx.Auth,
	}, clf)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	testCtx.APIServer = srv
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

func (testCtx *TestContext) aServerWhoseModelScores(list string) error {
	scores, err := parseScores(list)
	if err != nil {
		return err
	}
	testCtx.Model = mock.NewModel(scores...)
	return testCtx.startServer(testCtx.Model)
}

func (testCtx *TestContext) aServerWithoutAModel() error {
	return testCtx.startServer(nil)
}

func (testCtx *TestContext) theServerAllowsRequestsPerMinute(n int) error {
	testCtx.RateLimit = server.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: n,
		RequestsPerHour:   1000,
		MaxRequestsPerDay: 1000,
		MaxDataPerDay:     1 << 30,
	}
	return nil
}

// GetServerURL returns the base URL of the running server.
func (testCtx *TestContext) GetServerURL() (string, error) {
	if testCtx.HTTPServer == nil {
		return "", fmt.Errorf("no server is running")
	}
	return testCtx.HTTPServer.URL, nil
}

func (testCtx *TestContext) theServerTrustsTheUserHeader() error {
	testCtx.Auth.TrustUserHeader = true
	return nil
}

func (testCtx *TestContext) theServerVerifiesTokensSignedWith(secret string) error {
	testCtx.Auth.JWTSecret = secret
	return nil
}

func (testCtx *TestContext) iAmSignedInAs(user string) error {
	tok, err := server.IssueToken(testCtx.Auth.JWTSecret, user, time.Hour, time.Now())
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	testCtx.Token = tok
	return nil
}

func (testCtx *TestContext) iPresentTheToken(raw string) error {
	testCtx.Token = raw
	return nil
}

func (testCtx *TestContext) do(req *http.Request) error {
	if testCtx.Token != "" {
		req.Header.Set("Authorization", "Bearer "+testCtx.Token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing response body: %v\n", err)
		}
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = body
	testCtx.LastHTTPHeaders = resp.Header
	return nil
}

// iUpload posts name as the multipart "image" field with extra form fields
// given as key=value pairs separated by "&".
func (testCtx *TestContext) iUpload(name, fields string) error {
	base, err := testCtx.GetServerURL()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(testCtx.TempPath(name))
	if err != nil {
		return err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", filepath.Base(name))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	for _, kv := range strings.Split(fields, "&") {
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, base+"/classify", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return testCtx.do(req)
}

func (testCtx *TestContext) iUploadPlain(name string) error {
	return testCtx.iUpload(name, "")
}

func (testCtx *TestContext) iRequest(method, path string) error {
	base, err := testCtx.GetServerURL()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, base+path, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) iPostJSON(path string, doc *godog.DocString) error {
	base, err := testCtx.GetServerURL()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, base+path, strings.NewReader(doc.Content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return testCtx.do(req)
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

// lookupField walks a dotted path through the JSON response. Numeric
// segments index arrays.
func (testCtx *TestContext) lookupField(path string) (any, error) {
	var current any
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &current); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w: %s", err, testCtx.LastHTTPResponse)
	}
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field %q not found in %s", path, testCtx.LastHTTPResponse)
			}
			current = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("invalid index %q in %q", part, path)
			}
			current = node[i]
		default:
			return nil, fmt.Errorf("cannot navigate into %q of %q", part, path)
		}
	}
	return current, nil
}

func (testCtx *TestContext) theJSONFieldShouldBe(path, expected string) error {
	v, err := testCtx.lookupField(path)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != expected {
		return fmt.Errorf("field %q is %q, expected %q", path, got, expected)
	}
	return nil
}

func (testCtx *TestContext) theJSONFieldShouldBeApproximately(path string, expected float64) error {
	v, err := testCtx.lookupField(path)
	if err != nil {
		return err
	}
	got, ok := v.(float64)
	if !ok {
		return fmt.Errorf("field %q is not a number: %v", path, v)
	}
	if math.Abs(got-expected) > 1e-3 {
		return fmt.Errorf("field %q is %v, expected about %v", path, got, expected)
	}
	return nil
}

func (testCtx *TestContext) theJSONShouldHaveField(path string) error {
	_, err := testCtx.lookupField(path)
	return err
}

func (testCtx *TestContext) theJSONShouldNotHaveField(path string) error {
	if _, err := testCtx.lookupField(path); err == nil {
		return fmt.Errorf("field %q is present in %s", path, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, expected string) error {
	if got := testCtx.LastHTTPHeaders.Get(name); got != expected {
		return fmt.Errorf("header %s is %q, expected %q", name, got, expected)
	}
	return nil
}

func (testCtx *TestContext) theModelShouldHaveRunTimes(n int) error {
	if testCtx.Model == nil {
		return fmt.Errorf("the server has no model")
	}
	if got := testCtx.Model.Calls(); got != n {
		return fmt.Errorf("model ran %d times, expected %d", got, n)
	}
	return nil
}

// RegisterServerSteps registers the HTTP API steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a classification server whose model scores "([^"]*)"$`, testCtx.aServerWhoseModelScores)
	sc.Step(`^a classification server without a model$`, testCtx.aServerWithoutAModel)
	sc.Step(`^the server allows (\d+) requests? per minute$`, testCtx.theServerAllowsRequestsPerMinute)
	sc.Step(`^the server trusts the user header$`, testCtx.theServerTrustsTheUserHeader)
	sc.Step(`^the server verifies tokens signed with "([^"]*)"$`, testCtx.theServerVerifiesTokensSignedWith)
	sc.Step(`^I am signed in as "([^"]*)"$`, testCtx.iAmSignedInAs)
	sc.Step(`^I present the token "([^"]*)"$`, testCtx.iPresentTheToken)

	sc.Step(`^I upload "([^"]*)" for classification$`, testCtx.iUploadPlain)
	sc.Step(`^I upload "([^"]*)" for classification with "([^"]*)"$`, testCtx.iUpload)
	sc.Step(`^I (GET|POST|PUT|DELETE|OPTIONS) "([^"]*)"$`, testCtx.iRequest)
	sc.Step(`^I POST to "([^"]*)" with JSON:$`, testCtx.iPostJSON)

	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the JSON field "([^"]*)" should be about ([0-9.]+)$`, testCtx.theJSONFieldShouldBeApproximately)
	sc.Step(`^the JSON should have field "([^"]*)"$`, testCtx.theJSONShouldHaveField)
	sc.Step(`^the JSON should not have field "([^"]*)"$`, testCtx.theJSONShouldNotHaveField)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the model should have run (\d+) times?$`, testCtx.theModelShouldHaveRunTimes)
}
