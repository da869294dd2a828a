package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/kappi/internal/classifier"
	"github.com/MeKo-Tech/kappi/internal/classifier/mock"
	"github.com/MeKo-Tech/kappi/internal/testutil"
	"github.com/stretchr/testify/require"
)

// progressiveRust scores the "Coffee Leaf Rust / Progressive" class at 0.8.
var progressiveRust = []float32{0.05, 0.1, 0.8, 0.05}

// trustedHeader takes the user from the request as given.
var trustedHeader = Config{Auth: AuthConfig{TrustUserHeader: true}}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer builds a server around a classifier backed by m. A nil m
// yields a server whose model is unavailable.
func newTestServer(t *testing.T, m *mock.Model, cfg Config, opts ...Option) *Server {
	t.Helper()
	var model classifier.Model
	if m != nil {
		model = m
	}
	clf := classifier.NewWithModel(model, classifier.DefaultConfig(), classifier.WithLogger(quietLogger()))
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	s, err := NewServer(cfg, clf, opts...)
	require.NoError(t, err)
	return s
}

func newTestMux(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

func leafPNG(t *testing.T) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.LeafImage(224, 224))
}

// multipartBody builds a form with an "image" file and extra fields.
func multipartBody(t *testing.T, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if data != nil {
		part, err := w.CreateFormFile("image", "leaf.png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func postClassify(t *testing.T, h http.Handler, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, data, fields)
	req := httptest.NewRequest(http.MethodPost, "/classify", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
