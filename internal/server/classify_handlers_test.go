package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MeKo-Tech/kappi/internal/classifier/mock"
	"github.com/MeKo-Tech/kappi/internal/scans"
	"github.com/MeKo-Tech/kappi/internal/testutil"
	"github.com/MeKo-Tech/kappi/internal/treatment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyHandlerProgressiveRust(t *testing.T) {
	s := newTestServer(t, mock.NewModel(progressiveRust...), Config{})
	rec := postClassify(t, newTestMux(s), leafPNG(t), nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeJSON[ClassifyResponse](t, rec)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "Coffee Leaf Rust", resp.Result.Disease)
	assert.Equal(t, "Progressive", resp.Result.Stage)
	assert.InDelta(t, 80.0, resp.Result.Confidence, 1e-4)
	assert.Empty(t, resp.ScanID)

	// no variety requested: advice for every variety
	require.NotNil(t, resp.Treatment)
	assert.Nil(t, resp.Treatment.Advice)
	assert.Len(t, resp.Treatment.Variants, len(treatment.Varieties))
}

func TestClassifyHandlerVariety(t *testing.T) {
	t.Run("form field", func(t *testing.T) {
		s := newTestServer(t, mock.NewModel(progressiveRust...), Config{})
		rec := postClassify(t, newTestMux(s), leafPNG(t), map[string]string{"variety": "Robusta"})

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeJSON[ClassifyResponse](t, rec)
		require.NotNil(t, resp.Treatment)
		assert.Equal(t, string(treatment.Robusta), resp.Treatment.Variety)
		require.NotNil(t, resp.Treatment.Advice)
		assert.NotEmpty(t, resp.Treatment.Advice.Chemical)
		assert.Empty(t, resp.Treatment.Variants)
	})

	t.Run("configured default", func(t *testing.T) {
		s := newTestServer(t, mock.NewModel(progressiveRust...), Config{DefaultVariety: "arabica"})
		rec := postClassify(t, newTestMux(s), leafPNG(t), nil)

		resp := decodeJSON[ClassifyResponse](t, rec)
		require.NotNil(t, resp.Treatment)
		assert.Equal(t, string(treatment.Arabica), resp.Treatment.Variety)
	})

	t.Run("unknown variety", func(t *testing.T) {
		m := mock.NewModel(progressiveRust...)
		s := newTestServer(t, m, Config{})
		rec := postClassify(t, newTestMux(s), leafPNG(t), map[string]string{"variety": "liberica"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_VARIETY", decodeJSON[ErrorResponse](t, rec).Code)
		assert.Zero(t, m.Calls())
	})
}

func TestClassifyHandlerHealthyHasNoTreatment(t *testing.T) {
	s := newTestServer(t, mock.NewModel(0.7, 0.1, 0.1, 0.1), Config{})
	rec := postClassify(t, newTestMux(s), leafPNG(t), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[ClassifyResponse](t, rec)
	assert.Equal(t, "Healthy", resp.Result.Disease)
	assert.Nil(t, resp.Treatment)
}

func TestClassifyHandlerUnknownIsSuccess(t *testing.T) {
	m := mock.NewModel(progressiveRust...)
	s := newTestServer(t, m, trustedHeader)
	black := testutil.EncodePNG(t, testutil.SolidImage(224, 224, testutil.Black))
	rec := postClassify(t, newTestMux(s), black, map[string]string{"user": "farmer-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[ClassifyResponse](t, rec)
	assert.True(t, resp.Success)
	assert.True(t, resp.Result.IsUnknown())
	assert.Equal(t, "too_dark", resp.Result.Reason)
	assert.Nil(t, resp.Treatment)
	assert.Zero(t, m.Calls())
	assert.NotEmpty(t, resp.ScanID, "unknown results are still recorded")
}

func TestClassifyHandlerSavesScan(t *testing.T) {
	store := scans.NewMemoryStore()
	s := newTestServer(t, mock.NewModel(progressiveRust...), trustedHeader, WithStore(store))
	mux := newTestMux(s)

	rec := postClassify(t, mux, leafPNG(t), map[string]string{"user": "farmer-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[ClassifyResponse](t, rec)
	require.NotEmpty(t, resp.ScanID)

	list, err := store.List(t.Context(), "farmer-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, resp.ScanID, list[0].ID.String())
	assert.Equal(t, "Progressive", list[0].Stage)
	assert.Equal(t, "leaf.png", list[0].ImageURI)

	// the user header works as well
	body, ct := multipartBody(t, leafPNG(t), nil)
	req := httptest.NewRequest(http.MethodPost, "/classify", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(userHeader, "farmer-2")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	list, err = store.List(t.Context(), "farmer-2")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClassifyHandlerErrors(t *testing.T) {
	tests := []struct {
		name     string
		model    func() *mock.Model
		body     []byte
		wantCode int
		wantErr  string
		details  string
	}{
		{
			name:     "missing image",
			model:    func() *mock.Model { return mock.NewModel(progressiveRust...) },
			body:     nil,
			wantCode: http.StatusBadRequest,
			wantErr:  "DECODE_ERROR",
		},
		{
			name:     "garbage image",
			model:    func() *mock.Model { return mock.NewModel(progressiveRust...) },
			body:     []byte("definitely not a png"),
			wantCode: http.StatusBadRequest,
			wantErr:  "DECODE_ERROR",
		},
		{
			name:     "empty image",
			model:    func() *mock.Model { return mock.NewModel(progressiveRust...) },
			body:     []byte{},
			wantCode: http.StatusBadRequest,
			wantErr:  "DECODE_ERROR",
		},
		{
			name: "inference failure",
			model: func() *mock.Model {
				m := mock.NewModel()
				m.SetError(errors.New("tensor arena exhausted"))
				return m
			},
			body:     nil, // filled below
			wantCode: http.StatusInternalServerError,
			wantErr:  "INFERENCE_ERROR",
			details:  "tensor arena exhausted",
		},
		{
			name:     "model unavailable",
			model:    func() *mock.Model { return nil },
			wantCode: http.StatusServiceUnavailable,
			wantErr:  "MODEL_UNAVAILABLE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body
			if tt.wantErr != "DECODE_ERROR" {
				body = leafPNG(t)
			}
			s := newTestServer(t, tt.model(), Config{})
			rec := postClassify(t, newTestMux(s), body, nil)

			assert.Equal(t, tt.wantCode, rec.Code)
			resp := decodeJSON[ErrorResponse](t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantErr, resp.Code)
			assert.NotEmpty(t, resp.Error)
			if tt.details != "" {
				assert.Contains(t, resp.Details, tt.details)
			}
		})
	}
}

func TestClassifyHandlerMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, mock.NewModel(progressiveRust...), Config{})
	rec := httptest.NewRecorder()
	newTestMux(s).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/classify", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestClassifyHandlerUploadTooLarge(t *testing.T) {
	s := newTestServer(t, mock.NewModel(progressiveRust...), Config{MaxUploadMB: 1})
	big := []byte(strings.Repeat("x", 2<<20))
	rec := postClassify(t, newTestMux(s), big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
