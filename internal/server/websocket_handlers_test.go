package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/kappi/internal/classifier/mock"
	"github.com/MeKo-Tech/kappi/internal/scans"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWebSocketConn records written messages.
type mockWebSocketConn struct {
	sentMessages []sentMessage
}

type sentMessage struct {
	messageType int
	data        []byte
}

func (m *mockWebSocketConn) WriteMessage(messageType int, data []byte) error {
	m.sentMessages = append(m.sentMessages, sentMessage{messageType: messageType, data: data})
	return nil
}

func (m *mockWebSocketConn) responses(t *testing.T) []WebSocketClassifyResponse {
	t.Helper()
	out := make([]WebSocketClassifyResponse, len(m.sentMessages))
	for i, msg := range m.sentMessages {
		require.Equal(t, websocket.TextMessage, msg.messageType)
		require.NoError(t, json.Unmarshal(msg.data, &out[i]))
	}
	return out
}

func classifyMessage(t *testing.T, req WebSocketClassifyRequest) []byte {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return data
}

func TestServer_SendWebSocketError(t *testing.T) {
	conn := &mockWebSocketConn{}
	server := &Server{logger: quietLogger()}

	server.sendWebSocketError(conn, "req-1", "invalid_request", "DECODE_ERROR", "bad image")

	got := conn.responses(t)
	require.Len(t, got, 1)
	assert.Equal(t, WebSocketClassifyResponse{
		Type:      "error",
		Status:    "error",
		Error:     "bad image",
		ErrorType: "invalid_request",
		Code:      "DECODE_ERROR",
		RequestID: "req-1",
	}, got[0])
}

func TestWebSocketClassifyMessage(t *testing.T) {
	store := scans.NewMemoryStore()
	s := newTestServer(t, mock.NewModel(progressiveRust...), trustedHeader, WithStore(store))
	conn := &mockWebSocketConn{}

	s.handleWebSocketMessage(t.Context(), conn, identity{}, classifyMessage(t, WebSocketClassifyRequest{
		Type:    "classify",
		Image:   leafPNG(t),
		Variety: "robusta",
		User:    "farmer-1",
	}))

	got := conn.responses(t)
	require.Len(t, got, 2)
	assert.Equal(t, "processing", got[0].Status)
	_, err := uuid.Parse(got[0].RequestID)
	require.NoError(t, err)

	done := got[1]
	assert.Equal(t, "classify_response", done.Type)
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, got[0].RequestID, done.RequestID)
	require.NotNil(t, done.Result)
	assert.Equal(t, "Progressive", done.Result.Stage)
	require.NotNil(t, done.Treatment)
	assert.Equal(t, "robusta", done.Treatment.Variety)
	require.NotEmpty(t, done.ScanID)

	list, err := store.List(t.Context(), "farmer-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, done.ScanID, list[0].ID.String())
}

func TestWebSocketMessageErrors(t *testing.T) {
	tests := []struct {
		name      string
		model     *mock.Model
		message   func(t *testing.T) []byte
		responses int
		errorType string
		code      string
	}{
		{
			name:      "malformed json",
			model:     mock.NewModel(progressiveRust...),
			message:   func(*testing.T) []byte { return []byte("{") },
			responses: 1,
			errorType: "invalid_request",
		},
		{
			name:  "unsupported type",
			model: mock.NewModel(progressiveRust...),
			message: func(t *testing.T) []byte {
				return classifyMessage(t, WebSocketClassifyRequest{Type: "pdf"})
			},
			responses: 1,
			errorType: "invalid_request",
		},
		{
			name:  "missing image",
			model: mock.NewModel(progressiveRust...),
			message: func(t *testing.T) []byte {
				return classifyMessage(t, WebSocketClassifyRequest{Type: "classify"})
			},
			responses: 2,
			errorType: "invalid_request",
			code:      "DECODE_ERROR",
		},
		{
			name:  "model unavailable",
			model: nil,
			message: func(t *testing.T) []byte {
				return classifyMessage(t, WebSocketClassifyRequest{Type: "classify", Image: leafPNG(t)})
			},
			responses: 2,
			errorType: "model_unavailable",
			code:      "MODEL_UNAVAILABLE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.model, Config{})
			conn := &mockWebSocketConn{}
			s.handleWebSocketMessage(t.Context(), conn, identity{}, tt.message(t))

			got := conn.responses(t)
			require.Len(t, got, tt.responses)
			last := got[len(got)-1]
			assert.Equal(t, "error", last.Status)
			assert.Equal(t, tt.errorType, last.ErrorType)
			assert.Equal(t, tt.code, last.Code)
			assert.NotEmpty(t, last.Error)
		})
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	s := newTestServer(t, mock.NewModel(progressiveRust...), Config{})
	ts := httptest.NewServer(newTestMux(s))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/classify/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()

	require.NoError(t, conn.WriteJSON(WebSocketClassifyRequest{Type: "classify", Image: leafPNG(t)}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first, second WebSocketClassifyResponse
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))

	assert.Equal(t, "processing", first.Status)
	assert.Equal(t, "completed", second.Status)
	require.NotNil(t, second.Result)
	assert.Equal(t, "Coffee Leaf Rust", second.Result.Disease)
	require.NotNil(t, second.Treatment)
	assert.Len(t, second.Treatment.Variants, 2)
}

func TestWebSocketUpgrader(t *testing.T) {
	assert.True(t, upgrader.CheckOrigin(&http.Request{
		Header: http.Header{"Origin": []string{"http://example.com"}},
	}))
	assert.Equal(t, 1024, upgrader.ReadBufferSize)
	assert.Equal(t, 1024, upgrader.WriteBufferSize)
}
