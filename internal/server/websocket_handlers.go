package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MeKo-Tech/kappi/internal/classifier"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// wsReadLimit bounds one message: the base64 image plus room for the
// other JSON fields.
func wsReadLimit(maxUploadMB int64) int64 {
	return int64(base64.StdEncoding.EncodedLen(int(maxUploadMB<<20))) + 64<<10
}

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketClassifyRequest is a classification request sent over a socket.
// Image carries the encoded file, base64 in JSON.
type WebSocketClassifyRequest struct {
	Type     string `json:"type"` // "classify"
	Image    []byte `json:"image,omitempty"`
	Variety  string `json:"variety,omitempty"`
	User     string `json:"user,omitempty"`
	ImageURI string `json:"image_uri,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketClassifyResponse reports progress and the outcome of a request.
type WebSocketClassifyResponse struct {
	Type      string             `json:"type"`
	Status    string             `json:"status"` // "processing", "completed", "error"
	Result    *classifier.Result `json:"result,omitempty"`
	Treatment *TreatmentInfo     `json:"treatment,omitempty"`
	ScanID    string             `json:"scan_id,omitempty"`
	Error     string             `json:"error,omitempty"`
	ErrorType string             `json:"error_type,omitempty"`
	Code      string             `json:"code,omitempty"`
	RequestID string             `json:"request_id,omitempty"`
}

// websocketHandler handles WebSocket connections for streaming classification.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	id, err := s.requestIdentity(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	s.handleWebSocketConnection(r.Context(), conn, id)
}

// handleWebSocketConnection processes messages until the peer goes away.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn, id identity) {
	conn.SetReadLimit(wsReadLimit(s.maxUploadMB))
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("WebSocket error", "error", err)
			}
			return
		}

		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, conn, id, data)
		}
	}
}

// handleWebSocketMessage processes one request message.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, id identity, data []byte) {
	var req WebSocketClassifyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", "", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.Type != "classify" {
		s.sendWebSocketError(conn, "", "invalid_request", "", "Unsupported request type: "+req.Type)
		return
	}

	requestID := uuid.NewString()
	user, err := s.resolveUser(id, req.User)
	if err != nil {
		code, _ := authErrorCode(err)
		s.sendWebSocketError(conn, requestID, "unauthorized", code, err.Error())
		return
	}
	req.User = user

	s.sendWebSocketResponse(conn, WebSocketClassifyResponse{
		Type:      "classify_response",
		Status:    "processing",
		RequestID: requestID,
	})
	s.processWebSocketClassify(ctx, conn, req, requestID)
}

// processWebSocketClassify runs the pipeline for one socket request.
func (s *Server) processWebSocketClassify(ctx context.Context, conn WebSocketConnWriter, req WebSocketClassifyRequest, requestID string) {
	if !s.classifier.Ready() {
		classificationsTotal.WithLabelValues("websocket", string(classifier.CodeModelUnavailable)).Inc()
		s.sendWebSocketError(conn, requestID, "model_unavailable", string(classifier.CodeModelUnavailable),
			"model is not loaded")
		return
	}

	img, err := decodeUpload(req.Image)
	if err != nil {
		classificationsTotal.WithLabelValues("websocket", string(classifier.CodeDecode)).Inc()
		s.sendWebSocketError(conn, requestID, "invalid_request", string(classifier.CodeDecode),
			fmt.Sprintf("Failed to decode image: %v", err))
		return
	}

	variety, err := s.resolveVariety(req.Variety)
	if err != nil {
		s.sendWebSocketError(conn, requestID, "invalid_request", "INVALID_VARIETY", err.Error())
		return
	}

	res, err := s.classify(img, "websocket")
	if err != nil {
		s.sendWebSocketError(conn, requestID, "processing_error", string(classifier.CodeOf(err)), err.Error())
		return
	}

	resp := WebSocketClassifyResponse{
		Type:      "classify_response",
		Status:    "completed",
		Result:    &res,
		Treatment: s.treatmentFor(res, variety),
		RequestID: requestID,
	}
	if user := req.User; user != "" {
		scan, err := s.saveScan(ctx, res, classifyRequest{UserID: user, ImageURI: req.ImageURI})
		if err != nil {
			s.logger.Error("Failed to save scan", "user", user, "error", err)
			s.sendWebSocketError(conn, requestID, "storage_error", "STORAGE_ERROR", "scan could not be saved")
			return
		}
		resp.ScanID = scan.ID.String()
	}
	s.sendWebSocketResponse(conn, resp)
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketClassifyResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Error("Failed to send WebSocket message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, code, message string) {
	s.sendWebSocketResponse(conn, WebSocketClassifyResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		Code:      code,
		RequestID: requestID,
	})
}
