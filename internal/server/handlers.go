package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/kappi/internal/classifier"
	"github.com/MeKo-Tech/kappi/internal/models"
	"github.com/MeKo-Tech/kappi/internal/version"
)

// healthHandler returns server health and model readiness. The status is
// "degraded" while the model is unavailable.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := ModelStatus{
		Ready:  s.classifier.Ready(),
		Engine: s.classifier.Engine(),
		Path:   s.classifier.ModelPath(),
	}
	if err := s.classifier.LoadError(); err != nil {
		status.Error = err.Error()
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Model:   status,
	}
	if !status.Ready {
		response.Status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, response)
}

// modelsHandler lists the known model files and marks the active one.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	active := s.classifier.ModelPath()
	infos := models.ListAvailableModels(s.modelsDir)
	list := make([]ModelInfo, len(infos))
	for i, info := range infos {
		list[i] = ModelInfo{
			Name:        info.Name,
			Path:        info.Path,
			Engine:      info.Engine,
			Description: info.Description,
			Exists:      info.Exists,
			SizeBytes:   info.SizeBytes,
			Active:      active != "" && filepath.Clean(active) == filepath.Clean(info.Path),
		}
	}

	s.writeJSON(w, http.StatusOK, ModelsResponse{Models: list, Count: len(list)})
}

// statusForError maps classifier error codes onto HTTP status codes.
func statusForError(err error) int {
	switch classifier.CodeOf(err) {
	case classifier.CodeDecode:
		return http.StatusBadRequest
	case classifier.CodeModelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes v with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message, code string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message, Code: code})
}

// writeClassifierError reports a classifier failure with its mapped status.
func (s *Server) writeClassifierError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error(), Code: string(classifier.CodeOf(err))}
	var ce *classifier.Error
	if errors.As(err, &ce) {
		resp.Error = ce.Message
		if ce.Err != nil {
			resp.Details = ce.Err.Error()
		}
	}
	s.writeJSON(w, statusForError(err), resp)
}
