package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MeKo-Tech/kappi/internal/scans"
)

// scansHandler saves (POST) or lists (GET) scans.
func (s *Server) scansHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.saveScanHandler(w, r)
	case http.MethodGet:
		s.listScansHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) saveScanHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var scan scans.Scan
	if err := json.NewDecoder(r.Body).Decode(&scan); err != nil {
		s.writeErrorResponse(w, "Invalid scan payload", "INVALID_SCAN", http.StatusBadRequest)
		return
	}
	user, err := s.identify(r, scan.UserID)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	if user == "" && !s.auth.TrustUserHeader {
		s.writeAuthError(w, errNoIdentity)
		return
	}
	scan.UserID = user

	if err := s.store.Save(r.Context(), &scan); err != nil {
		switch {
		case errors.Is(err, scans.ErrMissingUser):
			s.writeErrorResponse(w, err.Error(), "MISSING_USER", http.StatusBadRequest)
		case errors.Is(err, scans.ErrInvalidScan):
			s.writeErrorResponse(w, err.Error(), "INVALID_SCAN", http.StatusBadRequest)
		default:
			s.logger.Error("Failed to save scan", "user", scan.UserID, "error", err)
			s.writeErrorResponse(w, "Failed to save scan", "STORAGE_ERROR", http.StatusInternalServerError)
		}
		return
	}
	scansSavedTotal.Inc()

	s.writeJSON(w, http.StatusCreated, ScanResponse{Scan: scan})
}

func (s *Server) listScansHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.identify(r, r.URL.Query().Get("user"))
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	if user == "" {
		if !s.auth.TrustUserHeader {
			s.writeAuthError(w, errNoIdentity)
			return
		}
		s.writeErrorResponse(w, scans.ErrMissingUser.Error(), "MISSING_USER", http.StatusBadRequest)
		return
	}

	list, err := s.store.List(r.Context(), user)
	if err != nil {
		s.logger.Error("Failed to list scans", "user", user, "error", err)
		s.writeErrorResponse(w, "Failed to list scans", "STORAGE_ERROR", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []scans.Scan{}
	}

	s.writeJSON(w, http.StatusOK, ScansResponse{Scans: list, Count: len(list)})
}
