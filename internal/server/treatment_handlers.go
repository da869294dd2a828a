package server

import (
	"net/http"
	"strings"

	"github.com/MeKo-Tech/kappi/internal/treatment"
)

// TreatmentsResponse lists the diseases and stages with recommendations.
type TreatmentsResponse struct {
	Diseases map[string][]string `json:"diseases"`
}

// treatmentsHandler looks up recommendations. Without a disease it lists
// the catalog; with disease and stage it returns the advice, narrowed to
// one variety when requested.
func (s *Server) treatmentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	disease := strings.TrimSpace(q.Get("disease"))
	stage := strings.TrimSpace(q.Get("stage"))

	if disease == "" {
		out := TreatmentsResponse{Diseases: make(map[string][]string)}
		for _, d := range s.treatments.Diseases() {
			out.Diseases[d] = s.treatments.Stages(d)
		}
		s.writeJSON(w, http.StatusOK, out)
		return
	}
	if stage == "" {
		s.writeErrorResponse(w, "stage is required", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	info := &TreatmentInfo{Disease: disease, Stage: stage}
	if raw := q.Get("variety"); strings.TrimSpace(raw) != "" {
		v, err := treatment.ParseVariety(raw)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), "INVALID_VARIETY", http.StatusBadRequest)
			return
		}
		rec, ok := s.treatments.Lookup(disease, stage, v)
		if !ok {
			s.writeErrorResponse(w, "no recommendation found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		info.Variety = string(v)
		info.Advice = &rec
	} else {
		all := s.treatments.ForStage(disease, stage)
		if len(all) == 0 {
			s.writeErrorResponse(w, "no recommendation found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		info.Variants = all
	}

	s.writeJSON(w, http.StatusOK, info)
}
