package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/kappi/internal/classifier"
	"github.com/MeKo-Tech/kappi/internal/scans"
	"github.com/MeKo-Tech/kappi/internal/treatment"
	"github.com/MeKo-Tech/kappi/internal/utils"
)

// classifyRequest holds the optional per-request fields.
type classifyRequest struct {
	Variety  string
	UserID   string
	ImageURI string
}

// classifyHandler classifies one uploaded leaf image.
func (s *Server) classifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Model readiness is reported before the upload is read.
	if !s.classifier.Ready() {
		classificationsTotal.WithLabelValues("http", string(classifier.CodeModelUnavailable)).Inc()
		s.writeClassifierError(w, &classifier.Error{
			Code:    classifier.CodeModelUnavailable,
			Message: "model is not loaded",
			Err:     s.classifier.LoadError(),
		})
		return
	}

	img, req, err := s.parseImageRequest(w, r)
	if err != nil {
		classificationsTotal.WithLabelValues("http", string(classifier.CodeDecode)).Inc()
		return // response already written
	}

	if req.UserID, err = s.identify(r, req.UserID); err != nil {
		s.writeAuthError(w, err)
		return
	}

	variety, err := s.resolveVariety(req.Variety)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), "INVALID_VARIETY", http.StatusBadRequest)
		return
	}

	res, err := s.classify(img, "http")
	if err != nil {
		s.writeClassifierError(w, err)
		return
	}

	resp := ClassifyResponse{
		Success:   true,
		Result:    &res,
		Treatment: s.treatmentFor(res, variety),
	}
	if req.UserID != "" {
		scan, err := s.saveScan(r.Context(), res, req)
		if err != nil {
			s.logger.Error("Failed to save scan", "user", req.UserID, "error", err)
			s.writeErrorResponse(w, "classification succeeded but the scan could not be saved", "STORAGE_ERROR",
				http.StatusInternalServerError)
			return
		}
		resp.ScanID = scan.ID.String()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// parseImageRequest reads the multipart "image" field and decodes it. On
// failure the error response has been written.
func (s *Server) parseImageRequest(w http.ResponseWriter, r *http.Request) (image.Image, classifyRequest, error) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, "File too large", "", http.StatusRequestEntityTooLarge)
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", string(classifier.CodeDecode), http.StatusBadRequest)
		}
		return nil, classifyRequest{}, err
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", string(classifier.CodeDecode), http.StatusBadRequest)
		return nil, classifyRequest{}, err
	}
	defer func() { _ = file.Close() }()

	uploadSizeBytes.Observe(float64(header.Size))

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", string(classifier.CodeDecode), http.StatusBadRequest)
		return nil, classifyRequest{}, err
	}

	img, err := decodeUpload(data)
	if err != nil {
		s.writeErrorResponse(w, "Invalid image format", string(classifier.CodeDecode), http.StatusBadRequest)
		return nil, classifyRequest{}, err
	}

	req := classifyRequest{
		Variety:  r.FormValue("variety"),
		UserID:   strings.TrimSpace(r.FormValue("user")),
		ImageURI: r.FormValue("image_uri"),
	}
	if req.ImageURI == "" {
		req.ImageURI = header.Filename
	}
	return img, req, nil
}

func decodeUpload(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	img, _, err := utils.DecodeImage(bytes.NewReader(data))
	return img, err
}

// classify runs the pipeline and records metrics.
func (s *Server) classify(img image.Image, source string) (classifier.Result, error) {
	start := time.Now()
	res, err := s.classifier.ClassifyImage(img)
	classificationDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		classificationsTotal.WithLabelValues(source, string(classifier.CodeOf(err))).Inc()
		s.logger.Warn("Classification failed", "source", source, "error", err)
	case res.IsUnknown():
		classificationsTotal.WithLabelValues(source, res.Reason).Inc()
	default:
		classificationsTotal.WithLabelValues(source, res.Disease).Inc()
		classificationConfidence.Observe(res.Confidence)
	}
	return res, err
}

// resolveVariety parses the requested variety, falling back to the
// configured default. An empty result means "all varieties".
func (s *Server) resolveVariety(raw string) (treatment.Variety, error) {
	if strings.TrimSpace(raw) == "" {
		return s.defaultVariety, nil
	}
	return treatment.ParseVariety(raw)
}

// treatmentFor returns the recommendations for an accepted result, or nil
// when the catalog has none (Healthy, Unknown).
func (s *Server) treatmentFor(res classifier.Result, variety treatment.Variety) *TreatmentInfo {
	if res.IsUnknown() {
		return nil
	}
	info := &TreatmentInfo{Disease: res.Disease, Stage: res.Stage}
	if variety != "" {
		rec, ok := s.treatments.Lookup(res.Disease, res.Stage, variety)
		if !ok {
			return nil
		}
		info.Variety = string(variety)
		info.Advice = &rec
		return info
	}
	all := s.treatments.ForStage(res.Disease, res.Stage)
	if len(all) == 0 {
		return nil
	}
	info.Variants = all
	return info
}

func (s *Server) saveScan(ctx context.Context, res classifier.Result, req classifyRequest) (*scans.Scan, error) {
	scan := &scans.Scan{
		UserID:     req.UserID,
		Disease:    res.Disease,
		Confidence: res.Confidence,
		Severity:   res.Severity,
		Stage:      res.Stage,
		ImageURI:   req.ImageURI,
	}
	if err := s.store.Save(ctx, scan); err != nil {
		return nil, fmt.Errorf("save scan: %w", err)
	}
	scansSavedTotal.Inc()
	return scan, nil
}
