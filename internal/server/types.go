package server

import (
	"errors"
	"image"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/kappi/internal/classifier"
	"github.com/MeKo-Tech/kappi/internal/scans"
	"github.com/MeKo-Tech/kappi/internal/treatment"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// leafClassifier is what the server needs from the classification pipeline.
type leafClassifier interface {
	ClassifyImage(img image.Image) (classifier.Result, error)
	Ready() bool
	LoadError() error
	ModelPath() string
	Engine() string
	Close() error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	classifier     leafClassifier
	treatments     *treatment.Catalog
	store          scans.Store
	modelsDir      string
	corsOrigin     string
	maxUploadMB    int64
	defaultVariety treatment.Variety
	auth           AuthConfig
	rateLimiter    *RateLimiter
	logger         *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Host           string
	Port           int
	CORSOrigin     string
	MaxUploadMB    int64
	TimeoutSec     int
	ModelsDir      string
	DefaultVariety string
	Auth           AuthConfig
	RateLimit      RateLimitConfig
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string      `json:"status"`
	Version string      `json:"version,omitempty"`
	Time    string      `json:"time"`
	Model   ModelStatus `json:"model"`
}

// ModelStatus reports whether the classifier can serve requests.
type ModelStatus struct {
	Ready  bool   `json:"ready"`
	Engine string `json:"engine"`
	Path   string `json:"path,omitempty"`
	Error  string `json:"error,omitempty"`
}

type ModelInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Engine      string `json:"engine"`
	Description string `json:"description"`
	Exists      bool   `json:"exists"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	Active      bool   `json:"active"`
}

type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
	Count  int         `json:"count"`
}

// TreatmentInfo carries the recommendations attached to a classification.
type TreatmentInfo struct {
	Disease  string                                         `json:"disease"`
	Stage    string                                         `json:"stage"`
	Variety  string                                         `json:"variety,omitempty"`
	Advice   *treatment.Recommendation                      `json:"recommendation,omitempty"`
	Variants map[treatment.Variety]treatment.Recommendation `json:"varieties,omitempty"`
}

type ClassifyResponse struct {
	Success   bool               `json:"success"`
	Result    *classifier.Result `json:"result,omitempty"`
	Treatment *TreatmentInfo     `json:"treatment,omitempty"`
	ScanID    string             `json:"scan_id,omitempty"`
	Error     string             `json:"error,omitempty"`
	Code      string             `json:"code,omitempty"`
}

type ScanResponse struct {
	Scan scans.Scan `json:"scan"`
}

type ScansResponse struct {
	Scans []scans.Scan `json:"scans"`
	Count int          `json:"count"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Option customizes a Server.
type Option func(*Server)

// WithTreatments sets the recommendations catalog. The default is treatment.Default().
func WithTreatments(c *treatment.Catalog) Option {
	return func(s *Server) {
		if c != nil {
			s.treatments = c
		}
	}
}

// WithStore sets the scan store. The default is an in-memory store.
func WithStore(st scans.Store) Option {
	return func(s *Server) {
		if st != nil {
			s.store = st
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a server around an already constructed classifier.
func NewServer(config Config, clf leafClassifier, opts ...Option) (*Server, error) {
	if clf == nil {
		return nil, errors.New("classifier is required")
	}
	s := &Server{
		classifier:  clf,
		treatments:  treatment.Default(),
		store:       scans.NewMemoryStore(),
		modelsDir:   config.ModelsDir,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		auth:        config.Auth,
		rateLimiter: NewRateLimiterFromConfig(config.RateLimit),
		logger:      slog.Default(),
	}
	if s.maxUploadMB <= 0 {
		s.maxUploadMB = 20
	}
	if strings.TrimSpace(config.DefaultVariety) != "" {
		v, err := treatment.ParseVariety(config.DefaultVariety)
		if err != nil {
			return nil, err
		}
		s.defaultVariety = v
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases the classifier and the scan store.
func (s *Server) Close() error {
	return errors.Join(s.classifier.Close(), s.store.Close())
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/models", s.corsMiddleware(s.modelsHandler))
	mux.HandleFunc("/classify", s.corsMiddleware(s.rateLimitMiddleware(s.classifyHandler)))
	mux.HandleFunc("/classify/ws", s.websocketHandler)
	mux.HandleFunc("/scans", s.corsMiddleware(s.scansHandler))
	mux.HandleFunc("/treatments", s.corsMiddleware(s.treatmentsHandler))
	mux.Handle("/metrics", promhttp.Handler())
}

// RateLimiter returns the limiter, nil when rate limiting is disabled.
func (s *Server) RateLimiter() *RateLimiter { return s.rateLimiter }
