// Package scans records classification results per user.
package scans

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidScan is returned when a scan fails validation.
	ErrInvalidScan = errors.New("invalid scan")
	// ErrMissingUser is returned when no user id is supplied.
	ErrMissingUser = errors.New("user id is required")
)

// Coordinates is where the leaf was photographed.
type Coordinates struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Address is the administrative location of a scan.
type Address struct {
	Barangay         string `json:"barangay" yaml:"barangay"`
	CityMunicipality string `json:"cityMunicipality" yaml:"city_municipality"`
	Province         string `json:"province" yaml:"province"`
}

// Scan is one saved classification.
type Scan struct {
	ID          uuid.UUID    `json:"id" yaml:"id"`
	UserID      string       `json:"user" yaml:"user"`
	Disease     string       `json:"disease" yaml:"disease"`
	Confidence  float64      `json:"confidence" yaml:"confidence"`
	Severity    string       `json:"severity" yaml:"severity"`
	Stage       string       `json:"stage" yaml:"stage"`
	ImageURI    string       `json:"imageUri,omitempty" yaml:"image_uri,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty" yaml:"coordinates,omitempty"`
	Address     *Address     `json:"address,omitempty" yaml:"address,omitempty"`
	CreatedAt   time.Time    `json:"createdAt" yaml:"created_at"`
}

// Validate checks the fields a store requires.
func (s *Scan) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return ErrMissingUser
	}
	if strings.TrimSpace(s.Disease) == "" {
		return fmt.Errorf("%w: disease is required", ErrInvalidScan)
	}
	if s.Severity == "" || s.Stage == "" {
		return fmt.Errorf("%w: severity and stage are required", ErrInvalidScan)
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 100 {
		return fmt.Errorf("%w: confidence %v outside [0, 100]", ErrInvalidScan, s.Confidence)
	}
	if c := s.Coordinates; c != nil {
		if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
			return fmt.Errorf("%w: coordinates out of range", ErrInvalidScan)
		}
	}
	return nil
}

// prepare validates s and fills ID and CreatedAt when unset.
func prepare(s *Scan, now time.Time) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now.UTC()
	}
	return nil
}

// Store persists scans.
type Store interface {
	// Save validates and stores s, assigning ID and CreatedAt when unset.
	Save(ctx context.Context, s *Scan) error
	// List returns the user's scans, newest first.
	List(ctx context.Context, userID string) ([]Scan, error)
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Open returns the store for driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q (want memory or postgres)", driver)
	}
}
