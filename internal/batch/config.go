package batch

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/MeKo-Tech/kappi/internal/classifier"
	"github.com/MeKo-Tech/kappi/internal/common"
	"github.com/MeKo-Tech/kappi/internal/treatment"
)

// Config holds all configuration for batch processing.
type Config struct {
	// Parallel processing settings
	Workers         int // 0 = runtime.NumCPU()
	ContinueOnError bool

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Treatment settings. A nil catalog disables recommendations; an empty
	// variety attaches advice for every variety.
	Treatments *treatment.Catalog
	Variety    treatment.Variety

	// Progress settings
	Progress ProgressCallback
	Logger   *slog.Logger
}

// DefaultConfig returns sensible defaults for batch processing.
func DefaultConfig() Config {
	return Config{
		Workers:         runtime.NumCPU(),
		ContinueOnError: true,
		Recursive:       true,
	}
}

// Item is the outcome for one file.
type Item struct {
	File      string                                         `json:"file" yaml:"file"`
	Result    *classifier.Result                             `json:"result,omitempty" yaml:"result,omitempty"`
	Treatment map[treatment.Variety]treatment.Recommendation `json:"treatment,omitempty" yaml:"treatment,omitempty"`
	Error     string                                         `json:"error,omitempty" yaml:"error,omitempty"`
	Code      string                                         `json:"code,omitempty" yaml:"code,omitempty"`
	Duration  time.Duration                                  `json:"duration_ns" yaml:"duration_ns"`
}

// Failed reports whether the file could not be classified at all.
func (it Item) Failed() bool { return it.Result == nil }

// Result holds the result of batch processing. Items are in discovery order.
type Result struct {
	Items       []Item        `json:"items" yaml:"items"`
	Duration    time.Duration `json:"duration_ns" yaml:"duration_ns"`
	WorkerCount int           `json:"workers" yaml:"workers"`
	// Memory is the allocation and GC activity while the batch ran.
	Memory common.MemoryStats `json:"memory" yaml:"memory"`
}
