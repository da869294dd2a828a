// Package treatment looks up chemical and cultural recommendations for a
// diagnosed disease stage and coffee variety.
package treatment

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed recommendations.yaml
var builtin []byte

// Variety is a coffee variety.
type Variety string

const (
	Arabica Variety = "arabica"
	Robusta Variety = "robusta"
)

// Varieties lists the supported varieties.
var Varieties = []Variety{Arabica, Robusta}

// ErrUnknownVariety is returned by ParseVariety.
var ErrUnknownVariety = errors.New("unknown coffee variety")

// ParseVariety accepts any casing of a supported variety.
func ParseVariety(s string) (Variety, error) {
	v := Variety(key(s))
	for _, known := range Varieties {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q (want arabica or robusta)", ErrUnknownVariety, s)
}

// DisplayName returns the title-cased variety name.
func (v Variety) DisplayName() string {
	return cases.Title(language.English).String(string(v))
}

// Recommendation is the advice for one disease, stage and variety.
type Recommendation struct {
	Chemical []string `yaml:"chemical" json:"chemical"`
	Cultural []string `yaml:"cultural" json:"cultural"`
	Sources  []string `yaml:"sources" json:"sources"`
}

// Table is the file format: disease -> stage -> variety -> recommendation.
type Table map[string]map[string]map[string]Recommendation

// Catalog answers lookups with case- and whitespace-insensitive keys.
// It is read-only after construction and safe for concurrent use.
type Catalog struct {
	entries  map[string]Recommendation
	diseases map[string]string // folded key -> display name
	stages   map[string][]string
}

var folder = cases.Fold()

// key normalizes a lookup key.
func key(s string) string {
	return folder.String(norm.NFKC.String(strings.TrimSpace(s)))
}

func entryKey(disease, stage string, v Variety) string {
	return key(disease) + "\x00" + key(stage) + "\x00" + string(v)
}

// NewCatalog builds a catalog from t.
func NewCatalog(t Table) (*Catalog, error) {
	c := &Catalog{
		entries:  make(map[string]Recommendation),
		diseases: make(map[string]string),
		stages:   make(map[string][]string),
	}
	if err := c.merge(t); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) merge(t Table) error {
	for disease, stages := range t {
		if key(disease) == "" {
			return errors.New("empty disease name")
		}
		dk := key(disease)
		c.diseases[dk] = disease
		for stage, varieties := range stages {
			if !containsFolded(c.stages[dk], stage) {
				c.stages[dk] = append(c.stages[dk], stage)
				sort.Strings(c.stages[dk])
			}
			for name, rec := range varieties {
				v, err := ParseVariety(name)
				if err != nil {
					return fmt.Errorf("%s/%s: %w", disease, stage, err)
				}
				c.entries[entryKey(disease, stage, v)] = rec
			}
		}
	}
	return nil
}

func containsFolded(list []string, s string) bool {
	for _, x := range list {
		if key(x) == key(s) {
			return true
		}
	}
	return false
}

// ParseTable decodes a YAML table.
func ParseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse treatment table: %w", err)
	}
	return t, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	t, err := ParseTable(builtin)
	if err != nil {
		panic(fmt.Sprintf("treatment: embedded table is invalid: %v", err))
	}
	c, err := NewCatalog(t)
	if err != nil {
		panic(fmt.Sprintf("treatment: embedded table is invalid: %v", err))
	}
	return c
}

// Load returns the built-in catalog with entries from the YAML file at path
// layered on top. An empty path returns the built-in catalog.
func Load(path string) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied override file
	if err != nil {
		return nil, fmt.Errorf("read treatment file: %w", err)
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, err
	}
	if err := c.merge(t); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup returns the recommendation for a disease, stage and variety.
func (c *Catalog) Lookup(disease, stage string, v Variety) (Recommendation, bool) {
	rec, ok := c.entries[entryKey(disease, stage, v)]
	return rec, ok
}

// ForStage returns the recommendations of every variety for a disease stage.
func (c *Catalog) ForStage(disease, stage string) map[Variety]Recommendation {
	out := make(map[Variety]Recommendation)
	for _, v := range Varieties {
		if rec, ok := c.Lookup(disease, stage, v); ok {
			out[v] = rec
		}
	}
	return out
}

// Diseases returns the display names of all diseases with recommendations.
func (c *Catalog) Diseases() []string {
	out := make([]string, 0, len(c.diseases))
	for _, d := range c.diseases {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Stages returns the stages known for disease, sorted by name.
func (c *Catalog) Stages(disease string) []string {
	return append([]string(nil), c.stages[key(disease)]...)
}
