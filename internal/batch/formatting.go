package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/kappi/internal/treatment"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatYAML = "yaml"
)

// Formats lists the supported output formats.
var Formats = []string{FormatText, FormatJSON, FormatCSV, FormatYAML}

// FormatOptions controls rendering.
type FormatOptions struct {
	Format    string
	Precision int // decimals for confidence in text and csv output
}

// document is the structured form of a batch.
type document struct {
	Items   []Item  `json:"items" yaml:"items"`
	Summary Summary `json:"summary" yaml:"summary"`
}

// Format renders the batch result.
func (r *Result) Format(opts FormatOptions) (string, error) {
	if opts.Precision < 0 {
		opts.Precision = 2
	}
	switch strings.ToLower(opts.Format) {
	case FormatJSON:
		bts, err := json.MarshalIndent(document{Items: r.Items, Summary: r.Summary()}, "", "  ")
		if err != nil {
			return "", err
		}
		return string(bts) + "\n", nil
	case FormatYAML:
		bts, err := yaml.Marshal(document{Items: r.Items, Summary: r.Summary()})
		return string(bts), err
	case FormatCSV:
		return formatCSV(r.Items, opts.Precision)
	case FormatText, "":
		return formatText(r.Items, opts.Precision), nil
	default:
		return "", fmt.Errorf("unsupported format %q", opts.Format)
	}
}

// Save writes the formatted result to path, or to w when path is empty.
func (r *Result) Save(w io.Writer, path string, opts FormatOptions) error {
	out, err := r.Format(opts)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}
	if path == "" {
		_, err = io.WriteString(w, out)
		return err
	}
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func formatCSV(items []Item, precision int) (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)
	rows := [][]string{{"file", "disease", "severity", "stage", "confidence", "reason", "error", "code"}}

	for _, it := range items {
		if it.Failed() {
			rows = append(rows, []string{it.File, "", "", "", "", "", it.Error, it.Code})
			continue
		}
		r := it.Result
		rows = append(rows, []string{
			it.File, r.Disease, r.Severity, r.Stage,
			strconv.FormatFloat(r.Confidence, 'f', precision, 64),
			r.Reason, r.Error, "",
		})
	}

	if err := writer.WriteAll(rows); err != nil {
		return "", err
	}
	return output.String(), nil
}

func formatText(items []Item, precision int) string {
	var output strings.Builder
	for i, it := range items {
		if i > 0 {
			output.WriteString("\n")
		}
		fmt.Fprintf(&output, "# %s\n", it.File)
		WriteResultText(&output, it, precision)
	}
	return output.String()
}

// WriteResultText writes the human readable form of one item.
func WriteResultText(w io.Writer, it Item, precision int) {
	if it.Failed() {
		_, _ = fmt.Fprintf(w, "error: %s\n", it.Error)
		return
	}
	r := it.Result
	if r.IsUnknown() {
		_, _ = fmt.Fprintf(w, "Unknown (%s): %s\n", r.Reason, r.Error)
		return
	}
	_, _ = fmt.Fprintf(w, "%s, stage %s, severity %s, confidence %.*f%%\n",
		r.Disease, r.Stage, r.Severity, precision, r.Confidence)

	varieties := make([]treatment.Variety, 0, len(it.Treatment))
	for v := range it.Treatment {
		varieties = append(varieties, v)
	}
	sort.Slice(varieties, func(i, j int) bool { return varieties[i] < varieties[j] })
	for _, v := range varieties {
		rec := it.Treatment[v]
		_, _ = fmt.Fprintf(w, "  %s:\n", v.DisplayName())
		writeList(w, "chemical", rec.Chemical)
		writeList(w, "cultural", rec.Cultural)
		writeList(w, "sources", rec.Sources)
	}
}

func writeList(w io.Writer, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "    %s:\n", title)
	for _, l := range lines {
		_, _ = fmt.Fprintf(w, "      - %s\n", l)
	}
}
