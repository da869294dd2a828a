package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MeKo-Tech/kappi/internal/treatment"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// treatmentsCmd browses the treatment catalog.
var treatmentsCmd = &cobra.Command{
	Use:   "treatments [disease [stage]]",
	Short: "Show treatment recommendations",
	Long: `Browse the treatment catalog.

Without arguments the known diseases and their stages are listed. With a
disease and a stage the chemical and cultural recommendations are shown for
the selected variety, or for every variety when --variety is not set. Names
are matched case-insensitively.

Examples:
  kappi treatments
  kappi treatments "Coffee Leaf Rust" Early
  kappi treatments "coffee leaf rust" severe --variety robusta --format json`,
	Args:         cobra.MaximumNArgs(2),
	SilenceUsage: true,
	RunE:         runTreatmentsCommand,
}

func runTreatmentsCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	catalog, err := loadTreatments(cmd, cfg)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	format = strings.ToLower(format)
	out := cmd.OutOrStdout()

	switch len(args) {
	case 0:
		listing := make(map[string][]string)
		for _, d := range catalog.Diseases() {
			listing[d] = catalog.Stages(d)
		}
		return writeStructured(out, format, listing, func(w io.Writer) {
			for _, d := range catalog.Diseases() {
				_, _ = fmt.Fprintf(w, "%s: %s\n", d, strings.Join(listing[d], ", "))
			}
		})
	case 1:
		stages := catalog.Stages(args[0])
		if len(stages) == 0 {
			return fmt.Errorf("no treatments known for disease %q", args[0])
		}
		return writeStructured(out, format, stages, func(w io.Writer) {
			for _, s := range stages {
				_, _ = fmt.Fprintln(w, s)
			}
		})
	}

	disease, stage := args[0], args[1]
	variety, err := varietyFlag(cmd, cfg)
	if err != nil {
		return err
	}
	recs := catalog.ForStage(disease, stage)
	if variety != "" {
		rec, ok := catalog.Lookup(disease, stage, variety)
		if !ok {
			return fmt.Errorf("no %s treatment known for %s, stage %s", variety.DisplayName(), disease, stage)
		}
		recs = map[treatment.Variety]treatment.Recommendation{variety: rec}
	}
	if len(recs) == 0 {
		return fmt.Errorf("no treatment known for %s, stage %s", disease, stage)
	}
	return writeStructured(out, format, recs, func(w io.Writer) {
		for _, v := range treatment.Varieties {
			rec, ok := recs[v]
			if !ok {
				continue
			}
			_, _ = fmt.Fprintf(w, "%s\n", v.DisplayName())
			writeSection(w, "Chemical", rec.Chemical)
			writeSection(w, "Cultural", rec.Cultural)
			writeSection(w, "Sources", rec.Sources)
		}
	})
}

// writeStructured encodes v as JSON or YAML, or calls text for plain output.
func writeStructured(w io.Writer, format string, v any, text func(io.Writer)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		text(w)
		return nil
	default:
		return fmt.Errorf("unsupported format %q (want text, json or yaml)", format)
	}
}

func writeSection(w io.Writer, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "  %s:\n", title)
	for _, l := range lines {
		_, _ = fmt.Fprintf(w, "    - %s\n", l)
	}
}

func init() {
	rootCmd.AddCommand(treatmentsCmd)
	treatmentsCmd.Flags().String("variety", "", "coffee variety (arabica, robusta); empty shows all")
	treatmentsCmd.Flags().String("treatments", "", "YAML file with treatment overrides")
	treatmentsCmd.Flags().StringP("format", "f", "text", "output format (text, json, yaml)")
}
