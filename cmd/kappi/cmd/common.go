package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/MeKo-Tech/kappi/internal/batch"
	"github.com/MeKo-Tech/kappi/internal/classifier"
	"github.com/MeKo-Tech/kappi/internal/config"
	"github.com/MeKo-Tech/kappi/internal/treatment"
	"github.com/spf13/cobra"
)

// newClassifier builds the pipeline. Tests replace it to inject a model.
var newClassifier = func(cfg classifier.Config) *classifier.Classifier {
	return classifier.New(cfg, classifier.WithLogger(slog.Default()))
}

// buildClassifier applies the --model override and loads the model.
// Commands that classify locally call requireReady afterwards.
func buildClassifier(cmd *cobra.Command, cfg *config.Config) (*classifier.Classifier, error) {
	ccfg := cfg.ToClassifierConfig()
	if f := cmd.Flags().Lookup("model"); f != nil && f.Changed {
		ccfg.ModelPath = f.Value.String()
	}
	if err := ccfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier configuration: %w", err)
	}
	return newClassifier(ccfg), nil
}

func requireReady(clf *classifier.Classifier) error {
	if clf.Ready() {
		return nil
	}
	return fmt.Errorf("model %s is unavailable: %w", clf.ModelPath(), clf.LoadError())
}

// loadTreatments returns the catalog with the configured override file applied.
func loadTreatments(cmd *cobra.Command, cfg *config.Config) (*treatment.Catalog, error) {
	file := cfg.Treatment.File
	if f := cmd.Flags().Lookup("treatments"); f != nil && f.Changed {
		file = f.Value.String()
	}
	c, err := treatment.Load(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load treatments: %w", err)
	}
	return c, nil
}

// varietyFlag resolves --variety against the configured default. An empty
// result means every variety.
func varietyFlag(cmd *cobra.Command, cfg *config.Config) (treatment.Variety, error) {
	raw := cfg.Treatment.DefaultVariety
	if f := cmd.Flags().Lookup("variety"); f != nil && f.Changed {
		raw = f.Value.String()
	}
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return treatment.ParseVariety(raw)
}

// formatOptions resolves --format and the configured precision.
func formatOptions(cmd *cobra.Command, cfg *config.Config) (batch.FormatOptions, error) {
	format := cfg.Output.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	format = strings.ToLower(format)
	if !slices.Contains(batch.Formats, format) {
		return batch.FormatOptions{}, fmt.Errorf("unsupported output format %q (want one of %s)",
			format, strings.Join(batch.Formats, ", "))
	}
	return batch.FormatOptions{Format: format, Precision: cfg.Output.ConfidencePrecision}, nil
}

func outputPath(cmd *cobra.Command, cfg *config.Config) string {
	if cmd.Flags().Changed("output") {
		p, _ := cmd.Flags().GetString("output")
		return p
	}
	return cfg.Output.File
}

// commandContext returns the command context, which is nil when RunE is
// called directly.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "text", "output format ("+strings.Join(batch.Formats, ", ")+")")
	cmd.Flags().StringP("output", "o", "", "write results to a file instead of stdout")
	cmd.Flags().String("variety", "", "coffee variety for treatment advice (arabica, robusta); empty shows all")
	cmd.Flags().String("treatments", "", "YAML file with treatment overrides")
	cmd.Flags().String("model", "", "model file (overrides the bundled model; extension selects the engine)")
}
