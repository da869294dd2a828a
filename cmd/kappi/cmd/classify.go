package cmd

import (
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/kappi/internal/batch"
	"github.com/spf13/cobra"
)

// classifyCmd classifies one or more explicitly named images.
var classifyCmd = &cobra.Command{
	Use:   "classify <image>...",
	Short: "Classify coffee leaf images",
	Long: `Classify one or more coffee leaf photographs.

Each image is checked by the plausibility pre-filter, classified, and gated
on confidence. Accepted results carry the disease, severity, growth stage and
the treatment advice for the selected variety (or for every variety).

Supported formats: JPEG, PNG, BMP, TIFF, WebP

Examples:
  kappi classify leaf.jpg
  kappi classify leaf.jpg --variety robusta
  kappi classify a.jpg b.png --format json --output results.json`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runClassifyCommand,
}

func runClassifyCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	opts, err := formatOptions(cmd, cfg)
	if err != nil {
		return err
	}
	variety, err := varietyFlag(cmd, cfg)
	if err != nil {
		return err
	}
	catalog, err := loadTreatments(cmd, cfg)
	if err != nil {
		return err
	}

	clf, err := buildClassifier(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = clf.Close() }()
	if err := requireReady(clf); err != nil {
		return err
	}

	bcfg := batch.DefaultConfig()
	bcfg.Workers = 1
	bcfg.ContinueOnError = true
	bcfg.Treatments = catalog
	bcfg.Variety = variety
	bcfg.Logger = slog.Default()

	res, err := batch.ClassifyFiles(commandContext(cmd), clf, args, bcfg)
	if err != nil {
		return err
	}
	if err := res.Save(cmd.OutOrStdout(), outputPath(cmd, cfg), opts); err != nil {
		return err
	}

	if failed := res.Summary().Failed; failed > 0 {
		return fmt.Errorf("%d of %d images could not be classified", failed, len(res.Items))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	addOutputFlags(classifyCmd)
}
