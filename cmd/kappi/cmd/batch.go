package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/MeKo-Tech/kappi/internal/batch"
	"github.com/MeKo-Tech/kappi/internal/config"
	"github.com/spf13/cobra"
)

// batchCmd represents the batch command for parallel image classification.
var batchCmd = &cobra.Command{
	Use:   "batch <path>...",
	Short: "Classify many images in parallel",
	Long: `Classify image files and directories in parallel using a pool of workers.
Directories are searched for supported images (recursively by default); the
results keep the order in which files were discovered.

Supported formats: JPEG, PNG, BMP, TIFF, WebP

Examples:
  kappi batch photos/
  kappi batch photos/ --workers 8 --progress
  kappi batch a.jpg b.png --format json --output results.json
  kappi batch photos/ --include "*.jpg" --exclude "*_thumb*" --format csv`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runBatchCommand,
}

// configToBatchConfig maps the centralized configuration to batch.Config
// with CLI flag overrides.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) batch.Config {
	bc := batch.DefaultConfig()
	bc.Logger = slog.Default()

	bc.Workers = cfg.Batch.Workers
	if cmd.Flags().Changed("workers") {
		bc.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if bc.Workers <= 0 {
		bc.Workers = runtime.NumCPU()
	}

	bc.Recursive = cfg.Batch.Recursive
	if cmd.Flags().Changed("recursive") {
		bc.Recursive, _ = cmd.Flags().GetBool("recursive")
	}

	bc.ContinueOnError = cfg.Batch.ContinueOnError
	if cmd.Flags().Changed("continue-on-error") {
		bc.ContinueOnError, _ = cmd.Flags().GetBool("continue-on-error")
	}

	bc.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	bc.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")

	showProgress := cfg.Batch.ShowProgress
	if cmd.Flags().Changed("progress") {
		showProgress, _ = cmd.Flags().GetBool("progress")
	}
	if showProgress {
		bc.Progress = batch.NewConsoleProgress(cmd.ErrOrStderr(), "Classifying")
	}
	return bc
}

// batchOutputPath returns --output, else results.<ext> inside the
// configured output directory, else empty for stdout.
func batchOutputPath(cmd *cobra.Command, cfg *config.Config, format string) (string, error) {
	if p := outputPath(cmd, cfg); p != "" {
		return p, nil
	}
	dir := cfg.Batch.OutputDir
	if cmd.Flags().Changed("output-dir") {
		dir, _ = cmd.Flags().GetString("output-dir")
	}
	if dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	ext := format
	if ext == batch.FormatText {
		ext = "txt"
	}
	return filepath.Join(dir, "results."+ext), nil
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	opts, err := formatOptions(cmd, cfg)
	if err != nil {
		return err
	}
	out, err := batchOutputPath(cmd, cfg, opts.Format)
	if err != nil {
		return err
	}

	bc := configToBatchConfig(cfg, cmd)
	if bc.Variety, err = varietyFlag(cmd, cfg); err != nil {
		return err
	}
	if bc.Treatments, err = loadTreatments(cmd, cfg); err != nil {
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

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := batch.ProcessBatch(ctx, clf, args, bc)
	if res == nil {
		if errors.Is(runErr, batch.ErrNoImages) {
			return fmt.Errorf("%w in %v", runErr, args)
		}
		return runErr
	}

	if err := res.Save(cmd.OutOrStdout(), out, opts); err != nil {
		return err
	}
	if out != "" {
		slog.Info("results written", "path", out, "items", len(res.Items))
	}

	if showStats, _ := cmd.Flags().GetBool("stats"); showStats {
		res.Summary().PrintStats(cmd.ErrOrStderr())
	}
	return runErr
}

func init() {
	rootCmd.AddCommand(batchCmd)
	addOutputFlags(batchCmd)

	batchCmd.Flags().IntP("workers", "w", runtime.NumCPU(), "number of parallel workers")
	batchCmd.Flags().BoolP("recursive", "r", true, "search directories recursively")
	batchCmd.Flags().StringSlice("include", nil, "glob patterns of file names to include")
	batchCmd.Flags().StringSlice("exclude", nil, "glob patterns of file names to exclude")
	batchCmd.Flags().Bool("continue-on-error", true, "keep going when an image fails")
	batchCmd.Flags().Bool("progress", false, "show a progress bar on stderr")
	batchCmd.Flags().Bool("stats", false, "print processing statistics on stderr")
	batchCmd.Flags().String("output-dir", "", "directory for results.<format> when --output is not set")
}
