package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/MeKo-Tech/kappi/internal/models"
	"github.com/MeKo-Tech/kappi/internal/onnx"
	"github.com/spf13/cobra"
)

// modelsReport is the --json form of the models command.
type modelsReport struct {
	ModelsDir string             `json:"models_dir"`
	Models    []models.ModelInfo `json:"models"`
	Runtime   *onnx.RuntimeInfo  `json:"onnx_runtime,omitempty"`
	// Signatures holds the inspected ONNX models by name.
	Signatures map[string]onnx.ModelIO `json:"signatures,omitempty"`
}

// inspectModels reads the signature of every present ONNX model.
func inspectModels(list []models.ModelInfo, useGPU bool) map[string]onnx.ModelIO {
	sigs := map[string]onnx.ModelIO{}
	for _, m := range list {
		if !m.Exists || m.Engine != models.EngineONNX {
			continue
		}
		io, err := onnx.Inspect(m.Path, useGPU)
		if err != nil {
			slog.Warn("failed to inspect model", "model", m.Name, "error", err)
			continue
		}
		sigs[m.Name] = io
	}
	return sigs
}

// modelsCmd lists the classifier models and checks the ONNX Runtime setup.
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List classifier models and check the runtime setup",
	Long: `List the classifier models kappi knows about, where they are expected on
disk and whether they are present.

With --check the ONNX Runtime shared library is located and loaded, which
verifies that CGO and the library paths are set up correctly. Present ONNX
models are then opened and their input and output signatures printed.

Examples:
  kappi models
  kappi models --check
  kappi models --models-dir /opt/kappi/models --json`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		report := modelsReport{
			ModelsDir: models.GetModelsDir(cfg.ModelsDir),
			Models:    models.ListAvailableModels(cfg.ModelsDir),
		}
		if check, _ := cmd.Flags().GetBool("check"); check {
			info := onnx.Probe(cfg.Model.GPU.Enabled)
			report.Runtime = &info
			if info.Error == "" {
				report.Signatures = inspectModels(report.Models, cfg.Model.GPU.Enabled)
			}
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		_, _ = fmt.Fprintf(out, "Models directory: %s\n\n", report.ModelsDir)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "NAME\tENGINE\tSTATUS\tSIZE\tPATH")
		for _, m := range report.Models {
			status, size := "missing", "-"
			if m.Exists {
				status, size = "ok", fmt.Sprintf("%.1f MB", float64(m.SizeBytes)/(1024*1024))
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.Name, m.Engine, status, size, m.Path)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if report.Runtime != nil {
			_, _ = fmt.Fprintln(out)
			if report.Runtime.Error != "" {
				_, _ = fmt.Fprintf(out, "ONNX Runtime: not usable: %s\n", report.Runtime.Error)
				return fmt.Errorf("onnx runtime check failed: %s", report.Runtime.Error)
			}
			_, _ = fmt.Fprintf(out, "ONNX Runtime: %s (%s)\n", report.Runtime.Version, report.Runtime.Library)
			for _, m := range report.Models {
				sig, ok := report.Signatures[m.Name]
				if !ok {
					continue
				}
				_, _ = fmt.Fprintf(out, "\n%s\n", m.Name)
				for _, t := range sig.Inputs {
					_, _ = fmt.Fprintf(out, "  input  %s %v (%s)\n", t.Name, t.Dimensions, t.DataType)
				}
				for _, t := range sig.Outputs {
					_, _ = fmt.Fprintf(out, "  output %s %v (%s)\n", t.Name, t.Dimensions, t.DataType)
				}
				if sig.Producer != "" {
					_, _ = fmt.Fprintf(out, "  producer %s, version %d\n", sig.Producer, sig.Version)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().Bool("check", false, "load the ONNX Runtime library and report its version")
	modelsCmd.Flags().Bool("json", false, "print the report as JSON")
}
