package cmd

import (
	"bytes"
	"testing"

	"github.com/MeKo-Tech/kappi/internal/classifier"
	"github.com/MeKo-Tech/kappi/internal/classifier/mock"
	"github.com/MeKo-Tech/kappi/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags restores every flag of c and its children to its default so
// that tests sharing the global command tree do not leak flag state.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace([]string{})
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// runCLI executes the root command with args and returns stdout and stderr.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	globalConfig, configErr = nil, nil

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

// useMockModel makes every command classify with a mock returning scores.
func useMockModel(t *testing.T, scores ...float32) *mock.Model {
	t.Helper()
	m := mock.NewModel(scores...)
	prev := newClassifier
	newClassifier = func(cfg classifier.Config) *classifier.Classifier {
		return classifier.NewWithModel(m, cfg)
	}
	t.Cleanup(func() { newClassifier = prev })
	return m
}

// progressiveRust scores the third label at 80%.
var progressiveRust = []float32{0.05, 0.1, 0.8, 0.05}

func writeLeaf(t *testing.T, dir, name string) string {
	t.Helper()
	return testutil.WriteImage(t, dir, name, testutil.LeafImage(224, 224))
}
