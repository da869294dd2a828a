// Command generate-test-data writes synthetic field photos for manual runs
// of kappi classify and batch.
package main

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/kappi/internal/testutil"
	"github.com/disintegration/imaging"
	flag "github.com/spf13/pflag"
)

// Scene is one generated photo and the pre-filter outcome it is built for.
type Scene struct {
	File           string `json:"file"`
	Description    string `json:"description"`
	ExpectedReason string `json:"expected_reason,omitempty"`
}

type sceneSpec struct {
	Scene
	render func(size int) image.Image
}

var scenes = []sceneSpec{
	{
		Scene:  Scene{File: "leaf.png", Description: "Green leaf with rust spots on soil"},
		render: func(n int) image.Image { return testutil.LeafImage(n, n) },
	},
	{
		Scene:  Scene{File: "leaf_large.jpg", Description: "Same leaf at camera resolution, JPEG encoded"},
		render: func(n int) image.Image { return testutil.LeafImage(4*n, 3*n) },
	},
	{
		Scene:  Scene{File: "night.png", Description: "Lens cap on", ExpectedReason: "too_dark"},
		render: func(n int) image.Image { return testutil.SolidImage(n, n, testutil.Black) },
	},
	{
		Scene:  Scene{File: "wall.png", Description: "Uniform gray surface", ExpectedReason: "no_leaf"},
		render: func(n int) image.Image { return testutil.SolidImage(n, n, testutil.MidGray) },
	},
	{
		Scene:  Scene{File: "soil.png", Description: "Bare soil without foliage", ExpectedReason: "no_leaf"},
		render: func(n int) image.Image { return testutil.SolidImage(n, n, testutil.SoilBrwn) },
	},
	{
		Scene: Scene{File: "half_shadow.png", Description: "Leaf half covered by shadow"},
		render: func(n int) image.Image {
			return testutil.SplitImage(n, n, n/4, testutil.Black, testutil.LeafGrn)
		},
	},
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var (
		outDir  = flag.StringP("output", "o", "", "Output directory (default: <project>/testdata/images)")
		size    = flag.IntP("size", "s", 224, "Edge length of the generated photos")
		verbose = flag.BoolP("verbose", "v", false, "Verbose output")
		help    = flag.BoolP("help", "h", false, "Show help")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate synthetic leaf photos and a scenes.json manifest.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	dir := *outDir
	if dir == "" {
		root, err := testutil.GetProjectRoot()
		if err != nil {
			slog.Error("Failed to find project root", "error", err)
			os.Exit(1)
		}
		dir = filepath.Join(root, "testdata", "images")
	}

	written, err := generateScenes(dir, *size)
	if err != nil {
		slog.Error("Failed to generate test data", "error", err)
		os.Exit(1)
	}
	if *verbose {
		for _, s := range written {
			slog.Info("Scene written", "file", s.File, "expected_reason", s.ExpectedReason)
		}
	}
	slog.Info("Test data generation completed", "dir", dir, "scenes", len(written))
}

// generateScenes renders every scene into dir and writes the manifest.
func generateScenes(dir string, size int) ([]Scene, error) {
	if size < 8 {
		return nil, fmt.Errorf("size must be at least 8, got %d", size)
	}
	if err := testutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	out := make([]Scene, 0, len(scenes))
	for _, s := range scenes {
		path := filepath.Join(dir, s.File)
		if err := imaging.Save(s.render(size), path, imaging.JPEGQuality(95)); err != nil {
			return nil, fmt.Errorf("failed to save %s: %w", s.File, err)
		}
		out = append(out, s.Scene)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "scenes.json"), data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	return out, nil
}
