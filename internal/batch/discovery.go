package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MeKo-Tech/kappi/internal/utils"
)

// Discovery expands command line arguments into the photos of a batch.
// Patterns match either the base name ("*.jpg") or the slash separated
// path below the scanned directory ("plot-3/*.jpg"). Exclusion wins.
type Discovery struct {
	Recursive bool
	Include   []string
	Exclude   []string
}

// DiscoverImageFiles is Discovery{...}.Files(args).
func DiscoverImageFiles(args []string, recursive bool, include, exclude []string) ([]string, error) {
	return Discovery{Recursive: recursive, Include: include, Exclude: exclude}.Files(args)
}

// Files returns the photos named by args without duplicates. Directory
// contents are sorted by path and hidden directories are skipped. An
// explicit file argument is kept whatever its extension, so that a decode
// error is reported for it instead of silently dropping it.
func (d Discovery) Files(args []string) ([]string, error) {
	var out []string
	seen := map[string]struct{}{}
	add := func(p string) {
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			if d.accepts(filepath.Base(arg)) {
				add(arg)
			}
			continue
		}
		found, err := d.walk(arg)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			add(f)
		}
	}
	return out, nil
}

func (d Discovery) walk(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			if p == root {
				return nil
			}
			if !d.Recursive || strings.HasPrefix(e.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !utils.IsSupportedImage(p) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if d.accepts(filepath.ToSlash(rel)) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	slices.Sort(files)
	return files, nil
}

// accepts applies the exclude patterns and then the include patterns to rel.
func (d Discovery) accepts(rel string) bool {
	if matchesAnyPattern(rel, d.Exclude) {
		return false
	}
	return len(d.Include) == 0 || matchesAnyPattern(rel, d.Include)
}

// matchesAnyPattern matches rel, or its base name, against shell patterns.
func matchesAnyPattern(rel string, patterns []string) bool {
	base := path.Base(rel)
	for _, p := range patterns {
		if ok, _ := path.Match(p, base); ok {
			return true
		}
		if strings.Contains(p, "/") {
			if ok, _ := path.Match(p, rel); ok {
				return true
			}
		}
	}
	return false
}
