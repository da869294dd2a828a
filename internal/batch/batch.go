// Package batch classifies many images with a bounded worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/MeKo-Tech/kappi/internal/classifier"
	"github.com/MeKo-Tech/kappi/internal/common"
	"github.com/MeKo-Tech/kappi/internal/treatment"
)

// Classifier is the part of *classifier.Classifier a batch needs.
type Classifier interface {
	Classify(path string) (classifier.Result, error)
}

// ErrNoImages is returned when discovery finds nothing to classify.
var ErrNoImages = errors.New("no image files found")

// ProcessBatch discovers images under paths and classifies them.
func ProcessBatch(ctx context.Context, clf Classifier, paths []string, cfg Config) (*Result, error) {
	files, err := DiscoverImageFiles(paths, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoImages
	}
	return ClassifyFiles(ctx, clf, files, cfg)
}

type job struct {
	index int
	path  string
}

type outcome struct {
	index int
	item  Item
	err   error
}

// ClassifyFiles classifies files in parallel. Items keep the input order.
// Cancelling ctx stops dispatching new files; files already dispatched
// finish. Unless ContinueOnError is set the first failure cancels the rest
// and is returned together with the partial result.
func ClassifyFiles(ctx context.Context, clf Classifier, files []string, cfg Config) (*Result, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(files) {
		workers = len(files)
	}
	progress := cfg.Progress
	if progress == nil {
		progress = noProgress{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	memBefore := common.ReadMemoryStats()
	progress.OnStart(len(files))

	jobs := make(chan job)
	results := make(chan outcome, workers)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- classifyOne(clf, j, cfg)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, f := range files {
			if ctx.Err() != nil {
				return
			}
			select {
			case jobs <- job{index: i, path: f}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	res := &Result{Items: make([]Item, 0, len(files)), WorkerCount: workers}
	ordered := make([]*Item, len(files))
	var firstErr error
	done := 0
	for o := range results {
		item := o.item
		ordered[o.index] = &item
		done++
		if o.err != nil {
			progress.OnError(item.File, o.err)
			logger.Warn("Classification failed", "file", item.File, "error", o.err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", item.File, o.err)
			}
			if !cfg.ContinueOnError {
				cancel()
			}
		}
		progress.OnProgress(done, len(files))
	}
	progress.OnComplete()
	res.Duration = time.Since(start)
	res.Memory = common.ReadMemoryStats().Since(memBefore)

	for _, it := range ordered {
		if it != nil {
			res.Items = append(res.Items, *it)
		}
	}

	if firstErr != nil && !cfg.ContinueOnError {
		return res, firstErr
	}
	// an external cancellation leaves files unprocessed
	if len(res.Items) < len(files) {
		if err := context.Cause(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

func classifyOne(clf Classifier, j job, cfg Config) outcome {
	start := time.Now()
	r, err := clf.Classify(j.path)
	item := Item{File: j.path, Duration: time.Since(start)}
	if err != nil {
		item.Error = err.Error()
		item.Code = string(classifier.CodeOf(err))
		return outcome{index: j.index, item: item, err: err}
	}
	item.Result = &r
	if cfg.Treatments != nil && !r.IsUnknown() {
		if cfg.Variety != "" {
			if rec, ok := cfg.Treatments.Lookup(r.Disease, r.Stage, cfg.Variety); ok {
				item.Treatment = map[treatment.Variety]treatment.Recommendation{cfg.Variety: rec}
			}
		} else if all := cfg.Treatments.ForStage(r.Disease, r.Stage); len(all) > 0 {
			item.Treatment = all
		}
	}
	return outcome{index: j.index, item: item}
}
