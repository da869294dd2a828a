package batch

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// Summary aggregates a batch.
type Summary struct {
	Total            int            `json:"total" yaml:"total"`
	Classified       int            `json:"classified" yaml:"classified"`
	Unknown          int            `json:"unknown" yaml:"unknown"`
	Failed           int            `json:"failed" yaml:"failed"`
	ByStage          map[string]int `json:"by_stage,omitempty" yaml:"by_stage,omitempty"`
	ByReason         map[string]int `json:"by_reason,omitempty" yaml:"by_reason,omitempty"`
	Workers          int            `json:"workers" yaml:"workers"`
	Duration         time.Duration  `json:"duration_ns" yaml:"duration_ns"`
	AveragePerImage  time.Duration  `json:"average_per_image_ns" yaml:"average_per_image_ns"`
	ThroughputPerSec float64        `json:"throughput_per_sec" yaml:"throughput_per_sec"`
	AllocatedBytes   uint64         `json:"allocated_bytes" yaml:"allocated_bytes"`
	GCCycles         uint32         `json:"gc_cycles" yaml:"gc_cycles"`
}

// Summary computes the statistics of the batch.
func (r *Result) Summary() Summary {
	s := Summary{
		Total:          len(r.Items),
		ByStage:        map[string]int{},
		ByReason:       map[string]int{},
		Workers:        r.WorkerCount,
		Duration:       r.Duration,
		AllocatedBytes: r.Memory.TotalAlloc,
		GCCycles:       r.Memory.NumGC,
	}
	for _, it := range r.Items {
		switch {
		case it.Failed():
			s.Failed++
			if it.Code != "" {
				s.ByReason[it.Code]++
			}
		case it.Result.IsUnknown():
			s.Unknown++
			s.ByReason[it.Result.Reason]++
		default:
			s.Classified++
			s.ByStage[it.Result.Stage]++
		}
	}
	if processed := s.Total - s.Failed; processed > 0 && r.Duration > 0 {
		s.AveragePerImage = r.Duration / time.Duration(processed)
		s.ThroughputPerSec = float64(processed) / r.Duration.Seconds()
	}
	return s
}

// PrintStats writes a human readable summary.
func (s Summary) PrintStats(w io.Writer) {
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total images: %d\n", s.Total)
	_, _ = fmt.Fprintf(w, "  Classified: %d\n", s.Classified)
	for _, k := range sortedKeys(s.ByStage) {
		_, _ = fmt.Fprintf(w, "    %s: %d\n", k, s.ByStage[k])
	}
	_, _ = fmt.Fprintf(w, "  Unknown: %d\n", s.Unknown)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", s.Failed)
	for _, k := range sortedKeys(s.ByReason) {
		_, _ = fmt.Fprintf(w, "    %s: %d\n", k, s.ByReason[k])
	}
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", s.Workers)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", s.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Avg per image: %v\n", s.AveragePerImage.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Throughput: %.1f images/sec\n", s.ThroughputPerSec)
	_, _ = fmt.Fprintf(w, "  Memory: +%d KB allocated, %d GC cycles\n", s.AllocatedBytes/1024, s.GCCycles)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
