package common

import (
	"fmt"
	"runtime"
)

// MemoryStats is the subset of runtime.MemStats reported with batch statistics.
type MemoryStats struct {
	Alloc      uint64 `json:"alloc_bytes" yaml:"alloc_bytes"`
	TotalAlloc uint64 `json:"total_alloc_bytes" yaml:"total_alloc_bytes"`
	Sys        uint64 `json:"sys_bytes" yaml:"sys_bytes"`
	NumGC      uint32 `json:"num_gc" yaml:"num_gc"`
}

// ReadMemoryStats samples the runtime.
func ReadMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// Since returns the cumulative allocation and GC cycles between before and m.
// Alloc and Sys are taken from m as they are not cumulative.
func (m MemoryStats) Since(before MemoryStats) MemoryStats {
	d := MemoryStats{Alloc: m.Alloc, Sys: m.Sys}
	if m.TotalAlloc > before.TotalAlloc {
		d.TotalAlloc = m.TotalAlloc - before.TotalAlloc
	}
	if m.NumGC > before.NumGC {
		d.NumGC = m.NumGC - before.NumGC
	}
	return d
}

func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d",
		m.Alloc/1024, m.TotalAlloc/1024, m.Sys/1024, m.NumGC)
}
