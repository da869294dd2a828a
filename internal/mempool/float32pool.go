// Package mempool recycles the float32 input tensors built for every
// classification, bucketed by size class.
package mempool

import (
	"sync"
	"sync/atomic"
)

const classStep = 1024

var (
	pools sync.Map // size class -> *sync.Pool of *[]float32

	gets   atomic.Int64
	misses atomic.Int64
)

// sizeClass rounds n up to the next multiple of classStep.
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return (n + classStep - 1) / classStep * classStep
}

func poolFor(cls int) *sync.Pool {
	if p, ok := pools.Load(cls); ok {
		return p.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool is stored
	}
	p, _ := pools.LoadOrStore(cls, &sync.Pool{})
	return p.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool is stored
}

// GetFloat32 returns a buffer of length n. Contents are not zeroed.
// Return it with PutFloat32 once nothing references it any more.
func GetFloat32(n int) []float32 {
	if n < 0 {
		n = 0
	}
	gets.Add(1)
	cls := sizeClass(n)
	if bp, ok := poolFor(cls).Get().(*[]float32); ok && cap(*bp) >= cls {
		return (*bp)[:n]
	}
	misses.Add(1)
	return make([]float32, n, cls)
}

// PutFloat32 hands buf back to the pool. Nil and foreign-sized slices are
// accepted; the latter are filed under the class their capacity fits.
func PutFloat32(buf []float32) {
	if cap(buf) < classStep {
		return
	}
	cls := cap(buf) / classStep * classStep
	buf = buf[:cap(buf)]
	poolFor(cls).Put(&buf)
}

// Stats reports how many buffers were requested and how many had to be allocated.
type Stats struct {
	Gets   int64
	Misses int64
}

// Snapshot returns the current counters.
func Snapshot() Stats {
	return Stats{Gets: gets.Load(), Misses: misses.Load()}
}
