package instrument

import (
	"runtime"
	"sync/atomic"
)

// HeapTracker reports bytes allocated by the Go heap during a window. It
// reads MemStats.TotalAlloc, which flushes the per-thread small-object
// counts, so allocations below the span size are not lost. The counter is
// process wide, so only one HeapTracker hook may be installed at a time.
type HeapTracker struct{}

//nolint:gochecknoglobals // Mirrors the process-wide runtime counter
var heapHookInstalled atomic.Bool

// NewHeapTracker returns the runtime-backed allocation tracker.
func NewHeapTracker() HeapTracker {
	return HeapTracker{}
}

func totalAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.TotalAlloc
}

// Install starts a window over the runtime allocation counter. ReadMemStats
// stops the world, so both reads stay outside the instruction count.
func (HeapTracker) Install(sink func(bytes uint64)) *Guard {
	if !heapHookInstalled.CompareAndSwap(false, true) {
		panic("instrument: allocation tracker already installed")
	}

	start := totalAlloc()

	return NewGuard(func() {
		defer heapHookInstalled.Store(false)

		end := totalAlloc()
		if end < start {
			sink(0)
			return
		}
		sink(end - start)
	})
}
