package scheduler

import "runtime"

// Worker count limits
const (
	MinWorkers = 1
	MaxWorkers = 16
)

// Encode slot limits. Slots bound concurrent ffmpeg invocations across all
// workers, independently of worker count.
const (
	MinEncodeSlots = 1
	MaxEncodeSlots = 64
)

// ClampWorkerCount ensures the worker count is within valid bounds.
// Zero or negative means "pick for me" and resolves to the CPU count.
func ClampWorkerCount(n int) int {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n < MinWorkers {
		return MinWorkers
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}

// ClampEncodeSlots ensures the encode slot count is within valid bounds.
// Zero or negative resolves to the CPU count.
func ClampEncodeSlots(n int) int {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n < MinEncodeSlots {
		return MinEncodeSlots
	}
	if n > MaxEncodeSlots {
		return MaxEncodeSlots
	}
	return n
}
