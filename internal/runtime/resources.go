package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const (
	sampleCPU        = "/sched/cpu:seconds"
	sampleHeap       = "/memory/classes/heap/objects:bytes"
	sampleGoroutines = "/sched/goroutines:goroutines"
)

// It reads runtime/metrics only.
// It reads runtime/metrics only, so sampling never stops the world.
type resourceTracker struct {
	mu      sync.Mutex
	samples []metrics.Sample
	lastCPU float64
	lastAt  time.Time
	numCPU  float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{{Name: sampleCPU}, {Name: sampleHeap}, {Name: sampleGoroutines}},
		numCPU:  float64(runtime.NumCPU()),
	}
}

// Snapshot reports CPU use since the previous call as a share of all cores.
// The first call reports zero CPU.
func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	now := time.Now()

	var usage ResourceUsage
	if v := r.samples[1].Value; v.Kind() == metrics.KindUint64 {
		usage.MemoryBytes = v.Uint64()
	}
	if v := r.samples[2].Value; v.Kind() == metrics.KindUint64 {
		usage.Goroutines = int(v.Uint64())
	} else {
		usage.Goroutines = runtime.NumGoroutine()
	}

	cpu := r.samples[0].Value
	if cpu.Kind() != metrics.KindFloat64 {
		return usage
	}
	seconds := cpu.Float64()
	if !r.lastAt.IsZero() {
		wall := now.Sub(r.lastAt).Seconds()
		if wall > 0 && r.numCPU > 0 {
			usage.CPUPercent = (seconds - r.lastCPU) / wall / r.numCPU * 100
		}
	}
	r.lastCPU = seconds
	r.lastAt = now
	return usage
}
