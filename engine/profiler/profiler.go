package profiler

import (
	"log"
	"runtime"
	"time"
)

// Profiler tracks frame rate, frame aborts, deferred-destroy backlog, and
// memory statistics for performance monitoring. Outputs stats to the log at a
// configurable interval.
type Profiler struct {
	frameCount     int
	abortCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	// pendingDestroys reports the reclaim queue depth; a steadily growing
	// value means completion tokens are not being retired.
	pendingDestroys func() int
}

// NewProfiler creates a new Profiler with default settings.
// Update interval defaults to 1 second.
//
// Parameters:
//   - pendingDestroys: probe returning the deferred-destroy backlog, nil to skip
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(pendingDestroys func() int) *Profiler {
	return &Profiler{
		lastTime:        time.Now(),
		updateInterval:  time.Second,
		pendingDestroys: pendingDestroys,
	}
}

// Tick should be called once per frame to track frame timing. aborted marks
// frames the pass sequencer gave up on; they count toward the abort rate but
// not the frame rate.
// Logs performance statistics when the update interval has elapsed.
//
// Parameters:
//   - aborted: true if the frame failed pass execution
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick(aborted bool) bool {
	if aborted {
		p.abortCount++
	} else {
		p.frameCount++
	}
	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)

	if elapsed >= p.updateInterval {
		fps := float64(p.frameCount) / elapsed.Seconds()

		runtime.ReadMemStats(&p.memStats)
		// Alloc: Bytes of allocated heap objects (live memory)
		// Sys: Total bytes of memory obtained from the OS (actual process footprint)
		allocMB := float64(p.memStats.Alloc) / 1024 / 1024
		sysMB := float64(p.memStats.Sys) / 1024 / 1024

		allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
		allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

		gcCount := p.memStats.NumGC
		var lastPauseUs uint64
		if gcCount > 0 {
			// PauseNs is a circular buffer of last 256 GC pauses
			lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		}

		pending := 0
		if p.pendingDestroys != nil {
			pending = p.pendingDestroys()
		}

		log.Printf("[Profiler] FPS: %.2f | Aborted: %d | Pending destroys: %d | Heap: %.2f MB | Alloc Rate: %.2f MB/s | GC: %d (last: %d µs) | Sys: %.2f MB",
			fps, p.abortCount, pending, allocMB, allocRateMB, gcCount, lastPauseUs, sysMB)

		p.frameCount = 0
		p.abortCount = 0
		p.lastTime = currentTime
		p.lastGCCount = gcCount
		p.lastTotalAlloc = p.memStats.TotalAlloc
		return true
	}

	return false
}
