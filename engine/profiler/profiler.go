package profiler

import (
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FrameStats is the work of one frame as reported by the engine loop.
type FrameStats struct {
	// CPU is the wall time spent building and submitting the frame.
	CPU            time.Duration
	Visible        int
	VisibleSkinned int
	// Overflow counts visible nodes dropped because a visible list was full.
	Overflow     int
	Items        int
	DroppedItems int
	Binds        int
	SkippedBinds int
	Draws        int
	Instances    int
	Animated     int
}

// Summary aggregates every frame ticked since the profiler was created or reset.
type Summary struct {
	Frames   int
	Elapsed  time.Duration
	TotalCPU time.Duration
	MaxCPU   time.Duration
	Totals   FrameStats
}

// AvgCPU returns the mean per-frame CPU time.
func (s Summary) AvgCPU() time.Duration {
	if s.Frames == 0 {
		return 0
	}
	return s.TotalCPU / time.Duration(s.Frames)
}

// PerFrame returns a counter averaged over the summarized frames.
func (s Summary) PerFrame(total int) float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(total) / float64(s.Frames)
}

// Profiler tracks frame rate, frame work and memory statistics for performance monitoring.
// Outputs stats to the logger at a configurable interval.
type Profiler struct {
	mu     *sync.Mutex
	logger *zap.Logger
	now    func() time.Time

	updateInterval time.Duration
	frameCount     int
	lastTime       time.Time
	window         Summary

	started time.Time
	total   Summary

	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
}

// NewProfiler creates a new Profiler. The update interval defaults to 1 second and the logger to a
// no-op logger.
//
// Parameters:
//   - options: functional options to configure the profiler
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		mu:             &sync.Mutex{},
		logger:         zap.NewNop(),
		now:            time.Now,
		updateInterval: time.Second,
	}
	for _, opt := range options {
		opt(p)
	}
	p.lastTime = p.now()
	p.started = p.lastTime
	return p
}

// Tick should be called once per frame with the frame's work.
// Logs performance statistics when the update interval has elapsed: FPS, frame work averages, heap
// usage, allocation rate and GC count/pause times.
//
// Parameters:
//   - stats: the frame that just completed
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick(stats FrameStats) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.frameCount++
	accumulate(&p.window, stats)
	accumulate(&p.total, stats)

	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if p.updateInterval <= 0 || elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 pauses.
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			maxPauseUs = max(maxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	w := p.window
	p.logger.Info("frame stats",
		zap.Float64("fps", fps),
		zap.Duration("cpu_avg", w.AvgCPU()),
		zap.Duration("cpu_max", w.MaxCPU),
		zap.Float64("visible", w.PerFrame(w.Totals.Visible)),
		zap.Float64("visible_skinned", w.PerFrame(w.Totals.VisibleSkinned)),
		zap.Float64("items", w.PerFrame(w.Totals.Items)),
		zap.Float64("draws", w.PerFrame(w.Totals.Draws)),
		zap.Float64("binds", w.PerFrame(w.Totals.Binds)),
		zap.Float64("skipped_binds", w.PerFrame(w.Totals.SkippedBinds)),
		zap.Float64("heap_mb", allocMB),
		zap.Float64("alloc_rate_mb_s", allocRateMB),
		zap.Uint32("gc", gcCount),
		zap.Uint64("gc_last_us", lastPauseUs),
		zap.Uint64("gc_max_us", maxPauseUs),
		zap.Float64("sys_mb", sysMB),
	)

	p.frameCount = 0
	p.window = Summary{}
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}

// Summary returns the aggregate of every frame ticked so far.
func (p *Profiler) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.total
	s.Elapsed = p.now().Sub(p.started)
	return s
}

// Reset clears the aggregate and restarts the interval.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frameCount = 0
	p.window, p.total = Summary{}, Summary{}
	p.lastTime = p.now()
	p.started = p.lastTime
}

func accumulate(s *Summary, f FrameStats) {
	s.Frames++
	s.TotalCPU += f.CPU
	s.MaxCPU = max(s.MaxCPU, f.CPU)
	t := &s.Totals
	t.CPU += f.CPU
	t.Visible += f.Visible
	t.VisibleSkinned += f.VisibleSkinned
	t.Overflow += f.Overflow
	t.Items += f.Items
	t.DroppedItems += f.DroppedItems
	t.Binds += f.Binds
	t.SkippedBinds += f.SkippedBinds
	t.Draws += f.Draws
	t.Instances += f.Instances
	t.Animated += f.Animated
}
