package worker

import (
	"context"
	"time"

	"github.com/docker/go-units"

	"sunny/task"
)

// CollectStats refreshes w.Stats every interval until ctx is done.
func (w *Worker) CollectStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		w.refreshStats()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) refreshStats() *Stats {
	stats := w.readStats()
	stats.TaskCount = len(w.Running())

	w.mu.Lock()
	w.Stats = stats
	w.mu.Unlock()
	return stats
}

// EnforceMemory stops the heaviest running solver whenever system memory use
// exceeds MemoryThreshold. It returns when ctx is done.
func (w *Worker) EnforceMemory(ctx context.Context, interval time.Duration) {
	if w.MemoryThreshold <= 0 || w.MemoryThreshold >= 1 || interval <= 0 {
		w.logger.Debug("Memory enforcement disabled.", "threshold", w.MemoryThreshold, "interval", interval)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.enforceOnce(ctx)
		}
	}
}

// enforceOnce reports whether a solver was stopped.
func (w *Worker) enforceOnce(ctx context.Context) bool {
	stats := w.refreshStats()
	used := stats.MemUsedFraction()
	if used <= w.MemoryThreshold {
		return false
	}

	victim, ok := w.heaviest()
	if !ok {
		return false
	}

	w.logger.Warn("Memory threshold exceeded, stopping solver.",
		"used", used, "threshold", w.MemoryThreshold, "engine", victim.Engine, "cores", victim.Cores,
		"rss", units.BytesSize(float64(w.resident(victim.PID))*1024))
	if res := w.StopTask(ctx, victim.ID); res.Error != nil {
		return false
	}
	return true
}

// heaviest picks the running task with the largest resident set. Tasks
// whose RSS is unknown are ranked by cores.
func (w *Worker) heaviest() (task.Task, bool) {
	running := w.Running()
	if len(running) == 0 {
		return task.Task{}, false
	}

	best := running[0]
	bestRss := w.resident(best.PID)
	for _, t := range running[1:] {
		rss := w.resident(t.PID)
		switch {
		case rss > bestRss:
		case rss == bestRss && t.Cores > best.Cores:
		case rss == bestRss && t.Cores == best.Cores && t.Engine < best.Engine:
		default:
			continue
		}
		best, bestRss = t, rss
	}
	return best, true
}
