package pipeline

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Progress milestones of a load, in percent
const (
	ProgressStarted        = 5
	ProgressGeometryLoaded = 10
	ProgressBuildingsStart = 15
	ProgressFloor          = 90
	ProgressDone           = 100
)

// Reporter receives progress of a load. Calls come from the tick goroutine.
type Reporter interface {
	Report(percent int, stage string)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(percent int, stage string)

func (f ReporterFunc) Report(percent int, stage string) { f(percent, stage) }

// LogReporter logs each change of percentage with zap
type LogReporter struct {
	log     *zap.Logger
	start   time.Time
	percent atomic.Int32
}

// NewLogReporter creates a reporter that logs to log
func NewLogReporter(log *zap.Logger) *LogReporter {
	r := &LogReporter{log: log, start: time.Now()}
	r.percent.Store(-1)
	return r
}

// Report logs percent unless it equals the last value reported
func (r *LogReporter) Report(percent int, stage string) {
	if int(r.percent.Swap(int32(percent))) == percent {
		return
	}
	r.log.Info("Loading progress",
		zap.Int("percent", percent),
		zap.String("stage", stage),
		zap.Duration("elapsed", time.Since(r.start).Round(time.Millisecond)))
}

// Percent returns the last reported percentage, or -1 before any report.
// Safe to call from other goroutines.
func (r *LogReporter) Percent() int {
	return int(r.percent.Load())
}

// BuildingPercent maps building progress onto the 15% to 90% band
func BuildingPercent(done, total int) int {
	if total <= 0 {
		return ProgressFloor
	}
	return ProgressBuildingsStart + (ProgressFloor-ProgressBuildingsStart)*done/total
}

// FormatThroughput formats throughput as human-readable items per second
func FormatThroughput(items int, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "n/a"
	}
	itemsPerSec := float64(items) / elapsed.Seconds()
	if itemsPerSec >= 1_000_000 {
		return fmt.Sprintf("%.1fM/s", itemsPerSec/1_000_000)
	}
	if itemsPerSec >= 1_000 {
		return fmt.Sprintf("%.1fK/s", itemsPerSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", itemsPerSec)
}

// FormatBytes formats bytes in a human-readable format
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
