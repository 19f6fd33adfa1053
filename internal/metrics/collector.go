// Package metrics samples process and system load while a scene builds.
package metrics

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Sample holds one metrics snapshot
type Sample struct {
	CPUPercent        float64 // System-wide CPU usage (0-100%)
	ProcessCPUPercent float64 // This process, per core (can exceed 100%)
	ProcessRSSMB      float64
	Threads           int32
	MemoryUsedGB      float64
	MemoryPercent     float64
	Timestamp         time.Time
}

// Probe adds caller-specific fields to each logged sample, such as the
// scheduler's pending tasks
type Probe func() []zap.Field

// Collector periodically samples and logs metrics
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process
	probe    Probe

	mu   sync.RWMutex
	last *Sample
}

// NewCollector creates a metrics collector. Intervals under a second fall
// back to 30 seconds.
func NewCollector(interval time.Duration, logger *zap.Logger, probe Probe) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}

	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
		probe:    probe,
	}
}

// Start samples immediately and then on every interval until ctx is done.
// It always returns nil so it can run in an errgroup next to the load.
func (c *Collector) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return nil
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Last returns the most recent sample, or nil
func (c *Collector) Last() *Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Collect takes and logs one sample
func (c *Collector) Collect() *Sample {
	s := &Sample{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}

	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil {
			s.ProcessRSSMB = float64(info.RSS) / (1024 * 1024)
		}
		if n, err := c.proc.NumThreads(); err == nil {
			s.Threads = n
		}
	}

	if vmem, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vmem.UsedPercent
		s.MemoryUsedGB = float64(vmem.Used) / (1024 * 1024 * 1024)
	}

	c.mu.Lock()
	c.last = s
	c.mu.Unlock()

	fields := []zap.Field{
		zap.Float64("sys_cpu", s.CPUPercent),
		zap.Float64("proc_cpu", s.ProcessCPUPercent),
		zap.String("proc_rss", formatFloat(s.ProcessRSSMB)+" MB"),
		zap.Int32("threads", s.Threads),
		zap.Float64("mem_pct", s.MemoryPercent),
		zap.String("mem_used", formatFloat(s.MemoryUsedGB)+" GB"),
	}
	if c.probe != nil {
		fields = append(fields, c.probe()...)
	}
	c.logger.Info("System metrics", fields...)
	return s
}

// formatFloat formats a float with one decimal place
func formatFloat(f float64) string {
	if f < 0.05 {
		return "0.0"
	}
	return strconv.FormatFloat(f, 'f', 1, 64)
}
