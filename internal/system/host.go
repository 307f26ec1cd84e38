package system

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// HostStats is a snapshot of the machine the assembly runs on.
type HostStats struct {
	LogicalCPUs     int
	CPUPercent      float64
	TotalMemory     uint64
	AvailableMemory uint64
}

// MarshalLogObject lets HostStats be logged with zap.Object.
func (h HostStats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("logical_cpus", h.LogicalCPUs)
	enc.AddFloat64("cpu_percent", h.CPUPercent)
	enc.AddUint64("total_memory", h.TotalMemory)
	enc.AddUint64("available_memory", h.AvailableMemory)
	return nil
}

// Host reads CPU and memory figures. Fields it cannot read stay zero.
func Host(ctx context.Context) HostStats {
	stats := HostStats{LogicalCPUs: runtime.NumCPU()}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		stats.LogicalCPUs = n
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.TotalMemory = vm.Total
		stats.AvailableMemory = vm.Available
	}
	return stats
}

// DecodeWorkers sizes the image decode pool: one worker per CPU, reduced so
// that decoded frames of frameBytes each fit in a quarter of free memory.
func (h HostStats) DecodeWorkers(frameBytes uint64) int {
	workers := h.LogicalCPUs
	if workers < 1 {
		workers = 1
	}
	if frameBytes == 0 || h.AvailableMemory == 0 {
		return workers
	}
	byMemory := int(h.AvailableMemory / 4 / frameBytes)
	if byMemory < workers {
		workers = byMemory
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// LogReport logs the host snapshot at debug level.
func LogReport(ctx context.Context, logger *zap.Logger, msg string) {
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	logger.Debug(msg, zap.Object("host", Host(ctx)))
}
