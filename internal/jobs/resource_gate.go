package jobs

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// ResourceLimits bounds system load before a worker dispatches a job
type ResourceLimits struct {
	MaxCPUPercent    float64 // 0 disables the CPU check
	MaxMemoryPercent float64 // 0 disables the memory check
}

// ResourceGate delays job dispatch while the host is over its resource
// limits. Samples come straight from the OS on each check; there is no
// background collector.
type ResourceGate struct {
	logger   *zap.Logger
	limits   ResourceLimits
	interval time.Duration

	// Probes are injectable for tests.
	cpuPercent func() (float64, error)
	memPercent func() (float64, error)
}

// NewResourceGate creates a gate with the given limits. The poll
// interval defaults to five seconds.
func NewResourceGate(limits ResourceLimits, interval time.Duration, logger *zap.Logger) *ResourceGate {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ResourceGate{
		logger:   logger.Named("resource-gate"),
		limits:   limits,
		interval: interval,
		cpuPercent: func() (float64, error) {
			percents, err := cpu.Percent(time.Second, false)
			if err != nil {
				return 0, err
			}
			if len(percents) == 0 {
				return 0, nil
			}
			return percents[0], nil
		},
		memPercent: func() (float64, error) {
			info, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return info.UsedPercent, nil
		},
	}
}

// Wait blocks until the host is under the configured limits or ctx is
// cancelled. Probe errors are logged and treated as under-limit so a
// broken probe never wedges the pool.
func (g *ResourceGate) Wait(ctx context.Context) error {
	for {
		if g.underLimits() {
			return nil
		}
		g.logger.Warn("Resources over limit, delaying dispatch",
			zap.Duration("interval", g.interval))

		timer := time.NewTimer(g.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (g *ResourceGate) underLimits() bool {
	if g.limits.MaxCPUPercent > 0 {
		usage, err := g.cpuPercent()
		if err != nil {
			g.logger.Error("Failed to get CPU usage", zap.Error(err))
		} else if usage > g.limits.MaxCPUPercent {
			return false
		}
	}
	if g.limits.MaxMemoryPercent > 0 {
		usage, err := g.memPercent()
		if err != nil {
			g.logger.Error("Failed to get memory usage", zap.Error(err))
		} else if usage > g.limits.MaxMemoryPercent {
			return false
		}
	}
	return true
}
