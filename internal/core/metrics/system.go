package metrics

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// System metric names served by SystemProvider.
const (
	MetricCPUPercent    = "system.cpu_percent"
	MetricMemoryPercent = "system.memory_percent"
	MetricDiskPercent   = "system.disk_percent"
	MetricLoad1         = "system.load1"
	MetricGoroutines    = "system.goroutines"
)

// SystemProvider collects host-level metrics
type SystemProvider struct {
	diskPath string
}

// NewSystemProvider creates a new system metric provider
func NewSystemProvider() *SystemProvider {
	return &SystemProvider{diskPath: "/"}
}

// Metrics returns the metric names this provider serves
func (p *SystemProvider) Metrics() []string {
	return []string{
		MetricCPUPercent,
		MetricMemoryPercent,
		MetricDiskPercent,
		MetricLoad1,
		MetricGoroutines,
	}
}

// Collect returns the current value of a system metric
func (p *SystemProvider) Collect(ctx context.Context, metric string) (string, error) {
	switch metric {
	case MetricCPUPercent:
		percents, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return "", fmt.Errorf("failed to get CPU usage: %w", err)
		}
		if len(percents) == 0 {
			return "0", nil
		}
		return formatFloat(percents[0]), nil

	case MetricMemoryPercent:
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to get memory usage: %w", err)
		}
		return formatFloat(vm.UsedPercent), nil

	case MetricDiskPercent:
		usage, err := disk.UsageWithContext(ctx, p.diskPath)
		if err != nil {
			return "", fmt.Errorf("failed to get disk usage: %w", err)
		}
		return formatFloat(usage.UsedPercent), nil

	case MetricLoad1:
		avg, err := load.AvgWithContext(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to get load average: %w", err)
		}
		return formatFloat(avg.Load1), nil

	case MetricGoroutines:
		return strconv.Itoa(runtime.NumGoroutine()), nil

	default:
		return "", fmt.Errorf("unsupported system metric: %s", metric)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
