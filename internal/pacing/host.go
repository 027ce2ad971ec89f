package pacing

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostSample is a point-in-time snapshot of host resource pressure,
// surfaced in presenter-side health logging alongside bandwidth and
// frame-interval figures.
type HostSample struct {
	CPUPercent float64
	RAMPercent float64
	RAMUsedMB  uint64
}

// HostSampler wraps gopsutil CPU/memory queries the way the teacher's
// MetricsCollector does, minus the disk/network/process counters this
// domain has no use for.
type HostSampler struct{}

// NewHostSampler creates a host sampler.
func NewHostSampler() *HostSampler {
	return &HostSampler{}
}

// Sample takes an instantaneous CPU/memory reading. CPU percent uses
// a zero interval, meaning it is computed against the previous call
// rather than blocking to measure a fresh window.
func (s *HostSampler) Sample() HostSample {
	var out HostSample

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		out.CPUPercent = percents[0]
	}

	if vmem, err := mem.VirtualMemory(); err == nil {
		out.RAMPercent = vmem.UsedPercent
		out.RAMUsedMB = vmem.Used / 1024 / 1024
	}

	return out
}
