package engine

import (
	"github.com/voxelforge/perfharness/internal/metrics"
	"github.com/voxelforge/perfharness/internal/subsystem"
)

// defaultMemoryBudget is the assumed total memory available to the
// collaborators when computing a utilization percent from absolute heap
// counters.
const defaultMemoryBudget = 8 << 30

// registryProbe derives sampler readings from the published counters of
// every registered collaborator. It never locks a collaborator and never
// blocks. The collaborator set is resolved once at construction so the
// sample path does not allocate.
type registryProbe struct {
	subs      []subsystem.Subsystem
	memBudget uint64
}

func newRegistryProbe(reg *subsystem.Registry, memBudget uint64) *registryProbe {
	if memBudget == 0 {
		memBudget = defaultMemoryBudget
	}
	ids := reg.IDs()
	subs := make([]subsystem.Subsystem, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, reg.Get(id))
	}
	return &registryProbe{subs: subs, memBudget: memBudget}
}

// Utilization aggregates across collaborators: CPU and GPU report the
// busiest collaborator (the binding constraint), memory reports total heap
// against the budget.
func (p *registryProbe) Utilization(c metrics.Category) float64 {
	var maxCPU, maxGPU float64
	var totalHeap uint64
	for _, s := range p.subs {
		cnt := s.Counters()
		if cnt.CPUUtilization > maxCPU {
			maxCPU = cnt.CPUUtilization
		}
		if cnt.GPUUtilization > maxGPU {
			maxGPU = cnt.GPUUtilization
		}
		totalHeap += cnt.HeapUsed
	}

	switch c {
	case metrics.CategoryCPU:
		return maxCPU
	case metrics.CategoryGPU:
		return maxGPU
	default:
		pct := float64(totalHeap) / float64(p.memBudget) * 100
		if pct > 100 {
			pct = 100
		}
		return pct
	}
}

// HardwareCounters reports unavailable: simulated collaborators publish no
// PMU counters, so the sampler uses its timing-based estimation path.
func (p *registryProbe) HardwareCounters(metrics.Category) (metrics.HardwareCounters, bool) {
	return metrics.HardwareCounters{}, false
}

// Thermal derives a state from peak CPU utilization, mirroring how the
// platform throttles under sustained load.
func (p *registryProbe) Thermal() metrics.ThermalState {
	cpu := p.Utilization(metrics.CategoryCPU)
	switch {
	case cpu < 70:
		return metrics.ThermalNominal
	case cpu < 85:
		return metrics.ThermalFair
	case cpu < 95:
		return metrics.ThermalSerious
	default:
		return metrics.ThermalCritical
	}
}

// allocatorMemProbe exposes the allocator collaborator's counters to the
// test runner's whole-run leak report.
type allocatorMemProbe struct {
	reg *subsystem.Registry
}

func (p allocatorMemProbe) HeapUsed() uint64 {
	if s := p.reg.Get(subsystem.Allocator); s != nil {
		return s.Counters().HeapUsed
	}
	return 0
}

func (p allocatorMemProbe) OutstandingAllocs() uint64 {
	if s := p.reg.Get(subsystem.Allocator); s != nil {
		return s.Counters().OutstandingAllocs
	}
	return 0
}
