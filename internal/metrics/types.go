// Package metrics provides low-overhead performance sampling. A Sampler
// reads utilization and hardware counters for each resource category and
// stores the result in a fixed-capacity ring buffer. Sampling is
// cooperative: callers invoke it from frame boundaries or test steps, and
// the sample path never allocates.
package metrics

import "time"

// Category identifies the resource a sample describes.
type Category int

const (
	CategoryCPU Category = iota
	CategoryGPU
	CategoryMemory

	categoryCount
)

// Categories lists all sample categories in a stable order.
var Categories = []Category{CategoryCPU, CategoryGPU, CategoryMemory}

func (c Category) String() string {
	switch c {
	case CategoryCPU:
		return "cpu"
	case CategoryGPU:
		return "gpu"
	case CategoryMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// Ring buffer capacities per category. CPU samples arrive at frame rate
// while GPU and memory are sampled less often, so CPU gets a deeper buffer.
const (
	CapacityCPU    = 1024
	CapacityGPU    = 512
	CapacityMemory = 512
)

// Capacity returns the ring buffer capacity for a category.
func Capacity(c Category) int {
	switch c {
	case CategoryCPU:
		return CapacityCPU
	case CategoryGPU:
		return CapacityGPU
	case CategoryMemory:
		return CapacityMemory
	default:
		return 0
	}
}

// ThermalState reports how close the hardware is to thermal throttling.
type ThermalState int

const (
	ThermalNominal ThermalState = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

func (t ThermalState) String() string {
	switch t {
	case ThermalNominal:
		return "nominal"
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// HardwareCounters holds raw CPU performance counter values for one sample.
type HardwareCounters struct {
	Cycles        uint64
	Instructions  uint64
	CacheMissesL1 uint64
	CacheMissesL2 uint64
}

// Sample is a single immutable measurement of one resource category.
// It is written into a ring buffer slot as a unit before the write cursor
// advances, so concurrent readers never observe a torn sample.
type Sample struct {
	Timestamp     time.Time
	Category      Category
	Cycles        uint64
	Instructions  uint64
	CacheMissesL1 uint64
	CacheMissesL2 uint64
	Utilization   float64 // percent of the resource in use
	Thermal       ThermalState
	Estimated     bool // counters came from timing-based estimation
}

// Probe supplies raw counter values to a Sampler. Implementations read the
// published, already-synchronized counters of the subsystems under test and
// must not block.
type Probe interface {
	// Utilization returns the current utilization percent for a category.
	Utilization(c Category) float64

	// HardwareCounters returns raw counters for a category. ok is false
	// when the counters are unavailable on this platform, in which case
	// the sampler falls back to timing-based estimation.
	HardwareCounters(c Category) (hc HardwareCounters, ok bool)

	// Thermal returns the current thermal state.
	Thermal() ThermalState
}
