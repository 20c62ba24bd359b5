package metrics

import "time"

// strideEstimator derives approximate counter values when hardware counters
// are unavailable. It times a controlled-stride walk over a preallocated
// buffer: sequential access stays in cache while a cache-line stride forces
// misses, and the cost difference yields an estimated per-miss penalty.
// All memory is allocated once at construction; Estimate itself does not
// allocate.
type strideEstimator struct {
	buf []byte

	// Calibrated on first use.
	calibrated   bool
	nsPerHit     float64
	nsPerMiss    float64
	nominalClock float64 // assumed cycles per nanosecond
}

const (
	estimatorBufSize = 1 << 20 // 1 MiB, larger than typical L2
	cacheLine        = 64
	estimatorPasses  = 4
)

func newStrideEstimator() *strideEstimator {
	return &strideEstimator{
		buf:          make([]byte, estimatorBufSize),
		nominalClock: 3.0, // ~3 GHz; coarse but stable across calls
	}
}

// calibrate measures access cost at stride 1 (cache hits) and at a cache
// line stride (forced misses). Runs once, lazily.
func (e *strideEstimator) calibrate() {
	hits := e.walk(1)
	misses := e.walk(cacheLine)

	accesses := float64(len(e.buf) * estimatorPasses)
	e.nsPerHit = float64(hits.Nanoseconds()) / accesses

	missAccesses := float64(len(e.buf) / cacheLine * estimatorPasses)
	e.nsPerMiss = float64(misses.Nanoseconds()) / missAccesses
	if e.nsPerMiss <= e.nsPerHit {
		// Timer resolution too coarse to separate the two; assume a
		// conventional ~50x miss penalty.
		e.nsPerMiss = e.nsPerHit * 50
	}
	e.calibrated = true
}

func (e *strideEstimator) walk(stride int) time.Duration {
	var sink byte
	start := time.Now()
	for pass := 0; pass < estimatorPasses; pass++ {
		for i := 0; i < len(e.buf); i += stride {
			sink += e.buf[i]
		}
	}
	elapsed := time.Since(start)
	e.buf[0] = sink // keep the loop from being optimized away
	return elapsed
}

// Estimate converts an observed busy duration into approximate hardware
// counter values using the calibrated access costs.
func (e *strideEstimator) Estimate(busy time.Duration) HardwareCounters {
	if !e.calibrated {
		e.calibrate()
	}

	ns := float64(busy.Nanoseconds())
	if ns < 0 {
		ns = 0
	}

	cycles := uint64(ns * e.nominalClock)

	// Rough split: assume miss stalls account for a third of busy time and
	// one instruction retires per cycle otherwise.
	missNs := ns / 3
	var l2 uint64
	if e.nsPerMiss > 0 {
		l2 = uint64(missNs / e.nsPerMiss)
	}
	return HardwareCounters{
		Cycles:        cycles,
		Instructions:  cycles - uint64(missNs*e.nominalClock),
		CacheMissesL1: l2 * 8, // L1 misses dominate L2 roughly 8:1
		CacheMissesL2: l2,
	}
}
