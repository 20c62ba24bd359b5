package metrics

import "time"

// Sampler reads counters through a Probe and records samples into
// per-category ring buffers. It is the sole writer of its rings; readers
// access them through Latest, Ring, or Snapshot.
//
// Sample completes in a bounded number of operations and does not allocate:
// rings and the estimation buffer are allocated once in NewSampler.
type Sampler struct {
	probe Probe
	now   func() time.Time
	rings [categoryCount]*Ring
	est   *strideEstimator

	lastSampleAt [categoryCount]time.Time
}

// NewSampler creates a sampler for the given probe. The clock defaults to
// time.Now, which carries a monotonic reading on all supported platforms.
func NewSampler(probe Probe) *Sampler {
	s := &Sampler{
		probe: probe,
		now:   time.Now,
		est:   newStrideEstimator(),
	}
	for _, c := range Categories {
		s.rings[c] = NewRing(Capacity(c))
	}
	return s
}

// SetClock overrides the sampler's clock. Intended for tests.
func (s *Sampler) SetClock(now func() time.Time) {
	s.now = now
}

// Sample takes one measurement for the category, stores it in the
// category's ring buffer, and returns it. When hardware counters are
// unavailable the sample is filled from timing-based estimation instead of
// failing; the Estimated flag marks such samples.
func (s *Sampler) Sample(c Category) Sample {
	now := s.now()

	smp := Sample{
		Timestamp:   now,
		Category:    c,
		Utilization: s.probe.Utilization(c),
		Thermal:     s.probe.Thermal(),
	}

	if hc, ok := s.probe.HardwareCounters(c); ok {
		smp.Cycles = hc.Cycles
		smp.Instructions = hc.Instructions
		smp.CacheMissesL1 = hc.CacheMissesL1
		smp.CacheMissesL2 = hc.CacheMissesL2
	} else {
		// Approximate the busy interval as utilization-weighted time since
		// the previous sample of this category.
		busy := time.Duration(0)
		if last := s.lastSampleAt[c]; !last.IsZero() {
			busy = time.Duration(float64(now.Sub(last)) * smp.Utilization / 100)
		}
		hc := s.est.Estimate(busy)
		smp.Cycles = hc.Cycles
		smp.Instructions = hc.Instructions
		smp.CacheMissesL1 = hc.CacheMissesL1
		smp.CacheMissesL2 = hc.CacheMissesL2
		smp.Estimated = true
	}

	s.lastSampleAt[c] = now
	s.rings[c].Put(smp)
	return smp
}

// SampleAll samples every category once, in Categories order.
func (s *Sampler) SampleAll() {
	for _, c := range Categories {
		s.Sample(c)
	}
}

// Latest returns the most recent sample for a category.
func (s *Sampler) Latest(c Category) (Sample, bool) {
	return s.rings[c].Latest()
}

// Ring exposes a category's ring buffer for readers.
func (s *Sampler) Ring(c Category) *Ring {
	return s.rings[c]
}
