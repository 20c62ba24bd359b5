package subsystem

import (
	"fmt"
	"sync"
	"time"
)

// Profile shapes how a Simulated subsystem responds to load. The response
// curves are linear and deterministic so tests and demo runs behave the
// same on every machine.
type Profile struct {
	BaseFPS          float64 // frame rate at zero load
	FPSDropPerKilo   float64 // FPS lost per 1000 load units
	BaseHeap         uint64  // bytes held after Init
	BytesPerUnit     uint64  // heap growth per load unit
	BaseCPU          float64 // CPU percent at zero load
	CPUPerKilo       float64 // CPU percent added per 1000 load units
	BaseGPU          float64
	GPUPerKilo       float64
	DrawCallsPerUnit float64 // renderer-like subsystems
	QueuePerKilo     float64 // pathfinder-like subsystems
}

// DefaultProfile returns a plausible response curve for each well-known
// subsystem.
func DefaultProfile(id ID) Profile {
	p := Profile{
		BaseFPS:        60,
		FPSDropPerKilo: 1.5,
		BaseHeap:       64 << 20,
		BytesPerUnit:   2048,
		BaseCPU:        20,
		CPUPerKilo:     4,
		BaseGPU:        10,
		GPUPerKilo:     1,
	}
	switch id {
	case Renderer:
		p.BaseGPU = 35
		p.GPUPerKilo = 6
		p.DrawCallsPerUnit = 1.2
		p.BaseHeap = 128 << 20
	case Pathfinder:
		p.QueuePerKilo = 40
		p.CPUPerKilo = 8
	case Allocator:
		p.BytesPerUnit = 4096
		p.BaseHeap = 32 << 20
	case Audio:
		p.BaseCPU = 8
		p.CPUPerKilo = 1
	case Persistence:
		p.BaseCPU = 5
		p.BytesPerUnit = 512
	}
	return p
}

// Simulated is a deterministic in-process collaborator used by the demo
// CLI, the integration scenarios, and the test suites. Counters are
// published under a mutex so readers always see a consistent snapshot.
type Simulated struct {
	id      ID
	profile Profile

	mu          sync.Mutex
	initialized bool
	load        int
	steps       uint64
	leakedBytes uint64
	leakedBlks  uint64
	counters    Counters

	// Fault injection, set by tests and stress scenarios.
	initErr      error
	unresponsive bool
	heapCeiling  uint64 // StepWithLoad fails allocation above this
}

// NewSimulated creates a simulated subsystem with the default profile for
// its ID.
func NewSimulated(id ID) *Simulated {
	return NewSimulatedWithProfile(id, DefaultProfile(id))
}

// NewSimulatedWithProfile creates a simulated subsystem with a custom
// response curve.
func NewSimulatedWithProfile(id ID, p Profile) *Simulated {
	return &Simulated{id: id, profile: p}
}

// ID returns the subsystem's identity.
func (s *Simulated) ID() ID { return s.id }

// FailInit makes the next Init return err.
func (s *Simulated) FailInit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initErr = err
}

// SetUnresponsive toggles the hung-subsystem fault: every Step returns
// ErrUnresponsive while set.
func (s *Simulated) SetUnresponsive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unresponsive = v
}

// SetHeapCeiling makes StepWithLoad fail with ErrAllocationFailed once the
// simulated heap would exceed limit. Zero disables the fault.
func (s *Simulated) SetHeapCeiling(limit uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heapCeiling = limit
}

// Leak adds permanent simulated heap usage, for exercising the runner's
// whole-run leak report.
func (s *Simulated) Leak(bytes uint64, blocks uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leakedBytes += bytes
	s.leakedBlks += blocks
	s.publishLocked()
}

func (s *Simulated) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initErr != nil {
		return fmt.Errorf("%s: %w", s.id, s.initErr)
	}
	s.initialized = true
	s.load = 0
	s.steps = 0
	s.publishLocked()
	return nil
}

func (s *Simulated) Step() error {
	s.mu.Lock()
	load := s.load
	s.mu.Unlock()
	return s.StepWithLoad(load)
}

func (s *Simulated) StepWithLoad(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return fmt.Errorf("%s: step before init", s.id)
	}
	if s.unresponsive {
		return fmt.Errorf("%s: %w", s.id, ErrUnresponsive)
	}
	if n < 0 {
		n = 0
	}

	wantHeap := s.profile.BaseHeap + uint64(n)*s.profile.BytesPerUnit + s.leakedBytes
	if s.heapCeiling > 0 && wantHeap > s.heapCeiling {
		return fmt.Errorf("%s: %w", s.id, ErrAllocationFailed)
	}

	s.load = n
	s.steps++
	s.publishLocked()
	return nil
}

func (s *Simulated) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	s.load = 0
	s.counters = Counters{}
}

func (s *Simulated) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// publishLocked recomputes the published counters from the current load.
// Callers must hold s.mu.
func (s *Simulated) publishLocked() {
	kilo := float64(s.load) / 1000

	fps := s.profile.BaseFPS - s.profile.FPSDropPerKilo*kilo
	if fps < 0 {
		fps = 0
	}
	var frameTime time.Duration
	if fps > 0 {
		frameTime = time.Duration(float64(time.Second) / fps)
	}

	heap := s.profile.BaseHeap + uint64(s.load)*s.profile.BytesPerUnit + s.leakedBytes
	c := Counters{
		HeapUsed:          heap,
		HeapPeak:          maxUint(s.counters.HeapPeak, heap),
		OutstandingAllocs: uint64(s.load) + s.leakedBlks,
		FPS:               fps,
		FrameTime:         frameTime,
		CPUUtilization:    clampPercent(s.profile.BaseCPU + s.profile.CPUPerKilo*kilo),
		GPUUtilization:    clampPercent(s.profile.BaseGPU + s.profile.GPUPerKilo*kilo),
		GPUMemoryUsed:     uint64(float64(heap) * 0.25),
		DrawCalls:         uint64(s.profile.DrawCallsPerUnit * float64(s.load)),
		QueueDepth:        int(s.profile.QueuePerKilo * kilo),
	}
	s.counters = c
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func maxUint(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// NewSimulatedRegistry builds a registry populated with all eight simulated
// subsystems, initialized profiles only. InitAll is still the caller's job.
func NewSimulatedRegistry() (*Registry, error) {
	r := NewRegistry()
	for id := ID(0); id < Count; id++ {
		if err := r.Register(id, NewSimulated(id)); err != nil {
			return nil, err
		}
	}
	return r, nil
}
