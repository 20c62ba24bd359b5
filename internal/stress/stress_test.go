package stress

import (
	"context"
	"testing"
	"time"

	"github.com/voxelforge/perfharness/internal/metrics"
	"github.com/voxelforge/perfharness/internal/subsystem"
)

// testProbe feeds the sampler from the registry counters with a scripted
// thermal state.
type testProbe struct {
	reg     *subsystem.Registry
	thermal metrics.ThermalState
}

func (p *testProbe) Utilization(c metrics.Category) float64 {
	cnt := p.reg.Get(subsystem.SimLoop).Counters()
	switch c {
	case metrics.CategoryCPU:
		return cnt.CPUUtilization
	case metrics.CategoryGPU:
		return cnt.GPUUtilization
	default:
		return float64(cnt.HeapUsed) / float64(1<<30) * 100
	}
}

func (p *testProbe) HardwareCounters(metrics.Category) (metrics.HardwareCounters, bool) {
	return metrics.HardwareCounters{Cycles: 1}, true
}

func (p *testProbe) Thermal() metrics.ThermalState { return p.thermal }

func newTestEngine(t *testing.T) (*Engine, *subsystem.Registry, *testProbe) {
	t.Helper()
	reg, err := subsystem.NewSimulatedRegistry()
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.InitAll(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(reg.CleanupAll)

	probe := &testProbe{reg: reg}
	e := NewEngine(reg, metrics.NewSampler(probe), nil, nil)
	e.sleep = func(time.Duration) {} // no real waiting in tests
	return e, reg, probe
}

func TestRampReachesMaxLoadCleanly(t *testing.T) {
	e, _, _ := newTestEngine(t)

	cfg := DefaultConfig()
	cfg.StartLoad = 100
	cfg.MaxLoad = 200
	cfg.FPSFloor = 1 // effectively disabled

	run, err := e.Ramp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Ramp: %v", err)
	}
	if run.Cause != CauseNone {
		t.Errorf("Cause = %v, want none", run.Cause)
	}
	if run.LoadLevel != 200 || run.PeakLoad != 200 {
		t.Errorf("load=%d peak=%d, want 200/200", run.LoadLevel, run.PeakLoad)
	}
}

func TestRampNeverReportsLoadAboveMax(t *testing.T) {
	e, _, _ := newTestEngine(t)

	cfg := DefaultConfig()
	cfg.StartLoad = 1000
	cfg.MaxLoad = 1500 // 1000 -> 1125 -> 1265 -> 1423 -> clamp 1500
	cfg.FPSFloor = 1

	run, err := e.Ramp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Ramp: %v", err)
	}
	if run.LoadLevel > cfg.MaxLoad || run.PeakLoad > cfg.MaxLoad {
		t.Errorf("load=%d peak=%d exceed max %d", run.LoadLevel, run.PeakLoad, cfg.MaxLoad)
	}
}

func TestRampFpsFloorTerminatesAtBreachIteration(t *testing.T) {
	e, _, _ := newTestEngine(t)

	// The simloop profile loses 1.5 FPS per 1000 entities from a 60 FPS
	// base, so a 40 FPS floor breaks somewhere past 13k entities.
	cfg := DefaultConfig()
	cfg.StartLoad = 1000
	cfg.MaxLoad = 1_000_000
	cfg.FPSFloor = 40

	run, err := e.Ramp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Ramp: %v", err)
	}
	if run.Cause != CauseFpsFloor {
		t.Fatalf("Cause = %v, want fps-floor", run.Cause)
	}
	if run.PeakLoad >= run.LoadLevel {
		t.Errorf("peak %d not below breaching load %d", run.PeakLoad, run.LoadLevel)
	}
	// Peak must be exactly the previous iteration's load.
	prev := float64(run.LoadLevel) / 1.125
	if diff := float64(run.PeakLoad) - prev; diff > 1 || diff < -1 {
		t.Errorf("peak %d is not the pre-breach load (~%.0f)", run.PeakLoad, prev)
	}
}

func TestRampMemoryCeiling(t *testing.T) {
	e, _, _ := newTestEngine(t)

	base := subsystem.DefaultProfile(subsystem.SimLoop).BaseHeap
	cfg := DefaultConfig()
	cfg.StartLoad = 1000
	cfg.MaxLoad = 1_000_000
	cfg.FPSFloor = 1
	cfg.MemoryCeiling = base + 8<<20 // breached around 4k entities at 2 KiB each

	run, err := e.Ramp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Ramp: %v", err)
	}
	if run.Cause != CauseMemoryCeiling {
		t.Errorf("Cause = %v, want memory-ceiling", run.Cause)
	}
}

func TestRampThermalBreach(t *testing.T) {
	e, _, probe := newTestEngine(t)
	probe.thermal = metrics.ThermalCritical

	cfg := DefaultConfig()
	cfg.StartLoad = 100
	cfg.MaxLoad = 1000
	cfg.FPSFloor = 1

	run, err := e.Ramp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Ramp: %v", err)
	}
	if run.Cause != CauseThermal {
		t.Errorf("Cause = %v, want thermal", run.Cause)
	}
	if run.Iterations != 1 {
		t.Errorf("Iterations = %d, want breach on the first iteration", run.Iterations)
	}
}

func TestRampAllocationFailure(t *testing.T) {
	e, reg, _ := newTestEngine(t)

	sim := reg.Get(subsystem.SimLoop).(*subsystem.Simulated)
	sim.SetHeapCeiling(subsystem.DefaultProfile(subsystem.SimLoop).BaseHeap + 4<<20)

	cfg := DefaultConfig()
	cfg.StartLoad = 1000
	cfg.MaxLoad = 1_000_000
	cfg.FPSFloor = 1

	run, err := e.Ramp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Ramp: %v", err)
	}
	if run.Cause != CauseAllocationFailure {
		t.Errorf("Cause = %v, want allocation-failure", run.Cause)
	}
}

func TestRampUnresponsive(t *testing.T) {
	e, reg, _ := newTestEngine(t)

	sim := reg.Get(subsystem.SimLoop).(*subsystem.Simulated)
	sim.SetUnresponsive(true)

	run, err := e.Ramp(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("Ramp: %v", err)
	}
	if run.Cause != CauseUnresponsive {
		t.Errorf("Cause = %v, want unresponsive", run.Cause)
	}
}

func TestConcurrentOpsStepsAllSubsystems(t *testing.T) {
	e, _, _ := newTestEngine(t)

	cfg := DefaultConfig()
	cfg.Variable = ConcurrentOps
	cfg.StartLoad = 100
	cfg.MaxLoad = 150
	cfg.FPSFloor = 1

	run, err := e.Ramp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Ramp: %v", err)
	}
	if run.Cause != CauseNone {
		t.Fatalf("Cause = %v, want none", run.Cause)
	}
}

func TestConcurrentOpsSurfacesCollaboratorFaults(t *testing.T) {
	e, reg, _ := newTestEngine(t)

	// A hung non-target subsystem only matters if the concurrent variant
	// actually steps it inside each iteration.
	aud := reg.Get(subsystem.Audio).(*subsystem.Simulated)
	aud.SetUnresponsive(true)

	cfg := DefaultConfig()
	cfg.Variable = ConcurrentOps
	cfg.StartLoad = 100
	cfg.MaxLoad = 150
	cfg.FPSFloor = 1

	run, err := e.Ramp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Ramp: %v", err)
	}
	if run.Cause != CauseUnresponsive {
		t.Errorf("Cause = %v, want unresponsive from hung collaborator", run.Cause)
	}
	if run.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", run.Iterations)
	}
}

func TestStabilityHoldsAndSucceeds(t *testing.T) {
	e, _, _ := newTestEngine(t)

	ticks := 0
	base := time.Unix(0, 0)
	e.now = func() time.Time { return base.Add(time.Duration(ticks) * time.Second) }
	e.sleep = func(time.Duration) { ticks++ }

	cfg := DefaultConfig()
	cfg.StartLoad = 500
	cfg.FPSFloor = 1
	cfg.HoldDuration = 10 * time.Second

	run, err := e.Stability(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Stability: %v", err)
	}
	if run.Cause != CauseNone {
		t.Fatalf("Cause = %v, want none", run.Cause)
	}
	if run.Samples != 10 {
		t.Errorf("Samples = %d, want 10 (one per second for 10s)", run.Samples)
	}
}

func TestStabilitySingleBadSampleFailsImmediately(t *testing.T) {
	e, reg, _ := newTestEngine(t)

	ticks := 0
	base := time.Unix(0, 0)
	e.now = func() time.Time { return base.Add(time.Duration(ticks) * time.Second) }

	sim := reg.Get(subsystem.SimLoop).(*subsystem.Simulated)
	e.sleep = func(time.Duration) {
		ticks++
		if ticks == 3 {
			sim.SetUnresponsive(true) // goes bad before the 4th sample
		}
	}

	cfg := DefaultConfig()
	cfg.StartLoad = 500
	cfg.FPSFloor = 1
	cfg.HoldDuration = 60 * time.Second

	run, err := e.Stability(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Stability: %v", err)
	}
	if run.Cause != CauseUnresponsive {
		t.Fatalf("Cause = %v, want unresponsive", run.Cause)
	}
	if run.Samples != 4 {
		t.Errorf("Samples = %d, want immediate stop at the 4th sample", run.Samples)
	}
}
