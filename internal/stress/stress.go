// Package stress ramps synthetic load against collaborator subsystems until
// a failure condition or budget is reached, and runs long-hold stability
// checks with strict per-sample gating.
package stress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/voxelforge/perfharness/internal/bottleneck"
	"github.com/voxelforge/perfharness/internal/metrics"
	"github.com/voxelforge/perfharness/internal/subsystem"
)

// FailureCause names the first condition breached during a run. CauseNone
// is the success terminal state: max load or the full hold duration was
// reached without any breach.
type FailureCause int

const (
	CauseNone FailureCause = iota
	CauseFpsFloor
	CauseMemoryCeiling
	CauseThermal
	CauseUnresponsive
	CauseAllocationFailure
)

func (c FailureCause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseFpsFloor:
		return "fps-floor"
	case CauseMemoryCeiling:
		return "memory-ceiling"
	case CauseThermal:
		return "thermal"
	case CauseUnresponsive:
		return "unresponsive"
	case CauseAllocationFailure:
		return "allocation-failure"
	default:
		return "unknown"
	}
}

// Variable selects which knob the ramp turns.
type Variable int

const (
	// EntityCount ramps the simulated entity population.
	EntityCount Variable = iota
	// AllocationBurst ramps allocation pressure on the target.
	AllocationBurst
	// ConcurrentOps ramps load while stepping every registered
	// subsystem concurrently within each iteration, validating the
	// collaborators' own thread-safety. The harness itself stays
	// single-threaded between iterations.
	ConcurrentOps
)

func (v Variable) String() string {
	switch v {
	case EntityCount:
		return "entity-count"
	case AllocationBurst:
		return "allocation-burst"
	case ConcurrentOps:
		return "concurrent-ops"
	default:
		return "unknown"
	}
}

// Config parametrizes a ramp or stability run.
type Config struct {
	Variable Variable
	Target   subsystem.ID

	StartLoad       int
	MaxLoad         int
	RampStepPercent float64 // default 12.5

	FPSFloor      float64              // default 15
	MemoryCeiling uint64               // 0 disables the check
	ThermalLimit  metrics.ThermalState // breach at or above; default critical
	Budget        time.Duration        // 0 = unlimited

	// Stability variant.
	HoldDuration   time.Duration
	SampleInterval time.Duration // default 1s
}

// DefaultConfig returns the stock entity ramp.
func DefaultConfig() Config {
	return Config{
		Variable:        EntityCount,
		Target:          subsystem.SimLoop,
		StartLoad:       1000,
		MaxLoad:         100_000,
		RampStepPercent: 12.5,
		FPSFloor:        15,
		ThermalLimit:    metrics.ThermalCritical,
		SampleInterval:  time.Second,
	}
}

// Run is the outcome of one stress run.
type Run struct {
	Variable   Variable
	LoadLevel  int // load at termination, never above MaxLoad
	MaxLoad    int
	PeakLoad   int // highest load that completed without a breach
	Iterations int
	Elapsed    time.Duration
	Cause      FailureCause
	Samples    int // stability variant: samples taken
}

// Engine drives stress runs over a registry, sampling through the shared
// metric sampler and logging bottleneck warnings as load climbs.
type Engine struct {
	reg      *subsystem.Registry
	sampler  *metrics.Sampler
	detector *bottleneck.Detector
	log      *slog.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// NewEngine creates a stress engine. detector and log may be nil.
func NewEngine(reg *subsystem.Registry, sampler *metrics.Sampler, detector *bottleneck.Detector, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		reg:      reg,
		sampler:  sampler,
		detector: detector,
		log:      log,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Ramp increases load by RampStepPercent per iteration until a failure
// condition, the budget, or MaxLoad is reached. The reported cause is the
// first condition breached in real time; the peak load is the load of the
// last iteration that completed cleanly.
func (e *Engine) Ramp(ctx context.Context, cfg Config) (Run, error) {
	cfg = withDefaults(cfg)
	target := e.reg.Get(cfg.Target)
	if target == nil {
		return Run{}, fmt.Errorf("stress target %s not registered", cfg.Target)
	}

	run := Run{Variable: cfg.Variable, MaxLoad: cfg.MaxLoad}
	load := cfg.StartLoad
	start := e.now()

	defer func() {
		// Release the synthetic load regardless of outcome.
		_ = target.StepWithLoad(0)
	}()

	for {
		if err := ctx.Err(); err != nil {
			run.Elapsed = e.now().Sub(start)
			run.LoadLevel = load
			return run, err
		}
		if cfg.Budget > 0 && e.now().Sub(start) >= cfg.Budget {
			run.LoadLevel = run.PeakLoad
			run.Elapsed = e.now().Sub(start)
			run.Cause = CauseNone
			return run, nil
		}

		run.Iterations++
		if cause := e.iterate(ctx, cfg, target, load); cause != CauseNone {
			run.LoadLevel = load
			run.Cause = cause
			run.Elapsed = e.now().Sub(start)
			e.log.Warn("stress ramp breached",
				"variable", cfg.Variable, "cause", cause,
				"load", load, "peak", run.PeakLoad, "iterations", run.Iterations)
			return run, nil
		}

		run.PeakLoad = load
		if load >= cfg.MaxLoad {
			run.LoadLevel = load
			run.Cause = CauseNone
			run.Elapsed = e.now().Sub(start)
			e.log.Info("stress ramp reached max load",
				"variable", cfg.Variable, "load", load, "iterations", run.Iterations)
			return run, nil
		}

		step := int(float64(load) * cfg.RampStepPercent / 100)
		if step < 1 {
			step = 1
		}
		load += step
		if load > cfg.MaxLoad {
			load = cfg.MaxLoad
		}
	}
}

// iterate applies one load step and checks the breach conditions in the
// order they are observed: step errors first, then FPS, memory, thermal.
func (e *Engine) iterate(ctx context.Context, cfg Config, target subsystem.Subsystem, load int) FailureCause {
	var err error
	if cfg.Variable == ConcurrentOps {
		err = e.stepConcurrent(target, load)
	} else {
		err = target.StepWithLoad(load)
	}
	switch {
	case errors.Is(err, subsystem.ErrAllocationFailed):
		return CauseAllocationFailure
	case errors.Is(err, subsystem.ErrUnresponsive):
		return CauseUnresponsive
	case err != nil:
		// Any other step failure means the subsystem stopped making
		// progress under load.
		return CauseUnresponsive
	}

	c := target.Counters()
	if c.FPS < cfg.FPSFloor {
		return CauseFpsFloor
	}
	if cfg.MemoryCeiling > 0 && c.HeapUsed > cfg.MemoryCeiling {
		return CauseMemoryCeiling
	}

	cpu := e.sampler.Sample(metrics.CategoryCPU)
	mem := e.sampler.Sample(metrics.CategoryMemory)
	if cpu.Thermal >= cfg.ThermalLimit {
		return CauseThermal
	}
	if e.detector != nil {
		for _, b := range e.detector.Detect(cpu, mem) {
			e.log.Debug("bottleneck under stress", "load", load, "bottleneck", b.String())
		}
	}
	return CauseNone
}

// stepConcurrent interleaves StepWithLoad on the target with Step calls on
// every other registered subsystem inside a single iteration.
func (e *Engine) stepConcurrent(target subsystem.Subsystem, load int) error {
	ids := e.reg.IDs()
	errs := make([]error, len(ids)+1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = target.StepWithLoad(load)
	}()
	for i, id := range ids {
		sub := e.reg.Get(id)
		if sub == target {
			continue
		}
		wg.Add(1)
		go func(i int, sub subsystem.Subsystem) {
			defer wg.Done()
			errs[i+1] = sub.Step()
		}(i, sub)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Stability holds StartLoad constant for HoldDuration, sampling once per
// SampleInterval. Any single out-of-bound sample fails the run immediately;
// there is no averaging or smoothing.
func (e *Engine) Stability(ctx context.Context, cfg Config) (Run, error) {
	cfg = withDefaults(cfg)
	target := e.reg.Get(cfg.Target)
	if target == nil {
		return Run{}, fmt.Errorf("stress target %s not registered", cfg.Target)
	}

	run := Run{Variable: cfg.Variable, MaxLoad: cfg.MaxLoad, LoadLevel: cfg.StartLoad, PeakLoad: cfg.StartLoad}
	start := e.now()

	defer func() {
		_ = target.StepWithLoad(0)
	}()

	for e.now().Sub(start) < cfg.HoldDuration {
		if err := ctx.Err(); err != nil {
			run.Elapsed = e.now().Sub(start)
			return run, err
		}

		run.Samples++
		if cause := e.iterate(ctx, cfg, target, cfg.StartLoad); cause != CauseNone {
			run.Cause = cause
			run.Elapsed = e.now().Sub(start)
			e.log.Warn("stability run breached",
				"cause", cause, "sample", run.Samples, "elapsed", run.Elapsed)
			return run, nil
		}
		e.sleep(cfg.SampleInterval)
	}

	run.Cause = CauseNone
	run.Elapsed = e.now().Sub(start)
	return run, nil
}

func withDefaults(cfg Config) Config {
	if cfg.RampStepPercent <= 0 {
		cfg.RampStepPercent = 12.5
	}
	if cfg.FPSFloor <= 0 {
		cfg.FPSFloor = 15
	}
	if cfg.ThermalLimit == 0 {
		cfg.ThermalLimit = metrics.ThermalCritical
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}
	if cfg.StartLoad <= 0 {
		cfg.StartLoad = 1000
	}
	if cfg.MaxLoad < cfg.StartLoad {
		cfg.MaxLoad = cfg.StartLoad
	}
	return cfg
}
