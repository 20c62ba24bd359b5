// Package engine wires the sampler, detectors, stores, and runners into one
// coordinator with a single rate-limited update entry point.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/voxelforge/perfharness/internal/baseline"
	"github.com/voxelforge/perfharness/internal/bottleneck"
	"github.com/voxelforge/perfharness/internal/config"
	"github.com/voxelforge/perfharness/internal/integration"
	"github.com/voxelforge/perfharness/internal/logging"
	"github.com/voxelforge/perfharness/internal/metrics"
	"github.com/voxelforge/perfharness/internal/regression"
	"github.com/voxelforge/perfharness/internal/stress"
	"github.com/voxelforge/perfharness/internal/subsystem"
	"github.com/voxelforge/perfharness/internal/testrun"
)

// Coordinator owns one harness instance: a collaborator registry, the
// sampler feeding the per-category rings, the bottleneck detector, the
// baseline-backed regression engine, and the stress and validation
// drivers. Coordinators are created per run and never shared through
// globals, so concurrent harness instances cannot contaminate each other.
type Coordinator struct {
	cfg   *config.Config
	log   *slog.Logger
	trace *logging.RunLogger

	reg       *subsystem.Registry
	sampler   *metrics.Sampler
	detector  *bottleneck.Detector
	baselines baseline.Store
	regress   *regression.Engine
	stresser  *stress.Engine
	validator *integration.Validator

	now func() time.Time

	mu          sync.Mutex
	lastUpdate  time.Time
	bottlenecks []bottleneck.Bottleneck
}

// New builds a coordinator over a registry and a baseline store. trace may
// be nil; log may be nil for silent operation.
func New(cfg *config.Config, reg *subsystem.Registry, store baseline.Store, log *slog.Logger, trace *logging.RunLogger) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	detector, err := bottleneck.NewDetector(mergeThresholds(cfg.Thresholds))
	if err != nil {
		return nil, fmt.Errorf("building detector: %w", err)
	}

	sampler := metrics.NewSampler(newRegistryProbe(reg, 0))

	validator, err := integration.NewValidator(reg,
		integration.DefaultPairs(cfg.Integration.PairLatencyThreshold),
		integration.Config{Quorum: cfg.Integration.Quorum, MinPassed: cfg.Integration.MinPassed},
		log)
	if err != nil {
		return nil, fmt.Errorf("building validator: %w", err)
	}

	return &Coordinator{
		cfg:       cfg,
		log:       log,
		trace:     trace,
		reg:       reg,
		sampler:   sampler,
		detector:  detector,
		baselines: store,
		regress:   regression.NewEngine(store, cfg.Regression.ThresholdPercent, cfg.Regression.ImprovementMarginPercent),
		stresser:  stress.NewEngine(reg, sampler, detector, log),
		validator: validator,
		now:       time.Now,
	}, nil
}

// mergeThresholds applies config overrides on top of the built-in
// bottleneck thresholds.
func mergeThresholds(overrides []config.ThresholdConfig) []bottleneck.Threshold {
	out := bottleneck.DefaultThresholds()
	for _, o := range overrides {
		replaced := false
		for i := range out {
			if out[i].Metric == o.Metric {
				out[i].WarningPercent = o.WarningPercent
				out[i].CriticalPercent = o.CriticalPercent
				replaced = true
			}
		}
		if !replaced {
			out = append(out, bottleneck.Threshold{
				Metric:          o.Metric,
				WarningPercent:  o.WarningPercent,
				CriticalPercent: o.CriticalPercent,
			})
		}
	}
	return out
}

// SetClock overrides the coordinator's clock. Intended for tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
	c.sampler.SetClock(now)
}

// Registry returns the collaborator registry.
func (c *Coordinator) Registry() *subsystem.Registry { return c.reg }

// Validator returns the integration validator so sub-agents can report
// readiness before a validation run.
func (c *Coordinator) Validator() *integration.Validator { return c.validator }

// Baselines returns the baseline store.
func (c *Coordinator) Baselines() baseline.Store { return c.baselines }

// InitAll initializes every registered collaborator.
func (c *Coordinator) InitAll() error {
	return c.reg.InitAll()
}

// Shutdown releases all collaborators and closes the baseline store.
func (c *Coordinator) Shutdown() error {
	c.reg.CleanupAll()
	if c.baselines != nil {
		return c.baselines.Close()
	}
	return nil
}

// Step advances every collaborator by one unit of work. The demo loop and
// the watch command call it between updates; a host integrating the
// harness drives its own subsystems instead.
func (c *Coordinator) Step() error {
	for _, id := range c.reg.IDs() {
		if err := c.reg.Get(id).Step(); err != nil {
			return fmt.Errorf("stepping %s: %w", id, err)
		}
	}
	return nil
}

// Update runs one analysis pass: sample every category, detect
// bottlenecks, and check the measured metrics against their baselines.
// Calls arriving within the configured update interval of the previous
// pass are coalesced into no-ops and return false.
func (c *Coordinator) Update(ctx context.Context) (bool, error) {
	c.mu.Lock()
	now := c.now()
	if !c.lastUpdate.IsZero() && now.Sub(c.lastUpdate) < c.cfg.Sampling.UpdateInterval {
		c.mu.Unlock()
		return false, nil
	}
	c.lastUpdate = now
	c.mu.Unlock()

	c.sampler.SampleAll()

	var samples []metrics.Sample
	for _, cat := range metrics.Categories {
		if s, ok := c.sampler.Latest(cat); ok {
			samples = append(samples, s)
			c.log.Log(ctx, logging.LevelTrace, "sample",
				"category", cat.String(), "utilization", s.Utilization, "estimated", s.Estimated)
		}
	}

	found := c.detector.Detect(samples...)
	c.mu.Lock()
	c.bottlenecks = found
	c.mu.Unlock()

	for _, b := range found {
		c.log.Warn("bottleneck detected", "resource", b.Resource.String(),
			"severity", b.Severity.String(), "utilization", b.Value)
		c.trace.Log(map[string]any{
			"event":       "bottleneck",
			"resource":    b.Resource.String(),
			"severity":    b.Severity.String(),
			"utilization": b.Value,
		})
	}

	for metric, value := range c.measure() {
		rec, err := c.regress.Check(ctx, metric, value)
		if err != nil {
			return true, fmt.Errorf("regression check %s: %w", metric, err)
		}
		if rec != nil {
			c.log.Warn("regression detected", "metric", rec.Metric,
				"baseline", rec.Baseline, "current", rec.Current,
				"delta_percent", rec.PercentDelta, "severity", rec.Severity.String())
			c.trace.Log(map[string]any{
				"event":         "regression_opened",
				"metric":        rec.Metric,
				"baseline":      rec.Baseline,
				"current":       rec.Current,
				"delta_percent": rec.PercentDelta,
				"severity":      rec.Severity.String(),
			})
		}
	}

	return true, nil
}

// measure reads the current value of every baseline-tracked metric from
// the collaborators' published counters. Metrics whose collaborator is
// absent are skipped.
func (c *Coordinator) measure() map[string]float64 {
	out := make(map[string]float64, 8)

	if s := c.reg.Get(subsystem.SimLoop); s != nil {
		cnt := s.Counters()
		out["fps"] = cnt.FPS
		out["frame_time_ms"] = float64(cnt.FrameTime) / float64(time.Millisecond)
	}
	if s := c.reg.Get(subsystem.Renderer); s != nil {
		out["draw_calls"] = float64(s.Counters().DrawCalls)
	}
	if s := c.reg.Get(subsystem.Pathfinder); s != nil {
		out["pathfind_queue_depth"] = float64(s.Counters().QueueDepth)
	}

	var totalHeap uint64
	var maxCPU, maxGPU float64
	for _, id := range c.reg.IDs() {
		cnt := c.reg.Get(id).Counters()
		totalHeap += cnt.HeapUsed
		if cnt.CPUUtilization > maxCPU {
			maxCPU = cnt.CPUUtilization
		}
		if cnt.GPUUtilization > maxGPU {
			maxGPU = cnt.GPUUtilization
		}
	}
	out["heap_bytes"] = float64(totalHeap)
	out["cpu_utilization"] = maxCPU
	out["gpu_utilization"] = maxGPU

	return out
}

// LatestSample returns the most recent sample for a category.
func (c *Coordinator) LatestSample(cat metrics.Category) (metrics.Sample, bool) {
	return c.sampler.Latest(cat)
}

// Bottlenecks returns the bottlenecks found by the most recent update pass.
func (c *Coordinator) Bottlenecks() []bottleneck.Bottleneck {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bottleneck.Bottleneck, len(c.bottlenecks))
	copy(out, c.bottlenecks)
	return out
}

// OpenRegressions returns the regression records still open.
func (c *Coordinator) OpenRegressions() []regression.Record {
	return c.regress.Open()
}

// Recommendations returns pending baseline update recommendations.
func (c *Coordinator) Recommendations() []regression.Recommendation {
	return c.regress.Recommendations()
}

// PromoteBaseline accepts the pending recommendation for a metric. It is
// the only path that changes a baseline from measured data.
func (c *Coordinator) PromoteBaseline(ctx context.Context, metric string) error {
	if err := c.regress.Promote(ctx, metric); err != nil {
		return err
	}
	c.trace.Log(map[string]any{"event": "baseline_promoted", "metric": metric})
	return nil
}

// Calibrate measures every tracked metric over a number of step/sample
// rounds and stores the averages as calibrated baselines.
func (c *Coordinator) Calibrate(ctx context.Context, rounds int) error {
	if rounds <= 0 {
		rounds = 10
	}

	sums := make(map[string]float64)
	for i := 0; i < rounds; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.Step(); err != nil {
			return fmt.Errorf("calibration step: %w", err)
		}
		for metric, value := range c.measure() {
			sums[metric] += value
		}
	}

	now := c.now()
	for metric, sum := range sums {
		b := baseline.Baseline{
			Metric:    metric,
			Value:     sum / float64(rounds),
			Source:    baseline.SourceCalibrated,
			UpdatedAt: now,
		}
		if err := c.baselines.Put(ctx, b); err != nil {
			return fmt.Errorf("storing calibrated baseline %s: %w", metric, err)
		}
		c.log.Info("baseline calibrated", "metric", metric, "value", b.Value)
	}
	c.trace.Log(map[string]any{"event": "calibrated", "rounds": rounds, "metrics": len(sums)})
	return nil
}

// RunTests executes a registered test tree with the configured runner
// settings. The allocator collaborator supplies the whole-run leak report.
func (c *Coordinator) RunTests(ctx context.Context, reg *testrun.Registry) testrun.Report {
	runner := testrun.NewRunner(reg, testrun.Config{
		StopOnFirstFailure: c.cfg.TestRunner.StopOnFirstFailure,
		TestTimeout:        c.cfg.TestRunner.TestTimeout,
	}, allocatorMemProbe{reg: c.reg}, c.log)

	report := runner.Run(ctx)
	c.trace.Log(map[string]any{
		"event":       "test_run",
		"passed":      report.Passed,
		"failed":      report.Failed,
		"skipped":     report.Skipped,
		"aborted":     report.Aborted,
		"leak_bytes":  report.Leak.Bytes,
		"leak_blocks": report.Leak.Blocks,
	})
	return report
}

// RunIntegration runs the full pair matrix once the sub-agent quorum is
// met.
func (c *Coordinator) RunIntegration(ctx context.Context) (integration.Result, error) {
	result, err := c.validator.Run(ctx)
	if err != nil {
		return result, err
	}
	c.trace.Log(map[string]any{
		"event":    "integration_run",
		"score":    result.Score,
		"passed":   result.Passed,
		"failed":   result.Failed,
		"critical": result.Critical,
		"success":  result.Success,
	})
	return result, nil
}

// stressConfig maps the harness configuration onto a stress run.
func (c *Coordinator) stressConfig(variable stress.Variable, target subsystem.ID) stress.Config {
	sc := stress.DefaultConfig()
	sc.Variable = variable
	sc.Target = target
	sc.StartLoad = c.cfg.Stress.StartLoad
	sc.MaxLoad = c.cfg.Stress.MaxLoad
	sc.RampStepPercent = c.cfg.Stress.RampStepPercent
	sc.FPSFloor = c.cfg.Stress.FPSFloor
	sc.MemoryCeiling = c.cfg.Stress.MemoryCeiling
	sc.HoldDuration = c.cfg.Stress.HoldDuration
	sc.SampleInterval = c.cfg.Stress.SampleInterval
	return sc
}

// RunStress ramps load on the target until a breach, the budget, or max
// load.
func (c *Coordinator) RunStress(ctx context.Context, variable stress.Variable, target subsystem.ID) (stress.Run, error) {
	run, err := c.stresser.Ramp(ctx, c.stressConfig(variable, target))
	if err != nil {
		return run, err
	}
	c.trace.Log(map[string]any{
		"event":      "stress_run",
		"variable":   run.Variable.String(),
		"cause":      run.Cause.String(),
		"peak_load":  run.PeakLoad,
		"iterations": run.Iterations,
	})
	return run, nil
}

// RunStability holds the configured start load for the hold duration with
// strict per-sample gating.
func (c *Coordinator) RunStability(ctx context.Context, target subsystem.ID) (stress.Run, error) {
	run, err := c.stresser.Stability(ctx, c.stressConfig(stress.EntityCount, target))
	if err != nil {
		return run, err
	}
	c.trace.Log(map[string]any{
		"event":   "stability_run",
		"cause":   run.Cause.String(),
		"samples": run.Samples,
	})
	return run, nil
}
