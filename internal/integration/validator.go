// Package integration runs the fixed matrix of pairwise cross-subsystem
// scenarios, gated on the sub-agent readiness handshake. The pair set is
// fixed at configuration time; scenarios run strictly sequentially.
package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/voxelforge/perfharness/internal/subsystem"
)

// AgentState is a collaborator's position in the readiness handshake.
type AgentState int

const (
	AgentNotReady AgentState = iota
	AgentReady
	AgentActive
)

func (s AgentState) String() string {
	switch s {
	case AgentReady:
		return "ready"
	case AgentActive:
		return "active"
	default:
		return "not-ready"
	}
}

// PairStatus is the recorded outcome of one pair's scenario.
type PairStatus int

const (
	PairNotTested PairStatus = iota
	PairPassed
	PairFailed
	PairCritical
)

func (s PairStatus) String() string {
	switch s {
	case PairPassed:
		return "passed"
	case PairFailed:
		return "failed"
	case PairCritical:
		return "critical"
	default:
		return "not-tested"
	}
}

// ErrQuorumNotMet reports a validation run aborted because too few
// sub-agents were ready. It is an aborted run, not a failed one.
var ErrQuorumNotMet = errors.New("sub-agent quorum not met")

// Scenario exercises one source/target pair. The validator measures the
// wall-clock latency of the call; returning subsystem.ErrUnresponsive
// records Critical and aborts the rest of this pair's test only.
type Scenario func(ctx context.Context, src, tgt subsystem.Subsystem) error

// WorkloadScenario is the stock scenario: spin up a representative number
// of simulated entities on both subsystems and step them against each
// other.
func WorkloadScenario(units int) Scenario {
	return func(ctx context.Context, src, tgt subsystem.Subsystem) error {
		if err := src.StepWithLoad(units); err != nil {
			return err
		}
		if err := tgt.StepWithLoad(units); err != nil {
			return err
		}
		for i := 0; i < 4; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := src.Step(); err != nil {
				return err
			}
			if err := tgt.Step(); err != nil {
				return err
			}
		}
		return nil
	}
}

// PairSpec declares one matrix entry at configuration time.
type PairSpec struct {
	Source    subsystem.ID
	Target    subsystem.ID
	Threshold time.Duration // max acceptable scenario latency
	Scenario  Scenario      // nil means WorkloadScenario(defaultUnits)
}

// Pair is the mutable per-pair record, allocated once and updated in place
// across validation runs.
type Pair struct {
	Source     subsystem.ID
	Target     subsystem.ID
	Status     PairStatus
	Latency    time.Duration
	LastTested time.Time
	Threshold  time.Duration

	scenario Scenario
}

const defaultWorkloadUnits = 500

// DefaultPairs returns the reference 12-pair matrix.
func DefaultPairs(threshold time.Duration) []PairSpec {
	mk := func(a, b subsystem.ID) PairSpec {
		return PairSpec{Source: a, Target: b, Threshold: threshold}
	}
	return []PairSpec{
		mk(subsystem.SimLoop, subsystem.Renderer),
		mk(subsystem.SimLoop, subsystem.Pathfinder),
		mk(subsystem.SimLoop, subsystem.Allocator),
		mk(subsystem.SimLoop, subsystem.Audio),
		mk(subsystem.SimLoop, subsystem.Scripting),
		mk(subsystem.Renderer, subsystem.Allocator),
		mk(subsystem.Renderer, subsystem.Audio),
		mk(subsystem.Pathfinder, subsystem.Allocator),
		mk(subsystem.Pathfinder, subsystem.Scripting),
		mk(subsystem.Persistence, subsystem.Allocator),
		mk(subsystem.Persistence, subsystem.SimLoop),
		mk(subsystem.Networking, subsystem.SimLoop),
	}
}

// Config tunes the readiness gate and the success criteria.
type Config struct {
	Quorum    int // minimum ready sub-agents before any pair runs
	MinPassed int // pairs that must pass for overall success
}

// DefaultConfig matches the reference system: 5-of-8 quorum, 10-of-12
// passing pairs.
func DefaultConfig() Config {
	return Config{Quorum: 5, MinPassed: 10}
}

// Result summarizes one validation run.
type Result struct {
	Score    float64 // passed / total * 100
	Total    int
	Passed   int
	Failed   int
	Critical int
	Success  bool // zero critical failures AND Passed >= MinPassed
}

// Validator owns the readiness table and the pair matrix for one engine
// instance.
type Validator struct {
	reg    *subsystem.Registry
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
	agents [subsystem.Count]AgentState
	pairs  []*Pair
}

// NewValidator builds a validator over a fixed pair matrix. Pairs must
// reference registered subsystems.
func NewValidator(reg *subsystem.Registry, specs []PairSpec, cfg Config, log *slog.Logger) (*Validator, error) {
	if cfg.Quorum <= 0 {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	v := &Validator{reg: reg, cfg: cfg, log: log, now: time.Now}
	for _, spec := range specs {
		if reg.Get(spec.Source) == nil || reg.Get(spec.Target) == nil {
			return nil, fmt.Errorf("pair %s->%s references an unregistered subsystem", spec.Source, spec.Target)
		}
		sc := spec.Scenario
		if sc == nil {
			sc = WorkloadScenario(defaultWorkloadUnits)
		}
		v.pairs = append(v.pairs, &Pair{
			Source:    spec.Source,
			Target:    spec.Target,
			Threshold: spec.Threshold,
			scenario:  sc,
		})
	}
	return v, nil
}

// ReportReady marks a sub-agent as having completed its handshake.
func (v *Validator) ReportReady(id subsystem.ID) error {
	if id < 0 || id >= subsystem.Count {
		return fmt.Errorf("sub-agent id %d out of range", int(id))
	}
	if v.agents[id] == AgentNotReady {
		v.agents[id] = AgentReady
	}
	return nil
}

// ReportActive marks a sub-agent as actively participating.
func (v *Validator) ReportActive(id subsystem.ID) error {
	if id < 0 || id >= subsystem.Count {
		return fmt.Errorf("sub-agent id %d out of range", int(id))
	}
	v.agents[id] = AgentActive
	return nil
}

// ReadyCount returns how many sub-agents are Ready or Active.
func (v *Validator) ReadyCount() int {
	n := 0
	for _, s := range v.agents {
		if s != AgentNotReady {
			n++
		}
	}
	return n
}

// Agents returns the readiness table.
func (v *Validator) Agents() [subsystem.Count]AgentState {
	return v.agents
}

// Pairs returns a snapshot of the pair records.
func (v *Validator) Pairs() []Pair {
	out := make([]Pair, len(v.pairs))
	for i, p := range v.pairs {
		out[i] = *p
	}
	return out
}

// Run executes every pair scenario sequentially. Below quorum it aborts
// immediately with ErrQuorumNotMet and no pair is executed. A Critical
// outcome aborts only the affected pair, never the matrix.
func (v *Validator) Run(ctx context.Context) (Result, error) {
	if ready := v.ReadyCount(); ready < v.cfg.Quorum {
		v.log.Warn("integration validation aborted", "ready", ready, "quorum", v.cfg.Quorum)
		return Result{}, fmt.Errorf("%w: %d of %d required", ErrQuorumNotMet, ready, v.cfg.Quorum)
	}

	res := Result{Total: len(v.pairs)}
	for _, p := range v.pairs {
		v.runPair(ctx, p)
		switch p.Status {
		case PairPassed:
			res.Passed++
		case PairFailed:
			res.Failed++
		case PairCritical:
			res.Critical++
		}
	}

	if res.Total > 0 {
		res.Score = float64(res.Passed) / float64(res.Total) * 100
	}
	res.Success = res.Critical == 0 && res.Passed >= v.cfg.MinPassed

	v.log.Info("integration validation complete",
		"score", fmt.Sprintf("%.1f%%", res.Score),
		"passed", res.Passed,
		"failed", res.Failed,
		"critical", res.Critical,
		"success", res.Success)
	return res, nil
}

// runPair executes one scenario and records the outcome in place.
func (v *Validator) runPair(ctx context.Context, p *Pair) {
	src := v.reg.Get(p.Source)
	tgt := v.reg.Get(p.Target)

	start := v.now()
	err := p.scenario(ctx, src, tgt)
	p.Latency = v.now().Sub(start)
	p.LastTested = v.now()

	switch {
	case errors.Is(err, subsystem.ErrUnresponsive):
		p.Status = PairCritical
		v.log.Error("pair critical", "source", p.Source, "target", p.Target, "error", err)
	case err != nil:
		p.Status = PairFailed
		v.log.Warn("pair failed", "source", p.Source, "target", p.Target, "error", err)
	case p.Threshold > 0 && p.Latency > p.Threshold:
		p.Status = PairFailed
		v.log.Warn("pair over latency threshold",
			"source", p.Source, "target", p.Target,
			"latency", p.Latency, "threshold", p.Threshold)
	default:
		p.Status = PairPassed
	}
}
