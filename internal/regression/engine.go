// Package regression compares current measurements against stored baselines
// and records regressions when the degrading delta exceeds a configured
// threshold. Metrics with no baseline produce no verdict at all, and
// improving deltas only produce promotion recommendations; a stored
// baseline is never overwritten without an explicit operator action.
package regression

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/voxelforge/perfharness/internal/baseline"
)

// Direction states whether larger values of a metric are better or worse.
type Direction int

const (
	// LowerIsBetter suits frame time, heap usage, latency.
	LowerIsBetter Direction = iota
	// HigherIsBetter suits FPS and throughput.
	HigherIsBetter
)

// Severity grades a regression by how far past the threshold it landed.
type Severity int

const (
	SeverityMinor    Severity = iota // delta < 2x threshold
	SeverityModerate                 // delta < 4x threshold
	SeveritySevere                   // delta >= 4x threshold
)

func (s Severity) String() string {
	switch s {
	case SeverityMinor:
		return "minor"
	case SeverityModerate:
		return "moderate"
	default:
		return "severe"
	}
}

// Record captures one detected regression.
type Record struct {
	Metric       string
	Baseline     float64
	Current      float64
	PercentDelta float64 // degrading delta, always positive
	Severity     Severity
	DetectedAt   time.Time
}

func (r Record) String() string {
	return fmt.Sprintf("%s: %.2f -> %.2f (%.1f%% worse, %s)",
		r.Metric, r.Baseline, r.Current, r.PercentDelta, r.Severity)
}

// Recommendation suggests promoting an improved measurement to be the new
// baseline. It is advisory only.
type Recommendation struct {
	Metric       string
	Baseline     float64
	Current      float64
	PercentDelta float64 // improvement, always positive
	SuggestedAt  time.Time
}

// DefaultDirections maps the well-known metric names to their direction.
// Unlisted metrics default to LowerIsBetter.
func DefaultDirections() map[string]Direction {
	return map[string]Direction{
		"fps":             HigherIsBetter,
		"step_throughput": HigherIsBetter,
	}
}

// Engine performs baseline comparisons and keeps the open record list.
type Engine struct {
	store      baseline.Store
	threshold  float64 // degrading percent that opens a record
	improveBar float64 // improving percent that triggers a recommendation
	directions map[string]Direction
	now        func() time.Time

	mu      sync.Mutex
	open    []Record
	pending map[string]Recommendation
}

// NewEngine creates a regression engine. thresholdPercent defaults to 10
// when zero; improveMarginPercent defaults to the threshold.
func NewEngine(store baseline.Store, thresholdPercent, improveMarginPercent float64) *Engine {
	if thresholdPercent <= 0 {
		thresholdPercent = 10
	}
	if improveMarginPercent <= 0 {
		improveMarginPercent = thresholdPercent
	}
	return &Engine{
		store:      store,
		threshold:  thresholdPercent,
		improveBar: improveMarginPercent,
		directions: DefaultDirections(),
		now:        time.Now,
	}
}

// SetDirection overrides the direction convention for a metric.
func (e *Engine) SetDirection(metric string, d Direction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.directions[metric] = d
}

func (e *Engine) direction(metric string) Direction {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.directions[metric]
	if !ok {
		return LowerIsBetter
	}
	return d
}

// Check compares current against the metric's baseline. It returns nil when
// the metric has no baseline (no verdict possible), nil when the value is
// within threshold, and a Record when the degrading delta exceeds the
// threshold. Improving deltas beyond the improvement margin register a
// promotion recommendation instead.
func (e *Engine) Check(ctx context.Context, metric string, current float64) (*Record, error) {
	b, err := e.store.Get(ctx, metric)
	if err != nil {
		return nil, fmt.Errorf("failed to look up baseline for %q: %w", metric, err)
	}
	if b == nil || b.Value == 0 {
		return nil, nil
	}

	// Degrading delta is positive in both conventions: for lower-is-better
	// growth is bad, for higher-is-better shrinkage is bad.
	delta := (current - b.Value) / b.Value * 100
	if e.direction(metric) == HigherIsBetter {
		delta = -delta
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if delta > e.threshold {
		rec := Record{
			Metric:       metric,
			Baseline:     b.Value,
			Current:      current,
			PercentDelta: delta,
			Severity:     e.grade(delta),
			DetectedAt:   e.now(),
		}
		e.open = append(e.open, rec)
		return &rec, nil
	}

	if -delta > e.improveBar {
		if e.pending == nil {
			e.pending = make(map[string]Recommendation)
		}
		e.pending[metric] = Recommendation{
			Metric:       metric,
			Baseline:     b.Value,
			Current:      current,
			PercentDelta: -delta,
			SuggestedAt:  e.now(),
		}
	}
	return nil, nil
}

// grade maps a degrading delta to a severity proportional to how far past
// the threshold it is.
func (e *Engine) grade(delta float64) Severity {
	switch {
	case delta >= e.threshold*4:
		return SeveritySevere
	case delta >= e.threshold*2:
		return SeverityModerate
	default:
		return SeverityMinor
	}
}

// Open returns a copy of the open regression records.
func (e *Engine) Open() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Record, len(e.open))
	copy(out, e.open)
	return out
}

// ClearOpen drops all open records, typically after they are reported.
func (e *Engine) ClearOpen() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = nil
}

// Recommendations returns the pending baseline-promotion recommendations,
// one per metric (the most recent wins).
func (e *Engine) Recommendations() []Recommendation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Recommendation, 0, len(e.pending))
	for _, r := range e.pending {
		out = append(out, r)
	}
	return out
}

// Promote applies a pending recommendation through the store. This is the
// operator action; it fails when no recommendation is pending for the
// metric.
func (e *Engine) Promote(ctx context.Context, metric string) error {
	e.mu.Lock()
	rec, ok := e.pending[metric]
	if ok {
		delete(e.pending, metric)
	}
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending recommendation for %q", metric)
	}
	if err := e.store.Promote(ctx, metric, rec.Current, baseline.SourceCalibrated); err != nil {
		return fmt.Errorf("failed to promote baseline for %q: %w", metric, err)
	}
	return nil
}

// PercentDelta is the raw signed delta helper used in reports: positive
// means current is above baseline regardless of direction convention.
func PercentDelta(baselineValue, current float64) float64 {
	if baselineValue == 0 {
		return math.NaN()
	}
	return (current - baselineValue) / baselineValue * 100
}
