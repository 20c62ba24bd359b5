// Package bottleneck classifies resource samples against configured
// warning/critical thresholds. Detection is pure: it reads samples and
// returns a set of bottlenecks without mutating any history.
package bottleneck

import (
	"fmt"

	"github.com/voxelforge/perfharness/internal/metrics"
)

// Severity grades a detected bottleneck.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityCritical
)

func (s Severity) String() string {
	if s == SeverityCritical {
		return "critical"
	}
	return "warning"
}

// Threshold pairs a metric name with its warning and critical utilization
// levels. WarningPercent must be strictly below CriticalPercent.
type Threshold struct {
	Metric          string  `yaml:"metric"`
	WarningPercent  float64 `yaml:"warning_percent"`
	CriticalPercent float64 `yaml:"critical_percent"`
}

// Validate checks the warning < critical invariant.
func (t Threshold) Validate() error {
	if t.WarningPercent >= t.CriticalPercent {
		return fmt.Errorf("threshold %q: warning %.1f%% must be below critical %.1f%%", t.Metric, t.WarningPercent, t.CriticalPercent)
	}
	if t.WarningPercent < 0 || t.CriticalPercent > 100 {
		return fmt.Errorf("threshold %q: bounds outside [0,100]", t.Metric)
	}
	return nil
}

// Bottleneck reports one resource exceeding a threshold in one sample.
type Bottleneck struct {
	Resource  metrics.Category
	Severity  Severity
	Value     float64 // observed utilization percent
	Threshold Threshold
}

func (b Bottleneck) String() string {
	return fmt.Sprintf("%s %s: %.1f%% (warn %.1f%%, crit %.1f%%)",
		b.Resource, b.Severity, b.Value, b.Threshold.WarningPercent, b.Threshold.CriticalPercent)
}

// DefaultThresholds returns the stock utilization thresholds per category.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{Metric: "cpu", WarningPercent: 75, CriticalPercent: 90},
		{Metric: "gpu", WarningPercent: 80, CriticalPercent: 95},
		{Metric: "memory", WarningPercent: 70, CriticalPercent: 85},
	}
}

// Detector evaluates samples against a fixed threshold table.
type Detector struct {
	byCategory map[metrics.Category]Threshold
}

// NewDetector builds a detector from the given thresholds. Metric names
// must resolve to sample categories ("cpu", "gpu", "memory").
func NewDetector(thresholds []Threshold) (*Detector, error) {
	byCat := make(map[metrics.Category]Threshold, len(thresholds))
	for _, t := range thresholds {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		cat, err := categoryFor(t.Metric)
		if err != nil {
			return nil, err
		}
		byCat[cat] = t
	}
	return &Detector{byCategory: byCat}, nil
}

func categoryFor(metric string) (metrics.Category, error) {
	for _, c := range metrics.Categories {
		if c.String() == metric {
			return c, nil
		}
	}
	return 0, fmt.Errorf("threshold metric %q does not name a sample category", metric)
}

// Detect evaluates one or more samples and returns every bottleneck found.
// Multiple bottlenecks may co-occur; the result is a set, not a single
// verdict. Samples from categories without a configured threshold are
// skipped.
func (d *Detector) Detect(samples ...metrics.Sample) []Bottleneck {
	var out []Bottleneck
	for _, s := range samples {
		th, ok := d.byCategory[s.Category]
		if !ok {
			continue
		}
		switch {
		case s.Utilization >= th.CriticalPercent:
			out = append(out, Bottleneck{Resource: s.Category, Severity: SeverityCritical, Value: s.Utilization, Threshold: th})
		case s.Utilization >= th.WarningPercent:
			out = append(out, Bottleneck{Resource: s.Category, Severity: SeverityWarning, Value: s.Utilization, Threshold: th})
		}
	}
	return out
}
