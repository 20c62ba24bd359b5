// Package baseline stores expected performance values used as regression
// comparison points. Baselines are loaded once at startup; absence of a
// baseline means no regression verdict is possible and is never treated as
// a pass or a fail. Promotion of a new baseline is an explicit operator
// action, never automatic.
package baseline

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Source records where a baseline value came from.
type Source string

const (
	SourceDefault    Source = "default"
	SourceCalibrated Source = "calibrated"
	SourceLoaded     Source = "loaded"
)

// Baseline is the expected value for one metric.
type Baseline struct {
	Metric    string    `yaml:"metric"`
	Value     float64   `yaml:"value"`
	Source    Source    `yaml:"source"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// Store is the baseline lookup and persistence interface. Get returns
// (nil, nil) when no baseline exists for the metric; callers must skip
// the regression verdict in that case rather than guessing.
type Store interface {
	Get(ctx context.Context, metric string) (*Baseline, error)
	Put(ctx context.Context, b Baseline) error
	All(ctx context.Context) ([]Baseline, error)

	// Promote overwrites the stored value for a metric with an
	// operator-approved value. It is the only sanctioned path for
	// replacing an existing baseline with an improved measurement.
	Promote(ctx context.Context, metric string, value float64, source Source) error

	Close() error
}

// Defaults returns the documented default baselines seeded when no
// persisted store exists. Values describe the reference simulation on the
// target hardware tier.
func Defaults() []Baseline {
	now := time.Now().UTC()
	mk := func(metric string, value float64) Baseline {
		return Baseline{Metric: metric, Value: value, Source: SourceDefault, UpdatedAt: now}
	}
	return []Baseline{
		mk("fps", 60),
		mk("frame_time_ms", 16.6),
		mk("heap_bytes", 256<<20),
		mk("cpu_utilization", 55),
		mk("gpu_utilization", 65),
		mk("draw_calls", 1500),
		mk("pathfind_queue_depth", 32),
		mk("step_throughput", 10000),
	}
}

// MemoryStore is an in-process Store used by tests and by runs that opt out
// of persistence.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]Baseline
}

// NewMemoryStore creates a MemoryStore seeded with the given baselines.
func NewMemoryStore(seed []Baseline) *MemoryStore {
	s := &MemoryStore{m: make(map[string]Baseline, len(seed))}
	for _, b := range seed {
		s.m[b.Metric] = b
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, metric string) (*Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.m[metric]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *MemoryStore) Put(_ context.Context, b Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	s.m[b.Metric] = b
	return nil
}

func (s *MemoryStore) All(_ context.Context) ([]Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Baseline, 0, len(s.m))
	for _, b := range s.m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out, nil
}

func (s *MemoryStore) Promote(ctx context.Context, metric string, value float64, source Source) error {
	return s.Put(ctx, Baseline{Metric: metric, Value: value, Source: source, UpdatedAt: time.Now().UTC()})
}

func (s *MemoryStore) Close() error { return nil }
