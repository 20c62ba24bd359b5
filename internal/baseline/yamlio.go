package baseline

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// The on-disk exchange format is an opaque metric → value map, so baseline
// files can be produced by external tooling without knowing about sources
// or timestamps.

// ExportFile writes every baseline in the store to a YAML file.
func ExportFile(ctx context.Context, s Store, path string) error {
	all, err := s.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to read baselines: %w", err)
	}

	m := make(map[string]float64, len(all))
	for _, b := range all {
		m[b.Metric] = b.Value
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal baselines: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write baseline file: %w", err)
	}
	return nil
}

// ImportFile loads a metric → value YAML map into the store with source
// "loaded". Existing entries for the same metrics are overwritten; this is
// an operator action, equivalent to promotion.
func ImportFile(ctx context.Context, s Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read baseline file: %w", err)
	}

	var m map[string]float64
	if err := yaml.Unmarshal(data, &m); err != nil {
		return 0, fmt.Errorf("failed to parse baseline file: %w", err)
	}

	now := time.Now().UTC()
	for metric, value := range m {
		b := Baseline{Metric: metric, Value: value, Source: SourceLoaded, UpdatedAt: now}
		if err := s.Put(ctx, b); err != nil {
			return 0, fmt.Errorf("failed to store baseline %q: %w", metric, err)
		}
	}
	return len(m), nil
}
