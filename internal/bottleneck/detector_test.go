package bottleneck

import (
	"testing"

	"github.com/voxelforge/perfharness/internal/metrics"
)

func mustDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(DefaultThresholds())
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

func cpuSample(util float64) metrics.Sample {
	return metrics.Sample{Category: metrics.CategoryCPU, Utilization: util}
}

func TestThresholdValidate(t *testing.T) {
	tests := []struct {
		name    string
		th      Threshold
		wantErr bool
	}{
		{"valid", Threshold{Metric: "cpu", WarningPercent: 70, CriticalPercent: 90}, false},
		{"warning equals critical", Threshold{Metric: "cpu", WarningPercent: 90, CriticalPercent: 90}, true},
		{"warning above critical", Threshold{Metric: "cpu", WarningPercent: 95, CriticalPercent: 90}, true},
		{"negative warning", Threshold{Metric: "cpu", WarningPercent: -1, CriticalPercent: 90}, true},
		{"critical above 100", Threshold{Metric: "cpu", WarningPercent: 50, CriticalPercent: 101}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.th.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDetectClassification(t *testing.T) {
	d := mustDetector(t)

	tests := []struct {
		name string
		util float64
		want int
		sev  Severity
	}{
		{"below warning", 50, 0, 0},
		{"just below warning", 74.9, 0, 0},
		{"at warning", 75, 1, SeverityWarning},
		{"between", 82, 1, SeverityWarning},
		{"at critical", 90, 1, SeverityCritical},
		{"above critical", 99, 1, SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(cpuSample(tt.util))
			if len(got) != tt.want {
				t.Fatalf("Detect returned %d bottlenecks, want %d", len(got), tt.want)
			}
			if tt.want == 1 && got[0].Severity != tt.sev {
				t.Errorf("Severity = %v, want %v", got[0].Severity, tt.sev)
			}
		})
	}
}

func TestDetectMultipleCoOccur(t *testing.T) {
	d := mustDetector(t)

	got := d.Detect(
		metrics.Sample{Category: metrics.CategoryCPU, Utilization: 95},
		metrics.Sample{Category: metrics.CategoryGPU, Utilization: 40},
		metrics.Sample{Category: metrics.CategoryMemory, Utilization: 72},
	)

	if len(got) != 2 {
		t.Fatalf("Detect returned %d bottlenecks, want 2 (cpu critical + memory warning)", len(got))
	}
	if got[0].Resource != metrics.CategoryCPU || got[0].Severity != SeverityCritical {
		t.Errorf("first = %v", got[0])
	}
	if got[1].Resource != metrics.CategoryMemory || got[1].Severity != SeverityWarning {
		t.Errorf("second = %v", got[1])
	}
}

func TestDetectIsPure(t *testing.T) {
	d := mustDetector(t)
	s := cpuSample(95)

	first := d.Detect(s)
	second := d.Detect(s)

	if len(first) != len(second) {
		t.Fatalf("repeated Detect disagrees: %d vs %d", len(first), len(second))
	}
	if first[0] != second[0] {
		t.Errorf("repeated Detect not idempotent: %v vs %v", first[0], second[0])
	}
}

func TestNewDetectorRejectsUnknownMetric(t *testing.T) {
	_, err := NewDetector([]Threshold{{Metric: "disk", WarningPercent: 50, CriticalPercent: 80}})
	if err == nil {
		t.Fatal("NewDetector accepted a metric that is not a sample category")
	}
}
