package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	config := Default()

	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
	if config.Sampling.UpdateInterval != 100*time.Millisecond {
		t.Errorf("expected UpdateInterval 100ms, got %v", config.Sampling.UpdateInterval)
	}
	if config.Regression.ThresholdPercent != 10 {
		t.Errorf("expected ThresholdPercent 10, got %f", config.Regression.ThresholdPercent)
	}
	if config.TestRunner.StopOnFirstFailure {
		t.Error("expected StopOnFirstFailure to be false by default")
	}
	if config.Integration.Quorum != 5 {
		t.Errorf("expected Quorum 5, got %d", config.Integration.Quorum)
	}
	if config.Integration.MinPassed != 10 {
		t.Errorf("expected MinPassed 10, got %d", config.Integration.MinPassed)
	}
	if config.Stress.RampStepPercent != 12.5 {
		t.Errorf("expected RampStepPercent 12.5, got %f", config.Stress.RampStepPercent)
	}
	if config.Stress.FPSFloor != 15 {
		t.Errorf("expected FPSFloor 15, got %f", config.Stress.FPSFloor)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: debug

sampling:
  update_interval: 250ms

thresholds:
  - metric: cpu
    warning_percent: 60
    critical_percent: 80

regression:
  threshold_percent: 15

test_runner:
  stop_on_first_failure: true
  test_timeout: 30s

integration:
  quorum: 6
  min_passed: 11

stress:
  start_load: 2000
  max_load: 50000
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Logging.Level != "debug" {
		t.Errorf("expected Level 'debug', got '%s'", config.Logging.Level)
	}
	if config.Sampling.UpdateInterval != 250*time.Millisecond {
		t.Errorf("expected UpdateInterval 250ms, got %v", config.Sampling.UpdateInterval)
	}
	if len(config.Thresholds) != 1 || config.Thresholds[0].Metric != "cpu" {
		t.Errorf("expected one cpu threshold, got %+v", config.Thresholds)
	}
	if config.Regression.ThresholdPercent != 15 {
		t.Errorf("expected ThresholdPercent 15, got %f", config.Regression.ThresholdPercent)
	}
	if !config.TestRunner.StopOnFirstFailure {
		t.Error("expected StopOnFirstFailure to be true")
	}
	if config.TestRunner.TestTimeout != 30*time.Second {
		t.Errorf("expected TestTimeout 30s, got %v", config.TestRunner.TestTimeout)
	}
	if config.Integration.Quorum != 6 {
		t.Errorf("expected Quorum 6, got %d", config.Integration.Quorum)
	}
	if config.Stress.StartLoad != 2000 || config.Stress.MaxLoad != 50000 {
		t.Errorf("expected stress 2000/50000, got %d/%d", config.Stress.StartLoad, config.Stress.MaxLoad)
	}

	// Sections absent from the file keep their defaults.
	if config.Integration.PairLatencyThreshold != 250*time.Millisecond {
		t.Errorf("expected default PairLatencyThreshold, got %v", config.Integration.PairLatencyThreshold)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PERFHARNESS_LOG_LEVEL", "trace")
	t.Setenv("PERFHARNESS_UPDATE_INTERVAL", "50ms")
	t.Setenv("PERFHARNESS_REGRESSION_THRESHOLD", "20")
	t.Setenv("PERFHARNESS_STOP_ON_FIRST_FAILURE", "1")
	t.Setenv("PERFHARNESS_QUORUM", "7")
	t.Setenv("PERFHARNESS_BASELINE_DIR", "/tmp/ph-test")

	config := Default()
	applyEnvOverrides(config)

	if config.Logging.Level != "trace" {
		t.Errorf("expected Level 'trace', got '%s'", config.Logging.Level)
	}
	if config.Sampling.UpdateInterval != 50*time.Millisecond {
		t.Errorf("expected UpdateInterval 50ms, got %v", config.Sampling.UpdateInterval)
	}
	if config.Regression.ThresholdPercent != 20 {
		t.Errorf("expected ThresholdPercent 20, got %f", config.Regression.ThresholdPercent)
	}
	if !config.TestRunner.StopOnFirstFailure {
		t.Error("expected StopOnFirstFailure override to take effect")
	}
	if config.Integration.Quorum != 7 {
		t.Errorf("expected Quorum 7, got %d", config.Integration.Quorum)
	}
	if config.BaselineDir != "/tmp/ph-test" {
		t.Errorf("expected BaselineDir override, got '%s'", config.BaselineDir)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"zero interval", func(c *Config) { c.Sampling.UpdateInterval = 0 }, "update_interval"},
		{"warning above critical", func(c *Config) {
			c.Thresholds = []ThresholdConfig{{Metric: "cpu", WarningPercent: 90, CriticalPercent: 75}}
		}, "must be below critical"},
		{"unnamed threshold", func(c *Config) {
			c.Thresholds = []ThresholdConfig{{WarningPercent: 50, CriticalPercent: 75}}
		}, "missing metric"},
		{"zero regression threshold", func(c *Config) { c.Regression.ThresholdPercent = 0 }, "threshold_percent"},
		{"negative test timeout", func(c *Config) { c.TestRunner.TestTimeout = -time.Second }, "test_timeout"},
		{"quorum too high", func(c *Config) { c.Integration.Quorum = 9 }, "quorum"},
		{"min passed too high", func(c *Config) { c.Integration.MinPassed = 13 }, "min_passed"},
		{"max below start", func(c *Config) { c.Stress.MaxLoad = c.Stress.StartLoad - 1 }, "max_load"},
		{"zero ramp step", func(c *Config) { c.Stress.RampStepPercent = 0 }, "ramp_step_percent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("error %q does not mention %q", err, tt.substr)
			}
		})
	}
}
