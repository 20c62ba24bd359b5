// Package config provides unified configuration loading for perfharness.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all perfharness configuration settings.
type Config struct {
	// Logging contains settings for operational and run-trace logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Sampling contains settings for metric collection.
	Sampling SamplingConfig `json:"sampling" yaml:"sampling"`

	// Thresholds lists per-resource bottleneck thresholds ("cpu", "gpu",
	// "memory"). Resources without an entry keep the built-in defaults.
	Thresholds []ThresholdConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Regression contains settings for baseline-delta detection.
	Regression RegressionConfig `json:"regression" yaml:"regression"`

	// TestRunner contains settings for assertion-driven test runs.
	TestRunner TestRunnerConfig `json:"test_runner" yaml:"test_runner"`

	// Integration contains settings for cross-subsystem validation.
	Integration IntegrationConfig `json:"integration" yaml:"integration"`

	// Stress contains settings for ramped load runs.
	Stress StressConfig `json:"stress" yaml:"stress"`

	// BaselineDir is the directory holding the baseline database.
	// Defaults to ~/.perfharness.
	BaselineDir string `json:"baseline_dir,omitempty" yaml:"baseline_dir,omitempty"`
}

// LoggingConfig configures perfharness logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables run tracing to <baseline_dir>/runs.jsonl.
	// "trace" additionally includes per-sample measurements.
	Level string `json:"level" yaml:"level"`
}

// SamplingConfig configures the metric sampler.
type SamplingConfig struct {
	// UpdateInterval is the minimum time between engine update passes.
	// Update calls arriving sooner are coalesced into no-ops.
	UpdateInterval time.Duration `json:"update_interval" yaml:"update_interval"`
}

// ThresholdConfig overrides the bottleneck thresholds for one metric.
type ThresholdConfig struct {
	Metric          string  `json:"metric" yaml:"metric"`
	WarningPercent  float64 `json:"warning_percent" yaml:"warning_percent"`
	CriticalPercent float64 `json:"critical_percent" yaml:"critical_percent"`
}

// RegressionConfig configures baseline-delta regression detection.
type RegressionConfig struct {
	// ThresholdPercent is the degradation delta that opens a regression.
	ThresholdPercent float64 `json:"threshold_percent" yaml:"threshold_percent"`

	// ImprovementMarginPercent is the improvement delta that produces a
	// baseline update recommendation. Baselines are never promoted
	// automatically.
	ImprovementMarginPercent float64 `json:"improvement_margin_percent" yaml:"improvement_margin_percent"`
}

// TestRunnerConfig configures assertion-driven test runs.
type TestRunnerConfig struct {
	// StopOnFirstFailure aborts the whole run at the first failed test.
	StopOnFirstFailure bool `json:"stop_on_first_failure" yaml:"stop_on_first_failure"`

	// TestTimeout is an optional per-test deadline. Zero disables it.
	TestTimeout time.Duration `json:"test_timeout,omitempty" yaml:"test_timeout,omitempty"`
}

// IntegrationConfig configures cross-subsystem validation runs.
type IntegrationConfig struct {
	// Quorum is the absolute number of ready sub-agents required before
	// any pair is exercised.
	Quorum int `json:"quorum" yaml:"quorum"`

	// MinPassed is the minimum number of passed pairs for a successful run.
	MinPassed int `json:"min_passed" yaml:"min_passed"`

	// PairLatencyThreshold fails a pair whose scenario exceeds it.
	PairLatencyThreshold time.Duration `json:"pair_latency_threshold" yaml:"pair_latency_threshold"`
}

// StressConfig configures ramped stress and stability runs.
type StressConfig struct {
	// StartLoad is the initial synthetic load.
	StartLoad int `json:"start_load" yaml:"start_load"`

	// MaxLoad caps the ramp. Reaching it without a breach is success.
	MaxLoad int `json:"max_load" yaml:"max_load"`

	// RampStepPercent is the per-iteration load increase.
	RampStepPercent float64 `json:"ramp_step_percent" yaml:"ramp_step_percent"`

	// FPSFloor terminates the run when the target's frame rate drops
	// below it.
	FPSFloor float64 `json:"fps_floor" yaml:"fps_floor"`

	// MemoryCeiling terminates the run when the target's heap exceeds
	// it. Zero disables the check.
	MemoryCeiling uint64 `json:"memory_ceiling,omitempty" yaml:"memory_ceiling,omitempty"`

	// HoldDuration is how long stability runs hold the start load.
	HoldDuration time.Duration `json:"hold_duration" yaml:"hold_duration"`

	// SampleInterval is the gap between stability samples.
	SampleInterval time.Duration `json:"sample_interval" yaml:"sample_interval"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Sampling: SamplingConfig{
			UpdateInterval: 100 * time.Millisecond,
		},
		Regression: RegressionConfig{
			ThresholdPercent:         10,
			ImprovementMarginPercent: 5,
		},
		TestRunner: TestRunnerConfig{
			StopOnFirstFailure: false,
		},
		Integration: IntegrationConfig{
			Quorum:               5,
			MinPassed:            10,
			PairLatencyThreshold: 250 * time.Millisecond,
		},
		Stress: StressConfig{
			StartLoad:       1000,
			MaxLoad:         100_000,
			RampStepPercent: 12.5,
			FPSFloor:        15,
			HoldDuration:    5 * time.Minute,
			SampleInterval:  time.Second,
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.perfharness/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".perfharness", "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	if config.BaselineDir == "" && homeDir != "" {
		config.BaselineDir = filepath.Join(homeDir, ".perfharness")
	}

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	if c.Sampling.UpdateInterval <= 0 {
		return fmt.Errorf("update_interval must be positive, got %v", c.Sampling.UpdateInterval)
	}

	for _, t := range c.Thresholds {
		if t.Metric == "" {
			return fmt.Errorf("threshold entry missing metric name")
		}
		if t.WarningPercent < 0 || t.CriticalPercent > 100 {
			return fmt.Errorf("%s: thresholds must be between 0 and 100", t.Metric)
		}
		if t.WarningPercent >= t.CriticalPercent {
			return fmt.Errorf("%s: warning threshold %.1f must be below critical %.1f",
				t.Metric, t.WarningPercent, t.CriticalPercent)
		}
	}

	if c.Regression.ThresholdPercent <= 0 {
		return fmt.Errorf("regression threshold_percent must be positive, got %f", c.Regression.ThresholdPercent)
	}
	if c.Regression.ImprovementMarginPercent < 0 {
		return fmt.Errorf("improvement_margin_percent must be non-negative, got %f", c.Regression.ImprovementMarginPercent)
	}

	if c.TestRunner.TestTimeout < 0 {
		return fmt.Errorf("test_timeout must be non-negative, got %v", c.TestRunner.TestTimeout)
	}

	if c.Integration.Quorum < 1 || c.Integration.Quorum > 8 {
		return fmt.Errorf("quorum must be between 1 and 8, got %d", c.Integration.Quorum)
	}
	if c.Integration.MinPassed < 0 || c.Integration.MinPassed > 12 {
		return fmt.Errorf("min_passed must be between 0 and 12, got %d", c.Integration.MinPassed)
	}
	if c.Integration.PairLatencyThreshold <= 0 {
		return fmt.Errorf("pair_latency_threshold must be positive, got %v", c.Integration.PairLatencyThreshold)
	}

	if c.Stress.StartLoad <= 0 {
		return fmt.Errorf("stress start_load must be positive, got %d", c.Stress.StartLoad)
	}
	if c.Stress.MaxLoad < c.Stress.StartLoad {
		return fmt.Errorf("stress max_load %d must be at least start_load %d", c.Stress.MaxLoad, c.Stress.StartLoad)
	}
	if c.Stress.RampStepPercent <= 0 {
		return fmt.Errorf("ramp_step_percent must be positive, got %f", c.Stress.RampStepPercent)
	}
	if c.Stress.FPSFloor < 0 {
		return fmt.Errorf("fps_floor must be non-negative, got %f", c.Stress.FPSFloor)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("PERFHARNESS_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("PERFHARNESS_BASELINE_DIR"); v != "" {
		config.BaselineDir = v
	}

	if v := os.Getenv("PERFHARNESS_UPDATE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Sampling.UpdateInterval = d
		}
	}

	if v := os.Getenv("PERFHARNESS_REGRESSION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Regression.ThresholdPercent = f
		}
	}

	if v := os.Getenv("PERFHARNESS_STOP_ON_FIRST_FAILURE"); v != "" {
		config.TestRunner.StopOnFirstFailure = v == "true" || v == "1"
	}

	if v := os.Getenv("PERFHARNESS_QUORUM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Integration.Quorum = n
		}
	}
}
