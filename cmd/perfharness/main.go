package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/voxelforge/perfharness/internal/baseline"
	"github.com/voxelforge/perfharness/internal/config"
	"github.com/voxelforge/perfharness/internal/engine"
	"github.com/voxelforge/perfharness/internal/logging"
	"github.com/voxelforge/perfharness/internal/subsystem"
)

var version = "0.1.0-dev"

// errReportedFailure signals a non-zero exit for a run whose report was
// already printed. Subcommands return it instead of calling os.Exit so
// their deferred harness teardown still runs; main exits without printing
// it a second time.
var errReportedFailure = errors.New("run reported failures")

func main() {
	rootCmd := &cobra.Command{
		Use:   "perfharness",
		Short: "Performance telemetry and validation harness",
		Long: `perfharness samples runtime metrics from simulation collaborators,
flags bottlenecks and baseline regressions, and drives assertion,
integration, and stress runs against them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for tooling consumption)")
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (default ~/.perfharness/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log verbosity: info, debug, or trace")

	// Add subcommands
	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newWatchCmd(),
		newTestCmd(),
		newValidateCmd(),
		newStressCmd(),
		newBaselineCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReportedFailure) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{"version": version})
			} else {
				fmt.Printf("perfharness version %s\n", version)
			}
		},
	}
}

// loadConfig resolves the configuration from the --config flag, the default
// file locations, and environment variables, then applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// harness owns everything a subcommand needs plus its teardown.
type harness struct {
	cfg   *config.Config
	log   *slog.Logger
	coord *engine.Coordinator
	trace *logging.RunLogger
}

// close releases the collaborators, the baseline store, and the run trace.
func (h *harness) close() {
	if err := h.coord.Shutdown(); err != nil {
		h.log.Error("shutdown failed", "error", err)
	}
	h.trace.Close()
}

// setupHarness builds a fully wired coordinator over the simulated
// collaborator registry with initialized subsystems.
func setupHarness(cmd *cobra.Command) (*harness, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	log := logging.NewLogger(cfg.Logging.Level, os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))
	trace := logging.NewRunLogger(cfg.BaselineDir, cfg.Logging.Level)

	reg, err := subsystem.NewSimulatedRegistry()
	if err != nil {
		return nil, err
	}

	var store baseline.Store
	if cfg.BaselineDir != "" {
		store, err = baseline.OpenSQLite(cfg.BaselineDir)
		if err != nil {
			return nil, fmt.Errorf("opening baseline store: %w", err)
		}
	} else {
		store = baseline.NewMemoryStore(baseline.Defaults())
	}

	coord, err := engine.New(cfg, reg, store, log, trace)
	if err != nil {
		store.Close()
		return nil, err
	}

	if err := coord.InitAll(); err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing collaborators: %w", err)
	}

	return &harness{cfg: cfg, log: log, coord: coord, trace: trace}, nil
}
