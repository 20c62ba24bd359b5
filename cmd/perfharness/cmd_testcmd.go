package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxelforge/perfharness/internal/subsystem"
	"github.com/voxelforge/perfharness/internal/testrun"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the built-in collaborator test suites",
		Long: `Test runs the assertion-driven suites against the simulated
collaborators: every test counts its assertions and fails if any of
them failed. The report covers pass/fail/skip counts, per-run timing,
and a whole-run memory leak check against the allocator's counters.

Examples:
  perfharness test
  perfharness test --stop-on-first-failure --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			stopFirst, _ := cmd.Flags().GetBool("stop-on-first-failure")

			h, err := setupHarness(cmd)
			if err != nil {
				return err
			}
			defer h.close()

			if stopFirst {
				h.cfg.TestRunner.StopOnFirstFailure = true
			}

			treg, err := builtinSuites(h)
			if err != nil {
				return err
			}

			report := h.coord.RunTests(cmd.Context(), treg)

			if jsonOut {
				if err := json.NewEncoder(os.Stdout).Encode(map[string]any{
					"passed":      report.Passed,
					"failed":      report.Failed,
					"skipped":     report.Skipped,
					"aborted":     report.Aborted,
					"duration":    report.Duration.String(),
					"leak_bytes":  report.Leak.Bytes,
					"leak_blocks": report.Leak.Blocks,
				}); err != nil {
					return err
				}
			} else {
				for _, suite := range treg.Suites() {
					for _, test := range suite.Tests() {
						fmt.Printf("  %-5s %s/%s (%s)\n",
							test.LastResult, suite.Name, test.Name, test.LastDuration.Round(time.Microsecond))
						if test.LastResult != testrun.ResultFailed {
							continue
						}
						for _, f := range test.LastFailures {
							fmt.Printf("        %s:%d: %s\n", f.File, f.Line, f.Message)
						}
					}
				}
				fmt.Printf("Tests: %d passed, %d failed, %d skipped in %s\n",
					report.Passed, report.Failed, report.Skipped, report.Duration.Round(time.Millisecond))
				if report.Leak.Leaked() {
					fmt.Printf("Leak report: %d bytes, %d blocks not released\n",
						report.Leak.Bytes, report.Leak.Blocks)
				}
			}

			if report.Failed > 0 {
				return errReportedFailure
			}
			return nil
		},
	}

	cmd.Flags().Bool("stop-on-first-failure", false, "Abort the whole run at the first failed test")
	return cmd
}

// builtinSuites registers the stock suites the CLI ships with. Hosts
// embedding the harness register their own trees instead.
func builtinSuites(h *harness) (*testrun.Registry, error) {
	treg := testrun.NewRegistry()
	reg := h.coord.Registry()

	lifecycle, err := treg.AddSuite("lifecycle", nil, nil)
	if err != nil {
		return nil, err
	}
	if _, err := lifecycle.AddFunc("all subsystems registered", func(tc *testrun.Context) {
		tc.Equal("registered count", int(subsystem.Count), len(reg.IDs()))
		for _, id := range reg.IDs() {
			tc.NotNil(id.String(), reg.Get(id))
		}
	}); err != nil {
		return nil, err
	}
	if _, err := lifecycle.AddFunc("step after init succeeds", func(tc *testrun.Context) {
		for _, id := range reg.IDs() {
			tc.Nil("step "+id.String(), reg.Get(id).Step())
		}
	}); err != nil {
		return nil, err
	}

	counters, err := treg.AddSuite("counters", nil, nil)
	if err != nil {
		return nil, err
	}
	if _, err := counters.AddFunc("simloop publishes a frame rate", func(tc *testrun.Context) {
		c := reg.Get(subsystem.SimLoop).Counters()
		tc.True("fps positive", c.FPS > 0)
		tc.True("frame time positive", c.FrameTime > 0)
	}); err != nil {
		return nil, err
	}
	if _, err := counters.AddFunc("load raises utilization", func(tc *testrun.Context) {
		s := reg.Get(subsystem.Pathfinder)
		before := s.Counters().CPUUtilization
		tc.Nil("apply load", s.StepWithLoad(5000))
		after := s.Counters().CPUUtilization
		tc.True("cpu climbed", after > before)
		tc.Nil("release load", s.StepWithLoad(0))
	}); err != nil {
		return nil, err
	}
	if _, err := counters.AddFunc("heap peak never decreases", func(tc *testrun.Context) {
		s := reg.Get(subsystem.Allocator)
		tc.Nil("apply load", s.StepWithLoad(10_000))
		peak := s.Counters().HeapPeak
		tc.Nil("release load", s.StepWithLoad(0))
		tc.True("peak retained", s.Counters().HeapPeak >= peak)
	}); err != nil {
		return nil, err
	}

	analysis, err := treg.AddSuite("analysis", nil, nil)
	if err != nil {
		return nil, err
	}
	if _, err := analysis.AddFunc("idle run has no bottlenecks", func(tc *testrun.Context) {
		tc.Equal("bottleneck count", 0, len(h.coord.Bottlenecks()))
	}); err != nil {
		return nil, err
	}

	return treg, nil
}
