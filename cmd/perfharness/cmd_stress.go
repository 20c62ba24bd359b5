package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voxelforge/perfharness/internal/stress"
)

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Ramp synthetic load until a failure condition or max load",
		Long: `Stress increases load on the target subsystem by the configured ramp
step each iteration until the frame rate floor, the memory ceiling, the
thermal limit, or an unresponsive collaborator terminates the run. The
reported cause is the first condition breached; the peak load is the
last level that completed cleanly.

With --stability the load is held constant for the configured duration
instead, and any single out-of-bound sample fails the run.

Examples:
  perfharness stress
  perfharness stress --variable concurrent-ops --target renderer
  perfharness stress --stability --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			variableName, _ := cmd.Flags().GetString("variable")
			targetName, _ := cmd.Flags().GetString("target")
			stability, _ := cmd.Flags().GetBool("stability")

			variable, err := parseVariable(variableName)
			if err != nil {
				return err
			}
			target, err := parseSubsystem(targetName)
			if err != nil {
				return err
			}

			h, err := setupHarness(cmd)
			if err != nil {
				return err
			}
			defer h.close()

			var run stress.Run
			if stability {
				run, err = h.coord.RunStability(cmd.Context(), target)
			} else {
				run, err = h.coord.RunStress(cmd.Context(), variable, target)
			}
			if err != nil {
				return err
			}

			if jsonOut {
				if err := json.NewEncoder(os.Stdout).Encode(map[string]any{
					"variable":   run.Variable.String(),
					"cause":      run.Cause.String(),
					"load":       run.LoadLevel,
					"max_load":   run.MaxLoad,
					"peak_load":  run.PeakLoad,
					"iterations": run.Iterations,
					"samples":    run.Samples,
					"elapsed":    run.Elapsed.String(),
				}); err != nil {
					return err
				}
			} else if stability {
				fmt.Printf("Stability run: cause=%s samples=%d elapsed=%s\n",
					run.Cause, run.Samples, run.Elapsed)
			} else {
				fmt.Printf("Stress run (%s): cause=%s load=%d peak=%d iterations=%d elapsed=%s\n",
					run.Variable, run.Cause, run.LoadLevel, run.PeakLoad, run.Iterations, run.Elapsed)
			}
			if run.Cause != stress.CauseNone {
				return errReportedFailure
			}
			return nil
		},
	}

	cmd.Flags().String("variable", "entity-count", "Ramp variable: entity-count, allocation-burst, or concurrent-ops")
	cmd.Flags().String("target", "simloop", "Target subsystem")
	cmd.Flags().Bool("stability", false, "Hold the start load instead of ramping")
	return cmd
}

// parseVariable resolves a ramp variable name.
func parseVariable(name string) (stress.Variable, error) {
	for _, v := range []stress.Variable{stress.EntityCount, stress.AllocationBurst, stress.ConcurrentOps} {
		if v.String() == name {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown stress variable %q", name)
}
