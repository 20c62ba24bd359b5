package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voxelforge/perfharness/internal/integration"
	"github.com/voxelforge/perfharness/internal/subsystem"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run the cross-subsystem integration pair matrix",
		Long: `Validate exercises the fixed matrix of 12 integration pairs across the
eight collaborator sub-agents. At least 5 sub-agents must be ready or
the run aborts before any pair is touched. The run succeeds only with
zero critical failures and at least 10 of 12 pairs passing.

Examples:
  perfharness validate
  perfharness validate --not-ready renderer,audio --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			notReady, _ := cmd.Flags().GetString("not-ready")

			h, err := setupHarness(cmd)
			if err != nil {
				return err
			}
			defer h.close()

			skip, err := parseSubsystemSet(notReady)
			if err != nil {
				return err
			}

			v := h.coord.Validator()
			for id := subsystem.ID(0); id < subsystem.Count; id++ {
				if skip[id] {
					continue
				}
				if err := v.ReportReady(id); err != nil {
					return err
				}
			}

			result, err := h.coord.RunIntegration(cmd.Context())
			if errors.Is(err, integration.ErrQuorumNotMet) {
				return fmt.Errorf("%w: %d of %d sub-agents ready, need %d",
					err, v.ReadyCount(), int(subsystem.Count), h.cfg.Integration.Quorum)
			}
			if err != nil {
				return err
			}

			if jsonOut {
				if err := json.NewEncoder(os.Stdout).Encode(map[string]any{
					"score":    result.Score,
					"total":    result.Total,
					"passed":   result.Passed,
					"failed":   result.Failed,
					"critical": result.Critical,
					"success":  result.Success,
				}); err != nil {
					return err
				}
			} else {
				fmt.Printf("Integration score: %.1f (%d/%d passed, %d failed, %d critical)\n",
					result.Score, result.Passed, result.Total, result.Failed, result.Critical)
				for _, p := range v.Pairs() {
					fmt.Printf("  %-12s -> %-12s %-10s latency=%s\n",
						p.Source, p.Target, p.Status, p.Latency)
				}
				if result.Success {
					fmt.Println("Validation PASSED")
				} else {
					fmt.Println("Validation FAILED")
				}
			}

			if !result.Success {
				return errReportedFailure
			}
			return nil
		},
	}

	cmd.Flags().String("not-ready", "", "Comma-separated sub-agents to leave out of the readiness quorum")
	return cmd
}

// parseSubsystemSet resolves a comma-separated list of subsystem names.
func parseSubsystemSet(s string) (map[subsystem.ID]bool, error) {
	out := make(map[subsystem.ID]bool)
	if s == "" {
		return out, nil
	}
	for _, name := range strings.Split(s, ",") {
		id, err := parseSubsystem(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, nil
}

// parseSubsystem resolves one subsystem name to its ID.
func parseSubsystem(name string) (subsystem.ID, error) {
	for id := subsystem.ID(0); id < subsystem.Count; id++ {
		if id.String() == strings.ToLower(name) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown subsystem %q", name)
}
