package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxelforge/perfharness/internal/metrics"
	"github.com/voxelforge/perfharness/internal/subsystem"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the collaborators for a while and report what was observed",
		Long: `Run steps every collaborator in a loop for the given duration, running
a rate-limited analysis pass between steps. At the end it prints the
latest samples, any bottlenecks from the final pass, and all open
regressions.

Examples:
  perfharness run --for 10s
  perfharness run --for 30s --load 25000 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			duration, _ := cmd.Flags().GetDuration("for")
			load, _ := cmd.Flags().GetInt("load")
			jsonOut, _ := cmd.Flags().GetBool("json")

			h, err := setupHarness(cmd)
			if err != nil {
				return err
			}
			defer h.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), duration)
			defer cancel()

			if load > 0 {
				if err := h.coord.Registry().Get(subsystem.SimLoop).StepWithLoad(load); err != nil {
					return fmt.Errorf("applying load: %w", err)
				}
			}

			ticker := time.NewTicker(h.cfg.Sampling.UpdateInterval)
			defer ticker.Stop()

		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case <-ticker.C:
					if err := h.coord.Step(); err != nil {
						return err
					}
					if _, err := h.coord.Update(ctx); err != nil {
						return err
					}
				}
			}

			return printRunSummary(h, jsonOut)
		},
	}

	cmd.Flags().Duration("for", 5*time.Second, "How long to run")
	cmd.Flags().Int("load", 0, "Synthetic entity load to hold on the simulation loop")
	return cmd
}

func printRunSummary(h *harness, jsonOut bool) error {
	type sampleOut struct {
		Category    string  `json:"category"`
		Utilization float64 `json:"utilization"`
		Thermal     string  `json:"thermal"`
		Estimated   bool    `json:"estimated"`
	}

	var samples []sampleOut
	for _, cat := range metrics.Categories {
		if s, ok := h.coord.LatestSample(cat); ok {
			samples = append(samples, sampleOut{
				Category:    cat.String(),
				Utilization: s.Utilization,
				Thermal:     s.Thermal.String(),
				Estimated:   s.Estimated,
			})
		}
	}

	bottlenecks := h.coord.Bottlenecks()
	regressions := h.coord.OpenRegressions()

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"samples":     samples,
			"bottlenecks": bottlenecks,
			"regressions": regressions,
		})
	}

	fmt.Println("Latest samples:")
	for _, s := range samples {
		estimated := ""
		if s.Estimated {
			estimated = " (estimated)"
		}
		fmt.Printf("  %-7s %5.1f%%  thermal=%s%s\n", s.Category, s.Utilization, s.Thermal, estimated)
	}

	if len(bottlenecks) == 0 {
		fmt.Println("No bottlenecks in the final pass.")
	} else {
		fmt.Println("Bottlenecks:")
		for _, b := range bottlenecks {
			fmt.Printf("  %s\n", b)
		}
	}

	if len(regressions) == 0 {
		fmt.Println("No open regressions.")
	} else {
		fmt.Println("Open regressions:")
		for _, r := range regressions {
			fmt.Printf("  %s\n", r)
		}
	}

	return nil
}
