package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxelforge/perfharness/internal/metrics"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Continuously print live utilization until interrupted",
		Long: `Watch steps the collaborators and prints one status line per refresh
interval: utilization per category, thermal state, and counts of
bottlenecks and open regressions. Stop with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetDuration("interval")

			h, err := setupHarness(cmd)
			if err != nil {
				return err
			}
			defer h.close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			notifySignals(sigCh)
			go func() {
				<-sigCh
				cancel()
			}()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					fmt.Println()
					return nil
				case <-ticker.C:
					if err := h.coord.Step(); err != nil {
						return err
					}
					if _, err := h.coord.Update(ctx); err != nil {
						return err
					}
					printWatchLine(h)
				}
			}
		},
	}

	cmd.Flags().Duration("interval", time.Second, "Refresh interval")
	return cmd
}

func printWatchLine(h *harness) {
	line := time.Now().Format("15:04:05")
	for _, cat := range metrics.Categories {
		if s, ok := h.coord.LatestSample(cat); ok {
			line += fmt.Sprintf("  %s %5.1f%%", cat, s.Utilization)
		}
	}
	if s, ok := h.coord.LatestSample(metrics.CategoryCPU); ok {
		line += fmt.Sprintf("  thermal=%s", s.Thermal)
	}
	line += fmt.Sprintf("  bottlenecks=%d regressions=%d",
		len(h.coord.Bottlenecks()), len(h.coord.OpenRegressions()))
	fmt.Println(line)
}
