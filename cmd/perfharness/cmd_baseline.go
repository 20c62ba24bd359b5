package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voxelforge/perfharness/internal/baseline"
)

func newBaselineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Inspect and manage performance baselines",
	}

	cmd.AddCommand(
		newBaselineShowCmd(),
		newBaselineCalibrateCmd(),
		newBaselinePromoteCmd(),
		newBaselineExportCmd(),
		newBaselineImportCmd(),
	)
	return cmd
}

func newBaselineShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List every stored baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			h, err := setupHarness(cmd)
			if err != nil {
				return err
			}
			defer h.close()

			all, err := h.coord.Baselines().All(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(all)
			}
			for _, b := range all {
				fmt.Printf("  %-22s %14.2f  %-10s %s\n",
					b.Metric, b.Value, b.Source, b.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newBaselineCalibrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Measure the collaborators and store the averages as baselines",
		Long: `Calibrate steps the collaborators for a number of rounds, averages every
tracked metric, and stores the averages as calibrated baselines. This is
an explicit operator action; measurement alone never changes a baseline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rounds, _ := cmd.Flags().GetInt("rounds")

			h, err := setupHarness(cmd)
			if err != nil {
				return err
			}
			defer h.close()

			if err := h.coord.Calibrate(cmd.Context(), rounds); err != nil {
				return err
			}
			fmt.Printf("Calibrated baselines over %d rounds.\n", rounds)
			return nil
		},
	}

	cmd.Flags().Int("rounds", 10, "Measurement rounds to average")
	return cmd
}

func newBaselinePromoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote <metric>",
		Short: "Accept a pending baseline update recommendation",
		Long: `Promote applies the pending recommendation for a metric, making the
improved measurement the new baseline. Recommendations are produced by
analysis passes that observe a sustained improvement; promotion is the
only path that changes a baseline from measured data.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := setupHarness(cmd)
			if err != nil {
				return err
			}
			defer h.close()

			if err := h.coord.PromoteBaseline(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Promoted baseline for %s.\n", args[0])
			return nil
		},
	}
}

func newBaselineExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write all baselines to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := setupHarness(cmd)
			if err != nil {
				return err
			}
			defer h.close()

			if err := baseline.ExportFile(cmd.Context(), h.coord.Baselines(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Exported baselines to %s.\n", args[0])
			return nil
		},
	}
}

func newBaselineImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load baselines from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := setupHarness(cmd)
			if err != nil {
				return err
			}
			defer h.close()

			n, err := baseline.ImportFile(cmd.Context(), h.coord.Baselines(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d baselines from %s.\n", n, args[0])
			return nil
		},
	}
}
