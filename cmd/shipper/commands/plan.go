package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/piwi3910/shipper/pkg/plan"
)

func newPlanCommand() *cobra.Command {
	var (
		outFile  string
		dotFile  string
		packages []string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the publish plan",
		Long: `Compute the deterministic, dependency-first publish order and its
parallel waves from workspace metadata.

The plan:
  - Restricts the graph to publishable, selected packages
  - Orders packages dependencies-first with name-ordered tie-breaks
  - Partitions the order into waves publishable concurrently
  - Carries a content-addressed plan ID that gates resume`,
		Example: `  # Print the plan
  shipper plan

  # Save the plan and a Graphviz rendering of its waves
  shipper plan --out plan.json --dot plan.dot

  # Plan a subset (internal dependencies are pulled in)
  shipper plan --package my-core --package my-cli`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ws, err := buildPlan(cmd.Context(), cfg, packages)
			if err != nil {
				return err
			}
			reportSkipped(logger, ws.Skipped)

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(plan.ToDOT(ws.Plan)), 0o644); err != nil {
					return fmt.Errorf("failed to write DOT file: %w", err)
				}
			}
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("failed to create plan file: %w", err)
				}
				defer f.Close()
				if err := writeJSON(f, ws.Plan); err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(ws.Plan)
			}

			fmt.Printf("plan %s (%d packages)\n", ws.Plan.PlanID[:12], len(ws.Plan.Packages))
			for _, wave := range plan.Waves(ws.Plan) {
				fmt.Printf("wave %d:\n", wave.Level)
				for _, p := range wave.Packages {
					fmt.Printf("  %s@%s\n", p.Name, p.Version)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output plan file path (JSON)")
	cmd.Flags().StringVar(&dotFile, "dot", "", "output DOT graph file (optional)")
	cmd.Flags().StringSliceVarP(&packages, "package", "p", nil, "limit plan to specific packages")

	return cmd
}
