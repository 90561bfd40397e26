package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/piwi3910/shipper/pkg/engine"
	"github.com/piwi3910/shipper/pkg/history"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit     int
		receiptID int64
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived publish runs",
		Long: `Query the run archive. Every completed run's receipt is recorded in a
SQLite database inside the state directory; this survives state.json
being cleared for the next run.`,
		Example: `  # Last 20 runs
  shipper history

  # Full archived receipt for run row 3
  shipper history --receipt 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts := cfg.Options()
			stateDir := engine.ResolveStateDir(".", opts.StateDir)

			store, err := history.Open(cmd.Context(), filepath.Join(stateDir, "history.db"))
			if err != nil {
				return err
			}
			defer store.Close()

			if receiptID > 0 {
				receipt, err := store.GetReceipt(cmd.Context(), receiptID)
				if err != nil {
					return err
				}
				return printJSON(receipt)
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(runs)
			}
			for _, r := range runs {
				fmt.Printf("%d  %s  plan %s  %s  %d pkg (%d published, %d skipped, %d failed)\n",
					r.ID, r.StartedAt.Format("2006-01-02 15:04"), r.PlanID[:12],
					r.Result, r.Packages, r.Published, r.Skipped, r.Failed)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	cmd.Flags().Int64Var(&receiptID, "receipt", 0, "print the archived receipt for a run row")
	return cmd
}
