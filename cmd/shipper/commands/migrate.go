package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/piwi3910/shipper/pkg/state"
)

func newMigrateReceiptCommand() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "migrate-receipt <receipt.json>",
		Short: "Rewrite an old receipt to the current schema",
		Long: `Migrate a receipt written by an older shipper to the current schema
version. A v1 receipt gains the git context and environment fingerprint
fields with safe defaults. Schema upgrades are never applied in place
implicitly; this command is the explicit migration path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			receipt, err := state.MigrateReceiptFile(args[0])
			if err != nil {
				return err
			}
			if write {
				data, err := json.MarshalIndent(receipt, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to serialize migrated receipt: %w", err)
				}
				return os.WriteFile(args[0], data, 0o644)
			}
			return printJSON(receipt)
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "rewrite the file in place instead of printing")
	return cmd
}
