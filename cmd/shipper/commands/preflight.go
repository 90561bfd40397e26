package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piwi3910/shipper/pkg/types"
)

func newPreflightCommand() *cobra.Command {
	var (
		packages        []string
		allowDirty      bool
		noVerify        bool
		skipOwnership   bool
		strictOwnership bool
	)

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Evaluate whether the plan can succeed",
		Long: `Run the read-only preflight checks over the publish plan: git
cleanliness, token detection, dry-run verification, version existence,
new-crate detection, and ownership.

The verdict is three-valued: proven, not_proven (ownership could not be
determined), or failed. Preflight never mutates registry state.`,
		Example: `  # Preflight the whole workspace
  shipper preflight

  # Strict mode: ownership failures and a missing token are fatal
  shipper preflight --strict-ownership`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			opts := cfg.Options()
			opts.AllowDirty = allowDirty
			opts.NoVerify = noVerify
			opts.SkipOwnershipCheck = skipOwnership
			opts.StrictOwnership = strictOwnership

			ws, err := buildPlan(cmd.Context(), cfg, packages)
			if err != nil {
				return err
			}
			reportSkipped(logger, ws.Skipped)

			eng, err := buildEngine(cfg, opts, logger)
			if err != nil {
				return err
			}

			report, err := eng.Preflight(cmd.Context(), ws, opts)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				fmt.Printf("plan %s: finishability %s (token detected: %v)\n",
					report.PlanID[:12], report.Finishability, report.TokenDetected)
				for _, p := range report.Packages {
					fmt.Printf("  %s@%s: already_published=%v new=%v dry_run=%v ownership=%v\n",
						p.Name, p.Version, p.AlreadyPublished, p.IsNewCrate,
						p.DryRunPassed, p.OwnershipVerified)
				}
			}

			if report.Finishability == types.FinishabilityFailed {
				return types.NewPermanentError("preflight failed", nil).
					WithCode(types.ErrCodePreflightFailed)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&packages, "package", "p", nil, "limit to specific packages")
	cmd.Flags().BoolVar(&allowDirty, "allow-dirty", false, "allow a dirty working tree")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip dry-run verification")
	cmd.Flags().BoolVar(&skipOwnership, "skip-ownership-check", false, "skip the ownership preflight")
	cmd.Flags().BoolVar(&strictOwnership, "strict-ownership", false, "fail preflight when ownership cannot be verified")

	return cmd
}
