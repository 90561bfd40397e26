package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piwi3910/shipper/pkg/engine"
	"github.com/piwi3910/shipper/pkg/types"
)

// publishFlags are shared between publish and resume.
type publishFlags struct {
	packages        []string
	allowDirty      bool
	noVerify        bool
	skipOwnership   bool
	strictOwnership bool
	force           bool
	forceResume     bool
	maxAttempts     uint32
	parallel        bool
	maxConcurrent   int
	policy          string
}

func (f *publishFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.packages, "package", "p", nil, "limit to specific packages")
	cmd.Flags().BoolVar(&f.allowDirty, "allow-dirty", false, "allow a dirty working tree")
	cmd.Flags().BoolVar(&f.noVerify, "no-verify", false, "skip dry-run verification")
	cmd.Flags().BoolVar(&f.skipOwnership, "skip-ownership-check", false, "skip the ownership preflight")
	cmd.Flags().BoolVar(&f.strictOwnership, "strict-ownership", false, "fail when ownership cannot be verified")
	cmd.Flags().BoolVar(&f.force, "force", false, "break an existing lock")
	cmd.Flags().BoolVar(&f.forceResume, "force-resume", false, "proceed despite a plan-ID mismatch (unsafe)")
	cmd.Flags().Uint32Var(&f.maxAttempts, "max-attempts", 0, "override retry attempt budget")
	cmd.Flags().BoolVar(&f.parallel, "parallel", false, "publish waves concurrently")
	cmd.Flags().IntVar(&f.maxConcurrent, "max-concurrent", 0, "in-wave fan-out for parallel mode")
	cmd.Flags().StringVar(&f.policy, "policy", "", "publish policy: safe, balanced, or fast")
}

func (f *publishFlags) apply(opts *engine.Options) error {
	opts.AllowDirty = f.allowDirty
	opts.NoVerify = f.noVerify
	opts.SkipOwnershipCheck = f.skipOwnership
	opts.StrictOwnership = f.strictOwnership
	opts.Force = f.force
	opts.ForceResume = f.forceResume
	if f.maxAttempts > 0 {
		opts.Retry.MaxAttempts = f.maxAttempts
	}
	if f.parallel {
		opts.Parallel.Enabled = true
	}
	if f.maxConcurrent > 0 {
		opts.Parallel.MaxConcurrent = f.maxConcurrent
	}
	switch f.policy {
	case "":
	case "safe", "balanced", "fast":
		opts.Policy = types.PublishPolicy(f.policy)
	default:
		return usageErrorf("unknown policy %q (want safe, balanced, or fast)", f.policy)
	}
	return nil
}

func newPublishCommand() *cobra.Command {
	var flags publishFlags

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the workspace",
		Long: `Execute the publish plan: acquire the workspace lock, drive each
package through pre-check, upload attempts with classified retries,
and registry readiness, persisting state after every transition.

The engine exits 0 only when every package reached published or
skipped. A receipt is written unconditionally for debugging.`,
		Example: `  # Publish everything, sequentially
  shipper publish

  # Publish dependency waves concurrently
  shipper publish --parallel --max-concurrent 8

  # Take over after a crashed run on the same plan
  shipper publish --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, &flags, false)
		},
	}

	flags.register(cmd)
	return cmd
}

func newResumeCommand() *cobra.Command {
	var flags publishFlags

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted publish run",
		Long: `Resume a run from persisted state. The recomputed plan ID must match
the persisted one unless --force-resume is given. Packages already
published or skipped are untouched; a package whose upload was accepted
but unproven re-enters at the readiness check without re-uploading.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, &flags, true)
		},
	}

	flags.register(cmd)
	return cmd
}

func runPublish(cmd *cobra.Command, flags *publishFlags, resume bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	opts := cfg.Options()
	if err := flags.apply(&opts); err != nil {
		return err
	}

	ws, err := buildPlan(cmd.Context(), cfg, flags.packages)
	if err != nil {
		return err
	}
	reportSkipped(logger, ws.Skipped)

	eng, err := buildEngine(cfg, opts, logger)
	if err != nil {
		return err
	}

	var receipt *types.Receipt
	if resume {
		receipt, err = eng.Resume(cmd.Context(), ws, opts)
	} else {
		receipt, err = eng.Publish(cmd.Context(), ws, opts)
	}

	stateDir := engine.ResolveStateDir(ws.WorkspaceRoot, opts.StateDir)
	recordHistory(cmd.Context(), logger, stateDir, receipt)

	if receipt != nil {
		if jsonOutput {
			if jerr := printJSON(receipt); jerr != nil && err == nil {
				err = jerr
			}
		} else {
			summarizeReceipt(receipt)
			fmt.Printf("receipt: %s\n", stateDir+"/receipt.json")
		}
	}

	return err
}
