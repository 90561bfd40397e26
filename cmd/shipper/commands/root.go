// Package commands wires the shipper CLI.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/piwi3910/shipper/pkg/config"
	"github.com/piwi3910/shipper/pkg/telemetry"
	"github.com/piwi3910/shipper/pkg/types"
)

// Engine-layer exit codes.
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitMisuse          = 2
	ExitLockHeld        = 3
	ExitPlanMismatch    = 4
	ExitPreflightFailed = 5
)

var (
	// Global flags
	configPath   string
	manifestPath string
	verbose      bool
	jsonOutput   bool

	engineVersion = "dev"
)

// Execute runs the root command and maps the result to an exit code.
func Execute(ctx context.Context, version, commit, buildDate string) int {
	engineVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodeFor(err)
	}
	return ExitOK
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shipper",
		Short: "Shipper - Publishing Reliability Engine",
		Long: `Shipper wraps the package manager's upload command for multi-package
workspaces, making publish runs safe to start and safe to re-run.

Features:
  - Deterministic dependency-first publish plans with parallel waves
  - Preflight finishability verdict before anything is uploaded
  - Retry/backoff with ambiguous-failure resolution via registry probes
  - Crash-safe state, receipts, and an append-only event log
  - Resume without double-publishing or skipping`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default shipper.yaml)")
	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest-path", "Cargo.toml", "workspace manifest path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newPreflightCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newMigrateReceiptCommand())

	return rootCmd
}

// loadConfig resolves the config file (explicit flag or workspace
// default).
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultFileName
	}
	return config.Load(path)
}

// newLogger builds the CLI logger from config plus flags.
func newLogger(cfg *config.Config) (*telemetry.Logger, error) {
	lc := cfg.LoggingOrDefault()
	if verbose {
		lc.Level = "debug"
	}
	return telemetry.NewLogger(lc)
}

// exitCodeFor maps classified errors to the engine exit-code table.
func exitCodeFor(err error) int {
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		return ExitMisuse
	}
	switch types.CodeOf(err) {
	case types.ErrCodeLockHeld:
		return ExitLockHeld
	case types.ErrCodePlanMismatch:
		return ExitPlanMismatch
	case types.ErrCodePreflightFailed:
		return ExitPreflightFailed
	default:
		return ExitFailure
	}
}

// usageError marks bad command arguments (exit 2).
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}
