package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/piwi3910/shipper/pkg/config"
	"github.com/piwi3910/shipper/pkg/engine"
	"github.com/piwi3910/shipper/pkg/history"
	"github.com/piwi3910/shipper/pkg/plan"
	"github.com/piwi3910/shipper/pkg/registry"
	"github.com/piwi3910/shipper/pkg/telemetry"
	"github.com/piwi3910/shipper/pkg/types"
	"github.com/piwi3910/shipper/pkg/webhook"
	"github.com/piwi3910/shipper/pkg/workspace"
)

// buildPlan loads workspace metadata and computes the publish plan.
func buildPlan(ctx context.Context, cfg *config.Config, selected []string) (*plan.Result, error) {
	meta, err := workspace.Load(ctx, manifestPath)
	if err != nil {
		return nil, err
	}
	return plan.Build(meta, cfg.RegistryOrDefault(), selected)
}

// buildEngine assembles an engine with the production collaborators.
func buildEngine(cfg *config.Config, opts engine.Options, logger *telemetry.Logger) (*engine.Engine, error) {
	tracer, err := telemetry.NewTracer(cfg.TracingOrDefault(), engineVersion)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Deps{
		Registry: registry.NewClient(cfg.RegistryOrDefault(), engineVersion),
		Logger:   logger,
		Metrics:  telemetry.NewMetrics(cfg.Metrics.Enabled),
		Tracer:   tracer,
		Webhook:  webhook.NewClient(opts.Webhook, logger),
		Version:  engineVersion,
	}), nil
}

// recordHistory archives the receipt; failures are reported, not
// fatal.
func recordHistory(ctx context.Context, logger *telemetry.Logger, stateDir string, receipt *types.Receipt) {
	if receipt == nil {
		return
	}
	store, err := history.Open(ctx, filepath.Join(stateDir, "history.db"))
	if err != nil {
		logger.WithError(err).Warn("failed to open run history")
		return
	}
	defer store.Close()
	if err := store.RecordReceipt(ctx, receipt); err != nil {
		logger.WithError(err).Warn("failed to archive receipt")
	}
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	return writeJSON(os.Stdout, v)
}

// writeJSON writes v as indented JSON to w.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportSkipped prints the packages excluded from the plan.
func reportSkipped(logger *telemetry.Logger, skipped []types.SkippedPackage) {
	for _, s := range skipped {
		logger.Infof("skipped %s@%s: %s", s.Name, s.Version, s.Reason)
	}
}

// summarizeReceipt prints the per-package outcomes.
func summarizeReceipt(receipt *types.Receipt) {
	for _, p := range receipt.Packages {
		line := fmt.Sprintf("%s@%s: %s", p.Name, p.Version, p.Status)
		if p.Reason != "" {
			line += " (" + p.Reason + ")"
		}
		fmt.Println(line)
	}
}
