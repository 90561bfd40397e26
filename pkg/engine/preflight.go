package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/piwi3910/shipper/pkg/plan"
	"github.com/piwi3910/shipper/pkg/state"
	"github.com/piwi3910/shipper/pkg/types"
)

// Preflight evaluates whether the plan can succeed without mutating
// registry state: git cleanliness, token detection, dry-run
// verification, version existence, new-crate detection, and ownership.
// The result is a three-valued finishability verdict.
func (e *Engine) Preflight(ctx context.Context, ws *plan.Result, opts Options) (*types.PreflightReport, error) {
	p := ws.Plan
	effects := applyPolicy(opts)

	store := e.deps.Store
	if store == nil {
		store = state.NewDirStore(ResolveStateDir(ws.WorkspaceRoot, opts.StateDir))
	}
	_ = e.appendEvents(store, types.NewEvent(types.EventPreflightStarted, "all", nil))

	if !opts.AllowDirty {
		e.deps.Reporter.Info("checking git cleanliness...")
		if err := e.deps.EnsureClean(ws.WorkspaceRoot); err != nil {
			return nil, err
		}
	}

	token, err := e.deps.ResolveToken(p.Registry.Name)
	if err != nil {
		return nil, err
	}
	tokenDetected := token != ""

	if effects.strictOwnership && !tokenDetected {
		return nil, types.NewPermanentError(
			"strict ownership requested but no token found (set REGISTRY_TOKEN or log in)", nil).
			WithCode(types.ErrCodePreflightFailed)
	}

	var authType types.AuthType
	if tokenDetected {
		authType = types.AuthTypeToken
	}

	// Workspace-level dry-run: one invocation covers the selection.
	workspaceDryRunPassed := true
	if effects.runDryRun && opts.VerifyMode == types.VerifyWorkspace {
		e.deps.Reporter.Info("running workspace dry-run verification...")
		out, rerr := e.deps.Runner.Run(ctx, dryRunCommand(ws.WorkspaceRoot, "", p.Registry.Name, opts))
		workspaceDryRunPassed = rerr == nil && out.ExitCode == 0
		_ = e.appendEvents(store, types.NewEvent(types.EventPreflightWorkspaceCheck, "all", map[string]interface{}{
			"passed": workspaceDryRunPassed,
		}))
	} else if !effects.runDryRun || opts.VerifyMode == types.VerifyNone {
		e.deps.Reporter.Info("skipping dry-run (policy, --no-verify, or verify_mode=none)")
	}

	// Per-package dry-run results for package mode.
	perPackageDryRun := make(map[string]bool)
	if effects.runDryRun && opts.VerifyMode == types.VerifyPackage {
		e.deps.Reporter.Info("running per-package dry-run verification...")
		for _, pkg := range p.Packages {
			out, rerr := e.deps.Runner.Run(ctx, dryRunCommand(ws.WorkspaceRoot, pkg.Name, p.Registry.Name, opts))
			passed := rerr == nil && out.ExitCode == 0
			if !passed {
				e.deps.Reporter.Warn(fmt.Sprintf("%s: dry-run failed", pkg.Key()))
			}
			perPackageDryRun[pkg.Name] = passed
		}
	}

	e.deps.Reporter.Info("checking packages against registry...")
	packages := make([]types.PreflightPackage, 0, len(p.Packages))
	anyOwnershipUnverified := false

	for _, pkg := range p.Packages {
		alreadyPublished, err := e.deps.Registry.VersionExists(ctx, pkg.Name, pkg.Version)
		if err != nil {
			return nil, err
		}
		crateExists, err := e.deps.Registry.CrateExists(ctx, pkg.Name)
		if err != nil {
			return nil, err
		}

		dryRunPassed := workspaceDryRunPassed
		if opts.VerifyMode == types.VerifyPackage {
			if passed, ok := perPackageDryRun[pkg.Name]; ok {
				dryRunPassed = passed
			}
		}

		ownershipVerified := false
		if tokenDetected && effects.checkOwnership {
			if effects.strictOwnership {
				// Strict mode surfaces ownership errors as preflight
				// failures.
				if _, oerr := e.deps.Registry.ListOwners(ctx, pkg.Name, token); oerr != nil {
					return nil, types.NewPermanentError(
						fmt.Sprintf("ownership check failed for %s", pkg.Name), oerr).
						WithCode(types.ErrCodePreflightFailed)
				}
				ownershipVerified = true
			} else {
				verified, oerr := e.deps.Registry.VerifyOwnership(ctx, pkg.Name, token)
				if oerr != nil {
					return nil, oerr
				}
				if !verified {
					e.deps.Reporter.Warn(fmt.Sprintf(
						"owners preflight failed for %s; continuing (non-strict mode)", pkg.Name))
				}
				ownershipVerified = verified
			}
		}
		if !ownershipVerified && !alreadyPublished {
			anyOwnershipUnverified = true
		}

		if !crateExists {
			_ = e.appendEvents(store, types.NewEvent(types.EventPreflightNewCrate, pkg.Key(), map[string]interface{}{
				"crate_name": pkg.Name,
			}))
		}
		if tokenDetected && effects.checkOwnership {
			_ = e.appendEvents(store, types.NewEvent(types.EventPreflightOwnership, pkg.Key(), map[string]interface{}{
				"crate_name": pkg.Name,
				"verified":   ownershipVerified,
			}))
		}

		packages = append(packages, types.PreflightPackage{
			Name:              pkg.Name,
			Version:           pkg.Version,
			AlreadyPublished:  alreadyPublished,
			IsNewCrate:        !crateExists,
			AuthType:          authType,
			OwnershipVerified: ownershipVerified,
			DryRunPassed:      dryRunPassed,
		})
	}

	// Already-published packages skip at execute time, so their
	// dry-run outcome does not gate the verdict.
	allDryRunPassed := true
	for _, pkg := range packages {
		if !pkg.DryRunPassed && !pkg.AlreadyPublished {
			allDryRunPassed = false
			break
		}
	}

	finishability := types.FinishabilityProven
	switch {
	case !allDryRunPassed:
		finishability = types.FinishabilityFailed
	case anyOwnershipUnverified:
		finishability = types.FinishabilityNotProven
	}

	_ = e.appendEvents(store, types.NewEvent(types.EventPreflightComplete, "all", map[string]interface{}{
		"finishability": string(finishability),
	}))

	return &types.PreflightReport{
		PlanID:        p.PlanID,
		TokenDetected: tokenDetected,
		Finishability: finishability,
		Packages:      packages,
		Timestamp:     time.Now().UTC(),
	}, nil
}
