// Package engine drives publish plans through their state machine:
// preflight evaluation, sequential and wave-parallel execution, retry
// classification, readiness probing, and durable state transitions.
package engine

import (
	"time"

	"github.com/piwi3910/shipper/pkg/types"
)

// Options are the validated runtime settings the engine consumes.
// Produced by the config layer and command-line flags.
type Options struct {
	// AllowDirty skips the git cleanliness gate.
	AllowDirty bool

	// SkipOwnershipCheck disables the ownership preflight.
	SkipOwnershipCheck bool

	// StrictOwnership promotes ownership failures (and a missing
	// token) to preflight failures.
	StrictOwnership bool

	// NoVerify skips the dry-run verification.
	NoVerify bool

	// StateDir is the state directory; relative paths resolve against
	// the workspace root.
	StateDir string

	// Force breaks an existing lock unconditionally.
	Force bool

	// ForceResume proceeds despite a plan-ID mismatch on resume.
	ForceResume bool

	// LockStaleAfter is the age beyond which a lock is reaped.
	LockStaleAfter time.Duration

	// OutputLines bounds captured subprocess output tails.
	OutputLines int

	Policy     types.PublishPolicy
	VerifyMode types.VerifyMode
	Retry      types.RetryConfig
	Readiness  types.ReadinessConfig
	Parallel   types.ParallelConfig
	Webhook    types.WebhookConfig
}

// DefaultOptions returns the stock runtime settings.
func DefaultOptions() Options {
	return Options{
		StateDir:       ".shipper",
		LockStaleAfter: time.Hour,
		OutputLines:    50,
		Policy:         types.PolicySafe,
		VerifyMode:     types.VerifyWorkspace,
		Retry:          types.DefaultRetryConfig(),
		Readiness:      types.DefaultReadinessConfig(),
		Parallel:       types.DefaultParallelConfig(),
		Webhook:        types.DefaultWebhookConfig(),
	}
}

// policyEffects is the expansion of a publish policy into concrete
// verification switches.
type policyEffects struct {
	runDryRun        bool
	checkOwnership   bool
	strictOwnership  bool
	readinessEnabled bool
}

// applyPolicy folds policy presets over explicit options.
func applyPolicy(opts Options) policyEffects {
	switch opts.Policy {
	case types.PolicyBalanced:
		return policyEffects{
			runDryRun:        !opts.NoVerify,
			readinessEnabled: opts.Readiness.Enabled,
		}
	case types.PolicyFast:
		return policyEffects{}
	default: // safe
		return policyEffects{
			runDryRun:        !opts.NoVerify,
			checkOwnership:   !opts.SkipOwnershipCheck,
			strictOwnership:  opts.StrictOwnership,
			readinessEnabled: opts.Readiness.Enabled,
		}
	}
}
