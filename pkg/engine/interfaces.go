package engine

import (
	"context"
	"math/rand"

	"github.com/piwi3910/shipper/pkg/process"
	"github.com/piwi3910/shipper/pkg/registry"
	"github.com/piwi3910/shipper/pkg/types"
)

// Reporter receives user-visible progress messages. Implementations
// must be safe for concurrent use in parallel mode.
type Reporter interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// RegistryClient is the narrow registry surface the engine needs.
// The real implementation is *registry.Client; tests use doubles.
type RegistryClient interface {
	// VersionExists probes whether name@version is on the registry.
	VersionExists(ctx context.Context, name, version string) (bool, error)

	// CrateExists probes whether the crate is known at all.
	CrateExists(ctx context.Context, name string) (bool, error)

	// VerifyOwnership is the best-effort ownership preflight.
	VerifyOwnership(ctx context.Context, name, token string) (bool, error)

	// ListOwners fetches owners; strict mode surfaces its errors.
	ListOwners(ctx context.Context, name, token string) ([]registry.Owner, error)

	// AwaitVisible polls until the version is visible or the wait
	// budget is exhausted.
	AwaitVisible(ctx context.Context, name, version string, cfg types.ReadinessConfig,
		rng *rand.Rand, sleep registry.Sleeper) (bool, []types.ReadinessEvidence, error)
}

// TokenResolver looks up the registry credential. The default
// implementation is pkg/auth.ResolveToken.
type TokenResolver func(registryName string) (string, error)

// Runner is re-exported so engine consumers need only this package.
type Runner = process.Runner
