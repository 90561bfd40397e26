package types

import (
	"strings"
	"time"
)

// Registry identifies the target package registry.
type Registry struct {
	// Name is the registry name passed to the packaging tool
	// (for crates.io this is "crates-io").
	Name string `json:"name"`

	// APIBase is the base URL for the registry web API,
	// e.g. "https://crates.io".
	APIBase string `json:"api_base"`

	// IndexBase is the base URL for the sparse index. Derived from
	// APIBase when empty.
	IndexBase string `json:"index_base,omitempty"`
}

// CratesIO returns the default crates.io registry.
func CratesIO() Registry {
	return Registry{
		Name:      "crates-io",
		APIBase:   "https://crates.io",
		IndexBase: "https://index.crates.io",
	}
}

// ResolvedIndexBase returns the sparse index base URL, deriving it from
// the API base when not explicitly set. A "sparse+" prefix (used by the
// packaging tool's index config) is stripped.
func (r Registry) ResolvedIndexBase() string {
	if r.IndexBase != "" {
		return strings.TrimPrefix(r.IndexBase, "sparse+")
	}
	if strings.HasPrefix(r.APIBase, "https://") {
		return "https://index." + strings.TrimPrefix(r.APIBase, "https://")
	}
	if strings.HasPrefix(r.APIBase, "http://") {
		return "http://index." + strings.TrimPrefix(r.APIBase, "http://")
	}
	return r.APIBase
}

// PlannedPackage is a single package selected for publishing.
// Immutable once planned.
type PlannedPackage struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	ManifestPath string `json:"manifest_path"`
}

// Key returns the canonical "name@version" identity of the package.
func (p PlannedPackage) Key() string {
	return PackageKey(p.Name, p.Version)
}

// PackageKey builds the canonical "name@version" package identity.
func PackageKey(name, version string) string {
	return name + "@" + version
}

// SkippedPackage records a workspace package excluded from the plan.
type SkippedPackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Reason  string `json:"reason"`
}

// Wave is a group of plan packages with no mutual dependencies.
// Packages within a wave may publish concurrently; waves execute
// strictly in order.
type Wave struct {
	// Level is the wave index (0 = no in-plan dependencies).
	Level int `json:"level"`

	// Packages lists the members of this wave in plan order.
	Packages []PlannedPackage `json:"packages"`
}

// Plan is an immutable, ordered description of which packages to
// publish, partitioned into parallelizable waves.
type Plan struct {
	// PlanVersion is the plan schema version.
	PlanVersion string `json:"plan_version"`

	// PlanID is the content-addressed hex digest identifying the plan.
	// Identical (name, version) sets yield identical IDs regardless of
	// input order.
	PlanID string `json:"plan_id"`

	CreatedAt time.Time `json:"created_at"`
	Registry  Registry  `json:"registry"`

	// Packages in publish order (dependencies first).
	Packages []PlannedPackage `json:"packages"`

	// Dependencies maps a package name to the names of its in-plan
	// dependencies. Used for wave partitioning.
	Dependencies map[string][]string `json:"dependencies,omitempty"`
}

// PackageStatus is the per-package position in the publish state machine.
type PackageStatus string

const (
	// StatusPending means no attempt has started.
	StatusPending PackageStatus = "pending"

	// StatusInFlight means an upload attempt is underway.
	StatusInFlight PackageStatus = "in_flight"

	// StatusUploaded means the registry has (or may have) accepted the
	// upload but visibility has not yet been proven. A resume from this
	// status must skip the upload and go straight to readiness.
	StatusUploaded PackageStatus = "uploaded"

	// StatusPublished means registry visibility was confirmed. Terminal.
	StatusPublished PackageStatus = "published"

	// StatusSkipped means the version already existed before any upload
	// was attempted. Terminal.
	StatusSkipped PackageStatus = "skipped"

	// StatusFailed means the package cannot proceed in this run. Terminal.
	StatusFailed PackageStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s PackageStatus) IsTerminal() bool {
	return s == StatusPublished || s == StatusSkipped || s == StatusFailed
}

// validTransitions enumerates the legal state machine edges.
var validTransitions = map[PackageStatus][]PackageStatus{
	StatusPending:  {StatusInFlight, StatusSkipped},
	StatusInFlight: {StatusInFlight, StatusUploaded, StatusFailed},
	StatusUploaded: {StatusPublished, StatusFailed},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s PackageStatus) CanTransition(next PackageStatus) bool {
	for _, t := range validTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// PackageProgress tracks one package inside a persisted execution state.
type PackageProgress struct {
	Name     string        `json:"name"`
	Version  string        `json:"version"`
	Attempts uint32        `json:"attempts"`
	Status   PackageStatus `json:"status"`

	// Reason carries the skip reason or failure message, if any.
	Reason string `json:"reason,omitempty"`

	// ErrorClass is set when Status is failed.
	ErrorClass ErrorClass `json:"error_class,omitempty"`

	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
}

// ExecutionState is the durable snapshot persisted after every
// transition. Plans are O(workspace size), so the full state is small
// enough to rewrite atomically each time.
type ExecutionState struct {
	StateVersion string                      `json:"state_version"`
	PlanID       string                      `json:"plan_id"`
	RunID        string                      `json:"run_id"`
	Registry     Registry                    `json:"registry"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
	Packages     map[string]*PackageProgress `json:"packages"`
}

// AttemptEvidence captures one subprocess invocation. Command and tails
// are redacted before persistence.
type AttemptEvidence struct {
	AttemptNumber uint32    `json:"attempt_number"`
	Command       string    `json:"command"`
	ExitCode      int       `json:"exit_code"`
	StdoutTail    string    `json:"stdout_tail"`
	StderrTail    string    `json:"stderr_tail"`
	Timestamp     time.Time `json:"timestamp"`
	Duration      Duration  `json:"duration"`

	// BackoffBefore is the retry delay slept before this attempt;
	// zero for the first attempt.
	BackoffBefore Duration `json:"backoff_before,omitempty"`
}

// ReadinessEvidence captures one registry visibility probe.
type ReadinessEvidence struct {
	Attempt     uint32    `json:"attempt"`
	Visible     bool      `json:"visible"`
	Timestamp   time.Time `json:"timestamp"`
	DelayBefore Duration  `json:"delay_before"`
}

// PackageEvidence is the full debugging substrate for one package.
type PackageEvidence struct {
	Attempts        []AttemptEvidence   `json:"attempts"`
	ReadinessChecks []ReadinessEvidence `json:"readiness_checks"`
}

// PackageReceipt is the terminal record of one package within a run.
type PackageReceipt struct {
	Name       string          `json:"name"`
	Version    string          `json:"version"`
	Attempts   uint32          `json:"attempts"`
	Status     PackageStatus   `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	DurationMS int64           `json:"duration_ms"`
	Evidence   PackageEvidence `json:"evidence"`
}

// EnvironmentFingerprint records the toolchain a run executed under.
type EnvironmentFingerprint struct {
	ShipperVersion string `json:"shipper_version"`
	CargoVersion   string `json:"cargo_version,omitempty"`
	RustVersion    string `json:"rust_version,omitempty"`
	OS             string `json:"os"`
	Arch           string `json:"arch"`
}

// GitContext records repository state at the start of a run.
type GitContext struct {
	Commit string `json:"commit,omitempty"`
	Branch string `json:"branch,omitempty"`
	Tag    string `json:"tag,omitempty"`
	Dirty  *bool  `json:"dirty,omitempty"`
}

// Receipt is the terminal, immutable snapshot of a run. The receipt is
// written unconditionally on engine exit, success or failure.
type Receipt struct {
	ReceiptVersion string                 `json:"receipt_version"`
	PlanID         string                 `json:"plan_id"`
	RunID          string                 `json:"run_id"`
	Registry       Registry               `json:"registry"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     time.Time              `json:"finished_at"`
	Packages       []PackageReceipt       `json:"packages"`
	EventLogPath   string                 `json:"event_log_path"`
	GitContext     *GitContext            `json:"git_context,omitempty"`
	Environment    EnvironmentFingerprint `json:"environment"`
}

// ExecutionResult summarizes a completed run.
type ExecutionResult string

const (
	ResultSuccess         ExecutionResult = "success"
	ResultPartialFailure  ExecutionResult = "partial_failure"
	ResultCompleteFailure ExecutionResult = "complete_failure"
)

// Finishability is the three-valued preflight verdict.
type Finishability string

const (
	// FinishabilityProven means every package is already published or
	// passes dry-run with ownership verified.
	FinishabilityProven Finishability = "proven"

	// FinishabilityNotProven means hard checks pass but ownership could
	// not be determined (for example, no token) and strict mode is off.
	FinishabilityNotProven Finishability = "not_proven"

	// FinishabilityFailed means a hard check failed.
	FinishabilityFailed Finishability = "failed"
)

// AuthType identifies how the run authenticates to the registry.
type AuthType string

const (
	AuthTypeToken   AuthType = "token"
	AuthTypeUnknown AuthType = "unknown"
)

// PreflightPackage is the per-package section of a preflight report.
type PreflightPackage struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	AlreadyPublished  bool     `json:"already_published"`
	IsNewCrate        bool     `json:"is_new_crate"`
	AuthType          AuthType `json:"auth_type,omitempty"`
	OwnershipVerified bool     `json:"ownership_verified"`
	DryRunPassed      bool     `json:"dry_run_passed"`
}

// PreflightReport is the read-only evaluation of whether a plan can
// succeed. Preflight never mutates registry state.
type PreflightReport struct {
	PlanID        string             `json:"plan_id"`
	TokenDetected bool               `json:"token_detected"`
	Finishability Finishability      `json:"finishability"`
	Packages      []PreflightPackage `json:"packages"`
	Timestamp     time.Time          `json:"timestamp"`
}
