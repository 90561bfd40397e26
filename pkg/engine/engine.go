package engine

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/piwi3910/shipper/pkg/auth"
	"github.com/piwi3910/shipper/pkg/environment"
	"github.com/piwi3910/shipper/pkg/gitx"
	"github.com/piwi3910/shipper/pkg/plan"
	"github.com/piwi3910/shipper/pkg/process"
	"github.com/piwi3910/shipper/pkg/registry"
	"github.com/piwi3910/shipper/pkg/state"
	"github.com/piwi3910/shipper/pkg/telemetry"
	"github.com/piwi3910/shipper/pkg/types"
	"github.com/piwi3910/shipper/pkg/webhook"
)

// Deps are the collaborators an Engine is built from. Registry is
// required; the other zero-value fields receive production defaults.
type Deps struct {
	Registry RegistryClient
	Runner   Runner
	Store    state.Store
	Reporter Reporter
	Logger   *telemetry.Logger
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer
	Webhook  *webhook.Client

	// ResolveToken defaults to auth.ResolveToken.
	ResolveToken TokenResolver

	// EnsureClean defaults to gitx.EnsureClean.
	EnsureClean func(dir string) error

	// CollectGit defaults to gitx.CollectContext.
	CollectGit func(dir string) *types.GitContext

	// CollectEnv defaults to environment.Collect.
	CollectEnv func(version string) types.EnvironmentFingerprint

	// Sleep defaults to registry.CtxSleep; tests substitute a no-op.
	Sleep registry.Sleeper

	// Rand seeds the per-worker jitter sources; defaults to a
	// time-seeded source. Workers never share it directly.
	Rand *rand.Rand

	// Version is the engine version recorded in fingerprints.
	Version string
}

// Engine drives a plan through its state machine. One Engine serves
// one run; the state mutex serializes transitions in parallel mode.
type Engine struct {
	deps Deps

	// mu guards ExecutionState mutation, state persistence, and event
	// appends. Held only for the duration of each transition or append,
	// never across subprocess or network waits.
	mu sync.Mutex

	// randMu guards seed derivation from the shared rand source.
	randMu sync.Mutex
}

// New creates an engine, applying defaults for absent collaborators.
func New(deps Deps) *Engine {
	if deps.Runner == nil {
		deps.Runner = process.ExecRunner{}
	}
	if deps.Logger == nil {
		deps.Logger, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	if deps.Reporter == nil {
		deps.Reporter = NewLogReporter(deps.Logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewMetrics(false)
	}
	if deps.Tracer == nil {
		deps.Tracer, _ = telemetry.NewTracer(telemetry.TracingConfig{}, deps.Version)
	}
	if deps.ResolveToken == nil {
		deps.ResolveToken = auth.ResolveToken
	}
	if deps.EnsureClean == nil {
		deps.EnsureClean = gitx.EnsureClean
	}
	if deps.CollectGit == nil {
		deps.CollectGit = gitx.CollectContext
	}
	if deps.CollectEnv == nil {
		deps.CollectEnv = environment.Collect
	}
	if deps.Sleep == nil {
		deps.Sleep = registry.CtxSleep
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{deps: deps}
}

// newRand derives a worker-local rand source. *rand.Rand is not safe
// for concurrent use, so each in-wave worker gets its own, seeded from
// the shared source under a lock.
func (e *Engine) newRand() *rand.Rand {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return rand.New(rand.NewSource(e.deps.Rand.Int63()))
}

// appendEvents serializes event appends through the state mutex so
// state saves and event writes interleave in a single order across
// parallel workers.
func (e *Engine) appendEvents(store state.Store, events ...types.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return store.AppendEvents(events...)
}

// ResolveStateDir resolves the configured state directory against the
// workspace root.
func ResolveStateDir(workspaceRoot, stateDir string) string {
	if filepath.IsAbs(stateDir) {
		return stateDir
	}
	return filepath.Join(workspaceRoot, stateDir)
}

// Publish executes the plan, sequentially or per-wave in parallel, and
// returns the receipt. The receipt is written unconditionally on exit;
// the returned error reflects the first fatal failure.
func (e *Engine) Publish(ctx context.Context, ws *plan.Result, opts Options) (*types.Receipt, error) {
	return e.run(ctx, ws, opts, false)
}

// Resume continues an interrupted run. It requires existing state and
// refuses when the recomputed plan ID differs from the persisted one,
// absent ForceResume.
func (e *Engine) Resume(ctx context.Context, ws *plan.Result, opts Options) (*types.Receipt, error) {
	return e.run(ctx, ws, opts, true)
}

func (e *Engine) run(ctx context.Context, ws *plan.Result, opts Options, resume bool) (*types.Receipt, error) {
	p := ws.Plan
	effects := applyPolicy(opts)
	stateDir := ResolveStateDir(ws.WorkspaceRoot, opts.StateDir)

	store := e.deps.Store
	if store == nil {
		store = state.NewDirStore(stateDir)
	}

	if resume {
		existing, err := store.LoadState()
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, types.NewPermanentError(
				fmt.Sprintf("no existing state found in %s; run publish first", stateDir), nil)
		}
	}

	lock, err := state.AcquireLock(stateDir, opts.LockStaleAfter, opts.Force)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()
	if err := lock.SetPlanID(p.PlanID); err != nil {
		return nil, err
	}

	gitContext := e.deps.CollectGit(ws.WorkspaceRoot)
	fingerprint := e.deps.CollectEnv(e.deps.Version)

	if !opts.AllowDirty {
		if err := e.deps.EnsureClean(ws.WorkspaceRoot); err != nil {
			return nil, err
		}
	}

	token, err := e.deps.ResolveToken(p.Registry.Name)
	if err != nil {
		e.deps.Reporter.Warn(fmt.Sprintf("token resolution failed: %v", err))
	}
	redactor := process.NewEnvRedactor(token)

	st, err := e.loadOrInitState(store, p, opts, resume)
	if err != nil {
		return nil, err
	}

	e.deps.Reporter.Info("state dir: " + stateDir)
	e.deps.Metrics.RunStarted()

	runStarted := time.Now().UTC()
	if err := e.appendEvents(store,
		types.NewEvent(types.EventExecutionStarted, "all", nil),
		types.NewEvent(types.EventPlanCreated, "all", map[string]interface{}{
			"plan_id":       p.PlanID,
			"package_count": len(p.Packages),
		}),
	); err != nil {
		return nil, err
	}

	e.deps.Webhook.Send(webhook.Event{
		Name:         webhook.EventPublishStarted,
		PlanID:       p.PlanID,
		Registry:     p.Registry.Name,
		PackageCount: len(p.Packages),
	})

	runCtx, span := e.deps.Tracer.StartSpan(ctx, "publish",
		attribute.String("plan_id", p.PlanID),
		attribute.Int("packages", len(p.Packages)))

	env := &runEnv{
		ws:       ws,
		opts:     opts,
		effects:  effects,
		store:    store,
		st:       st,
		redactor: redactor,
	}

	var receipts []types.PackageReceipt
	var runErr error
	if opts.Parallel.Enabled {
		receipts, runErr = e.runParallel(runCtx, env)
	} else {
		receipts, runErr = e.runSequential(runCtx, env)
	}
	telemetry.EndSpan(span, runErr)

	receipts = e.fillUnprocessed(env, receipts)

	result := summarize(receipts)
	finished := time.Now().UTC()
	_ = e.appendEvents(store,
		types.NewEvent(types.EventExecutionFinished, "all", map[string]interface{}{
			"result": string(result),
		}),
		types.NewEvent(types.EventPlanComplete, "all", nil),
	)

	receipt := &types.Receipt{
		ReceiptVersion: state.CurrentReceiptVersion,
		PlanID:         p.PlanID,
		RunID:          st.RunID,
		Registry:       p.Registry,
		StartedAt:      runStarted,
		FinishedAt:     finished,
		Packages:       receipts,
		EventLogPath:   store.EventLogPath(),
		GitContext:     gitContext,
		Environment:    fingerprint,
	}

	// The receipt is the ground truth for debugging; it is written
	// even when the run failed.
	if werr := store.WriteReceipt(receipt); werr != nil && runErr == nil {
		runErr = werr
	}

	e.deps.Metrics.RunCompleted(string(result), finished.Sub(runStarted).Seconds())
	e.sendCompletionWebhook(p.PlanID, receipts, result)

	return receipt, runErr
}

// runEnv carries the per-run collaborators through the package loop.
type runEnv struct {
	ws       *plan.Result
	opts     Options
	effects  policyEffects
	store    state.Store
	st       *types.ExecutionState
	redactor *process.Redactor
}

// loadOrInitState loads persisted state, gating on plan-ID match, or
// initializes fresh state. Failed packages from a previous run are
// re-armed as pending; resume keeps their attempt counters, a plain
// publish resets them to zero.
func (e *Engine) loadOrInitState(store state.Store, p *types.Plan, opts Options, resume bool) (*types.ExecutionState, error) {
	st, err := store.LoadState()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	if st == nil {
		st = &types.ExecutionState{
			StateVersion: state.CurrentStateVersion,
			PlanID:       p.PlanID,
			RunID:        uuid.New().String(),
			Registry:     p.Registry,
			CreatedAt:    now,
			UpdatedAt:    now,
			Packages:     make(map[string]*types.PackageProgress),
		}
	} else if st.PlanID != p.PlanID {
		if !opts.ForceResume {
			return nil, types.NewPermanentError(
				fmt.Sprintf("existing state plan_id %s does not match current plan_id %s; delete state or use --force-resume",
					st.PlanID, p.PlanID),
				nil,
			).WithCode(types.ErrCodePlanMismatch)
		}
		e.deps.Reporter.Warn("forcing resume with mismatched plan_id (unsafe)")
		st.PlanID = p.PlanID
	}

	for _, pkg := range p.Packages {
		key := pkg.Key()
		if pr, ok := st.Packages[key]; ok {
			if pr.Status == types.StatusFailed {
				// A plain publish grants failed packages a fresh
				// attempt budget; resume continues the counter.
				pr.Status = types.StatusPending
				pr.Reason = ""
				pr.ErrorClass = ""
				if !resume {
					pr.Attempts = 0
				}
				pr.LastUpdatedAt = now
			}
			continue
		}
		st.Packages[key] = &types.PackageProgress{
			Name:          pkg.Name,
			Version:       pkg.Version,
			Status:        types.StatusPending,
			LastUpdatedAt: now,
		}
	}
	st.UpdatedAt = now

	if err := store.SaveState(st); err != nil {
		return nil, err
	}
	return st, nil
}

// runSequential publishes packages one at a time in plan order,
// aborting on the first failure.
func (e *Engine) runSequential(ctx context.Context, env *runEnv) ([]types.PackageReceipt, error) {
	var receipts []types.PackageReceipt
	for _, pkg := range env.ws.Plan.Packages {
		receipt, err := e.publishOne(ctx, env, pkg, 0)
		receipts = append(receipts, receipt)
		if err != nil {
			return receipts, err
		}
	}
	return receipts, nil
}

// publishOne drives a single package through the state machine:
// pre-check, attempt loop, readiness. The attempt-loop timeout is the
// per-package deadline in parallel mode, zero otherwise.
func (e *Engine) publishOne(ctx context.Context, env *runEnv, pkg types.PlannedPackage, timeout time.Duration) (types.PackageReceipt, error) {
	key := pkg.Key()
	rng := e.newRand()
	startedAt := time.Now().UTC()
	start := time.Now()

	progress := e.snapshot(env.st, key)
	receipt := types.PackageReceipt{
		Name:      pkg.Name,
		Version:   pkg.Version,
		StartedAt: startedAt,
	}
	finish := func(evidence types.PackageEvidence) types.PackageReceipt {
		final := e.snapshot(env.st, key)
		receipt.Attempts = final.Attempts
		receipt.Status = final.Status
		receipt.Reason = final.Reason
		receipt.FinishedAt = time.Now().UTC()
		receipt.DurationMS = time.Since(start).Milliseconds()
		receipt.Evidence = evidence
		return receipt
	}

	if progress.Status.IsTerminal() {
		e.deps.Reporter.Info(fmt.Sprintf("%s: already complete (%s)", key, progress.Status))
		return finish(types.PackageEvidence{}), nil
	}

	var evidence types.PackageEvidence

	// A resume from uploaded must skip the upload entirely and prove
	// readiness only.
	if progress.Status == types.StatusUploaded {
		e.deps.Reporter.Info(fmt.Sprintf("%s: resuming readiness check (upload already accepted)", key))
		err := e.awaitReadiness(ctx, env, pkg, rng, &evidence)
		return finish(evidence), err
	}

	// Pre-check: skip anything the registry already has. Probe errors
	// fall through to the attempt loop, which absorbs transient
	// registry trouble.
	if visible, err := e.deps.Registry.VersionExists(ctx, pkg.Name, pkg.Version); err == nil && visible {
		e.deps.Reporter.Info(fmt.Sprintf("%s: already published (skipping)", key))
		if terr := e.transition(env, key, types.StatusSkipped, "already published", ""); terr != nil {
			return finish(evidence), terr
		}
		_ = e.appendEvents(env.store, types.NewEvent(types.EventPackageSkipped, key, map[string]interface{}{
			"reason": "already published",
		}))
		e.deps.Metrics.PackageFinished(string(types.StatusSkipped), time.Since(start).Seconds())
		return finish(evidence), nil
	} else if err != nil {
		e.deps.Reporter.Warn(fmt.Sprintf("%s: pre-check probe failed: %v", key, err))
	}

	if err := e.transition(env, key, types.StatusInFlight, "", ""); err != nil {
		return finish(evidence), err
	}
	_ = e.appendEvents(env.store, types.NewEvent(types.EventPackageStarted, key, map[string]interface{}{
		"name":    pkg.Name,
		"version": pkg.Version,
	}))
	e.deps.Reporter.Info(fmt.Sprintf("%s: publishing...", key))

	if err := e.attemptLoop(ctx, env, pkg, timeout, rng, &evidence); err != nil {
		return finish(evidence), err
	}

	err := e.awaitReadiness(ctx, env, pkg, rng, &evidence)
	if err == nil {
		e.deps.Metrics.PackageFinished(string(types.StatusPublished), time.Since(start).Seconds())
	}
	return finish(evidence), err
}

// attemptLoop runs the upload attempts until the package reaches
// uploaded (nil return), fails permanently, or exhausts its budget.
func (e *Engine) attemptLoop(ctx context.Context, env *runEnv, pkg types.PlannedPackage, timeout time.Duration, rng *rand.Rand, evidence *types.PackageEvidence) error {
	key := pkg.Key()
	maxAttempts := env.opts.Retry.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	attempt := e.snapshot(env.st, key).Attempts
	var lastClass types.ErrorClass
	var lastMsg string
	var backoffBefore time.Duration

	for attempt < maxAttempts {
		if err := ctx.Err(); err != nil {
			return types.NewCancelledError("publish cancelled", err).WithPackage(key)
		}

		attempt++
		e.bumpAttempt(env, key, attempt)
		e.deps.Reporter.Info(fmt.Sprintf("%s: attempt %d/%d", key, attempt, maxAttempts))

		cmd := publishCommand(env.ws.WorkspaceRoot, pkg.Name, env.ws.Plan.Registry.Name, env.opts, timeout)
		redactedCmd := env.redactor.Redact(cmd.String())

		_ = e.appendEvents(env.store, types.NewEvent(types.EventPackageAttempted, key, map[string]interface{}{
			"attempt": attempt,
			"command": redactedCmd,
		}))

		out, runErr := e.deps.Runner.Run(ctx, cmd)
		if runErr != nil {
			err := types.NewPermanentError("failed to execute packaging tool", runErr).
				WithPackage(key).WithCode(types.ErrCodeUploadFailed)
			return e.failAndReturn(env, pkg, err, types.ErrorClassPermanent, err.Message)
		}

		stdoutTail := env.redactor.Redact(out.StdoutTail)
		stderrTail := env.redactor.Redact(out.StderrTail)
		evidence.Attempts = append(evidence.Attempts, types.AttemptEvidence{
			AttemptNumber: attempt,
			Command:       redactedCmd,
			ExitCode:      out.ExitCode,
			StdoutTail:    stdoutTail,
			StderrTail:    stderrTail,
			Timestamp:     time.Now().UTC(),
			Duration:      types.Duration(out.Duration),
			BackoffBefore: types.Duration(backoffBefore),
		})
		_ = e.appendEvents(env.store, types.NewEvent(types.EventPackageOutput, key, map[string]interface{}{
			"stdout_tail": stdoutTail,
			"stderr_tail": stderrTail,
		}))

		if err := ctx.Err(); err != nil {
			// The in-flight attempt was cut short; leave the package
			// in its last durable state for a future resume.
			e.deps.Metrics.AttemptRecorded("error")
			return types.NewCancelledError("publish cancelled", err).WithPackage(key)
		}

		if out.ExitCode == 0 {
			e.deps.Metrics.AttemptRecorded("ok")
			if err := e.markUploaded(env, key); err != nil {
				return err
			}
			return nil
		}
		e.deps.Metrics.AttemptRecorded("error")

		// Even a failed tool exit may mean the server accepted the
		// upload. Always probe before deciding.
		if visible, perr := e.deps.Registry.VersionExists(ctx, pkg.Name, pkg.Version); perr == nil && visible {
			e.deps.Reporter.Info(fmt.Sprintf("%s: version present on registry despite tool failure; treating as uploaded", key))
			if err := e.markUploaded(env, key); err != nil {
				return err
			}
			return nil
		}

		if out.TimedOut {
			lastClass, lastMsg = types.ErrorClassTimeout, "per-package deadline exceeded"
		} else {
			lastClass, lastMsg = classifyFailure(stderrTail, stdoutTail)
		}
		e.deps.Metrics.ErrorRecorded(string(lastClass))

		if lastClass == types.ErrorClassPermanent {
			err := types.NewPermanentError(lastMsg, nil).WithPackage(key).WithCode(types.ErrCodeUploadFailed)
			return e.failAndReturn(env, pkg, err, lastClass, lastMsg)
		}

		if attempt >= maxAttempts {
			break
		}

		backoffBefore = BackoffDelay(env.opts.Retry, attempt, rng)
		e.deps.Reporter.Warn(fmt.Sprintf("%s: retrying in %s", key, backoffBefore.Round(time.Millisecond)))
		e.deps.Metrics.RetryRecorded()
		if err := e.deps.Sleep(ctx, backoffBefore); err != nil {
			return types.NewCancelledError("publish cancelled during backoff", err).WithPackage(key)
		}
	}

	// Final chance: the version may have surfaced after the last
	// failed attempt.
	if visible, perr := e.deps.Registry.VersionExists(ctx, pkg.Name, pkg.Version); perr == nil && visible {
		if err := e.markUploaded(env, key); err != nil {
			return err
		}
		return nil
	}

	if lastMsg == "" {
		lastClass, lastMsg = types.ErrorClassAmbiguous, "attempts exhausted"
	}
	err := (&types.Error{Class: lastClass, Message: lastMsg}).
		WithPackage(key).WithCode(types.ErrCodeUploadFailed)
	return e.failAndReturn(env, pkg, err, lastClass, lastMsg)
}

// awaitReadiness proves visibility from the uploaded state and
// transitions to published, or fails with READINESS_TIMEOUT.
func (e *Engine) awaitReadiness(ctx context.Context, env *runEnv, pkg types.PlannedPackage, rng *rand.Rand, evidence *types.PackageEvidence) error {
	key := pkg.Key()
	cfg := env.opts.Readiness
	cfg.Enabled = env.effects.readinessEnabled

	_ = e.appendEvents(env.store, types.NewEvent(types.EventReadinessStarted, key, map[string]interface{}{
		"method": string(cfg.Method),
	}))

	readinessStart := time.Now()
	visible, checks, err := e.deps.Registry.AwaitVisible(ctx, pkg.Name, pkg.Version, cfg, rng, e.deps.Sleep)
	evidence.ReadinessChecks = append(evidence.ReadinessChecks, checks...)

	probeEvents := make([]types.Event, 0, len(checks))
	for _, check := range checks {
		e.deps.Metrics.ReadinessPoll()
		probeEvents = append(probeEvents, types.NewEvent(types.EventReadinessProbed, key, map[string]interface{}{
			"attempt": check.Attempt,
			"visible": check.Visible,
		}))
	}
	_ = e.appendEvents(env.store, probeEvents...)

	if err != nil {
		return err
	}

	if !visible {
		e.deps.Metrics.ReadinessResult("timeout")
		_ = e.appendEvents(env.store, types.NewEvent(types.EventReadinessTimeout, key, map[string]interface{}{
			"max_wait_ms": cfg.MaxTotalWait.Std().Milliseconds(),
		}))
		msg := "version not visible on registry within readiness window"
		ferr := types.NewAmbiguousError(msg, nil).WithPackage(key).WithCode(types.ErrCodeReadinessTimeout)
		return e.failAndReturn(env, pkg, ferr, types.ErrorClassAmbiguous, msg)
	}

	e.deps.Metrics.ReadinessResult("visible")
	_ = e.appendEvents(env.store, types.NewEvent(types.EventReadinessComplete, key, map[string]interface{}{
		"attempts":    len(checks),
		"duration_ms": time.Since(readinessStart).Milliseconds(),
	}))

	if err := e.transition(env, key, types.StatusPublished, "", ""); err != nil {
		return err
	}
	_ = e.appendEvents(env.store, types.NewEvent(types.EventPackagePublished, key, map[string]interface{}{
		"duration_ms": time.Since(readinessStart).Milliseconds(),
	}))
	e.deps.Reporter.Info(fmt.Sprintf("%s: published", key))

	e.deps.Webhook.Send(webhook.Event{
		Name:           webhook.EventPackagePublished,
		PlanID:         env.ws.Plan.PlanID,
		PackageName:    pkg.Name,
		PackageVersion: pkg.Version,
	})
	return nil
}

// markUploaded records the ambiguous-success sink: the registry has
// (or may have) the upload, readiness not yet proven.
func (e *Engine) markUploaded(env *runEnv, key string) error {
	if err := e.transition(env, key, types.StatusUploaded, "", ""); err != nil {
		return err
	}
	return e.appendEvents(env.store, types.NewEvent(types.EventPackageUploaded, key, nil))
}

// failPackage transitions to failed and persists.
func (e *Engine) failPackage(env *runEnv, pkg types.PlannedPackage, class types.ErrorClass, msg string) error {
	key := pkg.Key()
	if err := e.transition(env, key, types.StatusFailed, msg, class); err != nil {
		return err
	}
	_ = e.appendEvents(env.store, types.NewEvent(types.EventPackageFailed, key, map[string]interface{}{
		"class":   string(class),
		"message": msg,
	}))
	e.deps.Webhook.Send(webhook.Event{
		Name:           webhook.EventPackageFailed,
		PlanID:         env.ws.Plan.PlanID,
		PackageName:    pkg.Name,
		PackageVersion: pkg.Version,
		ErrorClass:     string(class),
		Message:        msg,
	})
	return nil
}

// failAndReturn records the failure and returns err, preferring a
// state-store failure when persistence itself broke.
func (e *Engine) failAndReturn(env *runEnv, pkg types.PlannedPackage, err error, class types.ErrorClass, msg string) error {
	if ferr := e.failPackage(env, pkg, class, msg); ferr != nil {
		return ferr
	}
	e.deps.Reporter.Error(fmt.Sprintf("%s: %s", pkg.Key(), msg))
	return err
}

// transition applies one state-machine edge and persists the full
// state before returning. In parallel mode the mutex serializes this
// with concurrent workers.
func (e *Engine) transition(env *runEnv, key string, status types.PackageStatus, reason string, class types.ErrorClass) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pr, ok := env.st.Packages[key]
	if !ok {
		return types.NewPermanentError("missing package in state: "+key, nil).
			WithCode(types.ErrCodeStateCorrupt)
	}

	now := time.Now().UTC()
	if pr.StartedAt == nil && status == types.StatusInFlight {
		pr.StartedAt = &now
	}
	if status.IsTerminal() {
		pr.FinishedAt = &now
	}
	pr.Status = status
	pr.Reason = reason
	pr.ErrorClass = class
	pr.LastUpdatedAt = now
	env.st.UpdatedAt = now

	return env.store.SaveState(env.st)
}

// bumpAttempt persists the incremented attempt counter.
func (e *Engine) bumpAttempt(env *runEnv, key string, attempt uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pr, ok := env.st.Packages[key]; ok {
		pr.Attempts = attempt
		pr.LastUpdatedAt = time.Now().UTC()
		env.st.UpdatedAt = pr.LastUpdatedAt
		_ = env.store.SaveState(env.st)
	}
}

// snapshot copies a package's progress under the mutex.
func (e *Engine) snapshot(st *types.ExecutionState, key string) types.PackageProgress {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pr, ok := st.Packages[key]; ok {
		return *pr
	}
	return types.PackageProgress{Status: types.StatusPending}
}

// fillUnprocessed adds receipt entries for packages the run never
// reached so the receipt always covers the whole plan.
func (e *Engine) fillUnprocessed(env *runEnv, receipts []types.PackageReceipt) []types.PackageReceipt {
	seen := make(map[string]bool, len(receipts))
	for _, r := range receipts {
		seen[types.PackageKey(r.Name, r.Version)] = true
	}
	now := time.Now().UTC()
	for _, pkg := range env.ws.Plan.Packages {
		key := pkg.Key()
		if seen[key] {
			continue
		}
		progress := e.snapshot(env.st, key)
		receipts = append(receipts, types.PackageReceipt{
			Name:       pkg.Name,
			Version:    pkg.Version,
			Attempts:   progress.Attempts,
			Status:     progress.Status,
			Reason:     progress.Reason,
			StartedAt:  now,
			FinishedAt: now,
		})
	}
	return receipts
}

// summarize folds per-package outcomes into the run result.
func summarize(receipts []types.PackageReceipt) types.ExecutionResult {
	success, failure := 0, 0
	for _, r := range receipts {
		switch r.Status {
		case types.StatusPublished, types.StatusSkipped:
			success++
		case types.StatusFailed:
			failure++
		}
	}
	switch {
	case failure == 0 && success == len(receipts):
		return types.ResultSuccess
	case success == 0:
		return types.ResultCompleteFailure
	default:
		return types.ResultPartialFailure
	}
}

func (e *Engine) sendCompletionWebhook(planID string, receipts []types.PackageReceipt, result types.ExecutionResult) {
	var success, failure, skipped int
	for _, r := range receipts {
		switch r.Status {
		case types.StatusPublished:
			success++
		case types.StatusFailed:
			failure++
		case types.StatusSkipped:
			skipped++
		}
	}
	e.deps.Webhook.Send(webhook.Event{
		Name:         webhook.EventPublishCompleted,
		PlanID:       planID,
		PackageCount: len(receipts),
		SuccessCount: success,
		FailureCount: failure,
		SkippedCount: skipped,
		Result:       string(result),
	})
}
