package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/shipper/pkg/process"
	"github.com/piwi3910/shipper/pkg/types"
)

func TestParallelPublishRespectsWaveOrder(t *testing.T) {
	ws := testPlan(t, map[string][]string{"app": {"core", "util"}}, "core", "util", "app")
	reg := newFakeRegistry()
	reg.queue("core@0.1.0", false, true)
	reg.queue("util@0.1.0", false, true)
	reg.queue("app@0.1.0", false, true)
	runner := newFakeRunner()

	opts := testOptions()
	opts.Parallel.Enabled = true
	opts.Parallel.MaxConcurrent = 2

	eng, _ := testEngine(reg, runner)
	receipt, err := eng.Publish(context.Background(), ws, opts)
	require.NoError(t, err)

	for _, name := range []string{"core", "util", "app"} {
		assert.Equal(t, types.StatusPublished, packageByName(t, receipt, name).Status, name)
	}

	// Wave barrier: app is invoked only after both wave-0 members.
	calls := runner.calledPackages()
	require.Len(t, calls, 3)
	assert.Equal(t, "app", calls[2])
}

func TestParallelFailureStopsSubsequentWaves(t *testing.T) {
	ws := testPlan(t, map[string][]string{"app": {"core", "util"}}, "core", "util", "app")
	reg := newFakeRegistry()
	reg.queue("util@0.1.0", false, true)
	runner := newFakeRunner()
	runner.script("core", process.Output{ExitCode: 101, StderrTail: "error: permission denied"})

	opts := testOptions()
	opts.Parallel.Enabled = true

	eng, _ := testEngine(reg, runner)
	receipt, err := eng.Publish(context.Background(), ws, opts)
	require.Error(t, err)

	assert.Equal(t, types.StatusFailed, packageByName(t, receipt, "core").Status)
	// The in-wave sibling finishes; the next wave never starts.
	assert.Equal(t, types.StatusPublished, packageByName(t, receipt, "util").Status)
	assert.Equal(t, types.StatusPending, packageByName(t, receipt, "app").Status)
	for _, name := range runner.calledPackages() {
		assert.NotEqual(t, "app", name)
	}
}

func TestParallelTimeoutIsRetryable(t *testing.T) {
	ws := testPlan(t, nil, "demo")
	reg := newFakeRegistry()
	// Probes after the timed-out attempt miss; readiness hits after
	// the successful retry.
	reg.queue("demo@0.1.0", false, false, true)
	runner := newFakeRunner()
	runner.script("demo",
		process.Output{ExitCode: -1, TimedOut: true, StderrTail: "terminated"},
		process.Output{ExitCode: 0},
	)

	opts := testOptions()
	opts.Parallel.Enabled = true
	opts.Parallel.PerPackageTimeout = types.Duration(1) // armed, value irrelevant to fake

	eng, _ := testEngine(reg, runner)
	receipt, err := eng.Publish(context.Background(), ws, opts)
	require.NoError(t, err)

	pr := packageByName(t, receipt, "demo")
	assert.Equal(t, types.StatusPublished, pr.Status)
	assert.Equal(t, uint32(2), pr.Attempts)

	// The per-package deadline was armed on the invocation.
	require.NotEmpty(t, runner.calls)
	assert.Greater(t, int64(runner.calls[0].Timeout), int64(0))
}
