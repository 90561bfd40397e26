package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineEdges(t *testing.T) {
	allowed := []struct{ from, to PackageStatus }{
		{StatusPending, StatusInFlight},
		{StatusPending, StatusSkipped},
		{StatusInFlight, StatusInFlight},
		{StatusInFlight, StatusUploaded},
		{StatusInFlight, StatusFailed},
		{StatusUploaded, StatusPublished},
		{StatusUploaded, StatusFailed},
	}
	for _, edge := range allowed {
		assert.True(t, edge.from.CanTransition(edge.to), "%s -> %s", edge.from, edge.to)
	}

	forbidden := []struct{ from, to PackageStatus }{
		{StatusPending, StatusPublished},
		{StatusPending, StatusUploaded},
		{StatusUploaded, StatusInFlight},
		{StatusPublished, StatusFailed},
		{StatusSkipped, StatusInFlight},
		{StatusFailed, StatusPublished},
	}
	for _, edge := range forbidden {
		assert.False(t, edge.from.CanTransition(edge.to), "%s -> %s", edge.from, edge.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StatusPublished.IsTerminal())
	assert.True(t, StatusSkipped.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusInFlight.IsTerminal())
	assert.False(t, StatusUploaded.IsTerminal())
}

func TestPackageKey(t *testing.T) {
	assert.Equal(t, "demo@1.2.3", PackageKey("demo", "1.2.3"))
	p := PlannedPackage{Name: "demo", Version: "1.2.3"}
	assert.Equal(t, "demo@1.2.3", p.Key())
}

func TestCratesIODefaults(t *testing.T) {
	reg := CratesIO()
	assert.Equal(t, "crates-io", reg.Name)
	assert.Equal(t, "https://crates.io", reg.APIBase)
	assert.Equal(t, "https://index.crates.io", reg.IndexBase)
}

func TestExecutionStateRoundtrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	st := ExecutionState{
		StateVersion: "shipper.state.v1",
		PlanID:       "plan-1",
		RunID:        "run-1",
		Registry:     CratesIO(),
		CreatedAt:    now,
		UpdatedAt:    now,
		Packages: map[string]*PackageProgress{
			"demo@1.2.3": {
				Name: "demo", Version: "1.2.3", Attempts: 2,
				Status: StatusPublished, LastUpdatedAt: now,
			},
		},
	}

	data, err := json.Marshal(st)
	require.NoError(t, err)

	var parsed ExecutionState
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "plan-1", parsed.PlanID)
	require.Contains(t, parsed.Packages, "demo@1.2.3")
	assert.Equal(t, StatusPublished, parsed.Packages["demo@1.2.3"].Status)
}

func TestDefaultConfigs(t *testing.T) {
	readiness := DefaultReadinessConfig()
	assert.True(t, readiness.Enabled)
	assert.Equal(t, ReadinessAPI, readiness.Method)
	assert.Equal(t, time.Second, readiness.InitialDelay.Std())
	assert.Equal(t, 60*time.Second, readiness.MaxDelay.Std())
	assert.Equal(t, 5*time.Minute, readiness.MaxTotalWait.Std())
	assert.Equal(t, 0.5, readiness.JitterFactor)

	retry := DefaultRetryConfig()
	assert.Equal(t, RetryExponential, retry.Strategy)
	assert.Equal(t, uint32(6), retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, retry.BaseDelay.Std())
	assert.Equal(t, 120*time.Second, retry.MaxDelay.Std())

	parallel := DefaultParallelConfig()
	assert.False(t, parallel.Enabled)
	assert.Equal(t, 4, parallel.MaxConcurrent)
	assert.Equal(t, 30*time.Minute, parallel.PerPackageTimeout.Std())
}
