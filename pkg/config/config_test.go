package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/shipper/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shipper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	opts := cfg.Options()
	assert.Equal(t, ".shipper", opts.StateDir)
	assert.Equal(t, types.PolicySafe, opts.Policy)
	assert.Equal(t, uint32(6), opts.Retry.MaxAttempts)
	assert.Equal(t, "crates-io", cfg.RegistryOrDefault().Name)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
registry:
  name: my-registry
  api_base: https://registry.example.com
  index_base: https://index.example.com
state_dir: .release-state
output_lines: 80
policy: balanced
verify_mode: package
lock_stale_after: 30m
retry:
  strategy: linear
  max_attempts: 4
  base_delay: 3s
  max_delay: 45s
  jitter: 0.25
readiness:
  enabled: true
  method: both
  initial_delay: 500
  poll_interval: 1s
  max_delay: 20s
  max_total_wait: 2m
  jitter_factor: 0.1
parallel:
  enabled: true
  max_concurrent: 8
  per_package_timeout: 10m
webhook:
  enabled: true
  url: https://hooks.example.com/shipper
  timeout: 15s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	reg := cfg.RegistryOrDefault()
	assert.Equal(t, "my-registry", reg.Name)
	assert.Equal(t, "https://registry.example.com", reg.APIBase)
	assert.Equal(t, "https://index.example.com", reg.IndexBase)

	opts := cfg.Options()
	assert.Equal(t, ".release-state", opts.StateDir)
	assert.Equal(t, 80, opts.OutputLines)
	assert.Equal(t, types.PolicyBalanced, opts.Policy)
	assert.Equal(t, types.VerifyPackage, opts.VerifyMode)
	assert.Equal(t, 30*time.Minute, opts.LockStaleAfter)

	assert.Equal(t, types.RetryLinear, opts.Retry.Strategy)
	assert.Equal(t, uint32(4), opts.Retry.MaxAttempts)
	assert.Equal(t, 3*time.Second, opts.Retry.BaseDelay.Std())

	assert.Equal(t, types.ReadinessBoth, opts.Readiness.Method)
	assert.Equal(t, 500*time.Millisecond, opts.Readiness.InitialDelay.Std())

	assert.True(t, opts.Parallel.Enabled)
	assert.Equal(t, 8, opts.Parallel.MaxConcurrent)

	assert.True(t, opts.Webhook.Enabled)
	assert.Equal(t, "https://hooks.example.com/shipper", opts.Webhook.URL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "policy: reckless\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, ":\n  - not yaml {{")
	_, err := Load(path)
	require.Error(t, err)
}

func TestRegistryAPIOverrideDropsStaleIndex(t *testing.T) {
	path := writeConfig(t, `
registry:
  api_base: https://registry.internal
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	reg := cfg.RegistryOrDefault()
	assert.Equal(t, "https://registry.internal", reg.APIBase)
	// The crates.io index must not leak onto a custom API base.
	assert.Empty(t, reg.IndexBase)
}
