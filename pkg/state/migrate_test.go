package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/shipper/pkg/types"
)

const v1Receipt = `{
  "receipt_version": "shipper.receipt.v1",
  "plan_id": "plan-old",
  "registry": {"name": "crates-io", "api_base": "https://crates.io"},
  "started_at": "2025-01-01T00:00:00Z",
  "finished_at": "2025-01-01T00:05:00Z",
  "packages": [],
  "event_log_path": ".shipper/events.jsonl"
}`

func TestMigrateV1ReceiptToV2(t *testing.T) {
	receipt, err := MigrateReceipt([]byte(v1Receipt))
	require.NoError(t, err)

	assert.Equal(t, CurrentReceiptVersion, receipt.ReceiptVersion)
	assert.Equal(t, "plan-old", receipt.PlanID)
	// v2 fields are filled with safe defaults.
	assert.Nil(t, receipt.GitContext)
	assert.NotEmpty(t, receipt.Environment.OS)
	assert.NotEmpty(t, receipt.Environment.Arch)
}

func TestMigrateCurrentReceiptPassesThrough(t *testing.T) {
	current := `{
  "receipt_version": "shipper.receipt.v2",
  "plan_id": "plan-new",
  "registry": {"name": "crates-io", "api_base": "https://crates.io"},
  "started_at": "2025-01-01T00:00:00Z",
  "finished_at": "2025-01-01T00:05:00Z",
  "packages": [],
  "event_log_path": ".shipper/events.jsonl",
  "environment": {"shipper_version": "1.0.0", "os": "linux", "arch": "amd64"}
}`
	receipt, err := MigrateReceipt([]byte(current))
	require.NoError(t, err)
	assert.Equal(t, "plan-new", receipt.PlanID)
	assert.Equal(t, "1.0.0", receipt.Environment.ShipperVersion)
}

func TestMigrateRefusesUnknownMajor(t *testing.T) {
	future := `{"receipt_version": "shipper.receipt.v9", "plan_id": "x"}`
	_, err := MigrateReceipt([]byte(future))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeSchemaUnsupported, types.CodeOf(err))
}

func TestMigrateMissingVersionDefaultsToV1(t *testing.T) {
	noVersion := `{
  "plan_id": "plan-bare",
  "registry": {"name": "crates-io", "api_base": "https://crates.io"},
  "started_at": "2025-01-01T00:00:00Z",
  "finished_at": "2025-01-01T00:05:00Z",
  "packages": [],
  "event_log_path": ".shipper/events.jsonl"
}`
	receipt, err := MigrateReceipt([]byte(noVersion))
	require.NoError(t, err)
	assert.Equal(t, CurrentReceiptVersion, receipt.ReceiptVersion)
}

func TestMigrateCorruptReceipt(t *testing.T) {
	_, err := MigrateReceipt([]byte("{nope"))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeStateCorrupt, types.CodeOf(err))
}
