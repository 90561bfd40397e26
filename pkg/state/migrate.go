package state

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/piwi3910/shipper/pkg/types"
)

// MigrateReceiptFile loads a receipt, rewriting older schema versions
// to the current one. A v1 receipt gains git_context (absent) and a
// default environment fingerprint. Versions newer than the current
// schema are refused; versions older than the minimum are refused.
func MigrateReceiptFile(path string) (*types.Receipt, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt file %s: %w", path, err)
	}
	return MigrateReceipt(content)
}

// MigrateReceipt migrates raw receipt JSON to the current schema.
func MigrateReceipt(content []byte) (*types.Receipt, error) {
	var probe struct {
		ReceiptVersion string `json:"receipt_version"`
	}
	if err := json.Unmarshal(content, &probe); err != nil {
		return nil, types.NewPermanentError("receipt file is corrupt", err).
			WithCode(types.ErrCodeStateCorrupt)
	}
	version := probe.ReceiptVersion
	if version == "" {
		version = MinimumReceiptVersion
	}

	if err := validateReceiptVersion(version); err != nil {
		return nil, err
	}

	switch version {
	case MinimumReceiptVersion:
		return migrateV1ToV2(content)
	default:
		var receipt types.Receipt
		if err := json.Unmarshal(content, &receipt); err != nil {
			return nil, types.NewPermanentError("failed to deserialize receipt", err).
				WithCode(types.ErrCodeStateCorrupt)
		}
		return &receipt, nil
	}
}

// migrateV1ToV2 fills the fields v2 added with safe defaults.
func migrateV1ToV2(content []byte) (*types.Receipt, error) {
	var receipt types.Receipt
	if err := json.Unmarshal(content, &receipt); err != nil {
		return nil, types.NewPermanentError("failed to deserialize v1 receipt", err).
			WithCode(types.ErrCodeStateCorrupt)
	}

	receipt.ReceiptVersion = CurrentReceiptVersion
	if receipt.Environment.OS == "" {
		receipt.Environment = types.EnvironmentFingerprint{
			ShipperVersion: "unknown",
			OS:             runtime.GOOS,
			Arch:           runtime.GOARCH,
		}
	}
	return &receipt, nil
}

// validateReceiptVersion enforces the supported schema window.
func validateReceiptVersion(version string) error {
	got, err := parseSchemaVersion(version)
	if err != nil {
		return types.NewPermanentError("invalid receipt version", err).
			WithCode(types.ErrCodeSchemaUnsupported)
	}
	minNum, _ := parseSchemaVersion(MinimumReceiptVersion)
	maxNum, _ := parseSchemaVersion(CurrentReceiptVersion)
	if got < minNum {
		return types.NewPermanentError(
			fmt.Sprintf("receipt version %s is older than minimum supported %s", version, MinimumReceiptVersion), nil).
			WithCode(types.ErrCodeSchemaUnsupported)
	}
	if got > maxNum {
		return types.NewPermanentError(
			fmt.Sprintf("receipt version %s is newer than supported %s", version, CurrentReceiptVersion), nil).
			WithCode(types.ErrCodeSchemaUnsupported)
	}
	return nil
}
