// Package environment captures the toolchain fingerprint recorded in
// receipts.
package environment

import (
	"os/exec"
	"runtime"
	"strings"

	"github.com/piwi3910/shipper/pkg/types"
	"github.com/piwi3910/shipper/pkg/workspace"
)

// Collect gathers the environment fingerprint: shipper version, tool
// and runtime versions (best-effort), OS and architecture.
func Collect(shipperVersion string) types.EnvironmentFingerprint {
	return types.EnvironmentFingerprint{
		ShipperVersion: shipperVersion,
		CargoVersion:   toolVersion(workspace.CargoBin()),
		RustVersion:    toolVersion("rustc"),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
	}
}

// toolVersion runs "<bin> --version" and extracts the second
// whitespace-separated field, e.g. "cargo 1.75.0 (...)" -> "1.75.0".
func toolVersion(bin string) string {
	out, err := exec.Command(bin, "--version").Output()
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(out))
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
