package engine

import (
	"time"

	"github.com/piwi3910/shipper/pkg/process"
	"github.com/piwi3910/shipper/pkg/workspace"
)

// publishCommand builds the upload invocation for one package.
// The registry flag is passed through only for non-default registries.
func publishCommand(workspaceRoot, pkgName, registryName string, opts Options, timeout time.Duration) process.Command {
	args := []string{"publish", "-p", pkgName}
	if registryName != "" && registryName != "crates-io" {
		args = append(args, "--registry", registryName)
	}
	if opts.AllowDirty {
		args = append(args, "--allow-dirty")
	}
	if opts.NoVerify {
		args = append(args, "--no-verify")
	}
	return process.Command{
		Program:     workspace.CargoBin(),
		Args:        args,
		Dir:         workspaceRoot,
		Timeout:     timeout,
		OutputLines: opts.OutputLines,
	}
}

// dryRunCommand builds the verification invocation. An empty pkgName
// verifies the whole workspace in one pass.
func dryRunCommand(workspaceRoot, pkgName, registryName string, opts Options) process.Command {
	args := []string{"publish", "--dry-run"}
	if pkgName != "" {
		args = append(args, "-p", pkgName)
	}
	if registryName != "" && registryName != "crates-io" {
		args = append(args, "--registry", registryName)
	}
	if opts.AllowDirty {
		args = append(args, "--allow-dirty")
	}
	return process.Command{
		Program:     workspace.CargoBin(),
		Args:        args,
		Dir:         workspaceRoot,
		OutputLines: opts.OutputLines,
	}
}
