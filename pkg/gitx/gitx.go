// Package gitx collects repository context for receipts and gates
// publishing on a clean working tree.
package gitx

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/piwi3910/shipper/pkg/types"
)

// CollectContext gathers commit, branch, tag, and dirty status for the
// repository at dir. Returns nil when dir is not inside a git
// repository. Each field is best-effort.
func CollectContext(dir string) *types.GitContext {
	if _, err := run(dir, "rev-parse", "--git-dir"); err != nil {
		return nil
	}

	ctx := &types.GitContext{}

	if out, err := run(dir, "rev-parse", "HEAD"); err == nil {
		ctx.Commit = out
	}

	// Detached HEAD reports "HEAD"; leave branch empty then.
	if out, err := run(dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil && out != "HEAD" {
		ctx.Branch = out
	}

	// The tag probe passes arguments only; the child's stderr is
	// discarded programmatically, never via a shell redirection token.
	if out, err := run(dir, "describe", "--tags", "--exact-match"); err == nil && out != "" {
		ctx.Tag = out
	}

	if out, err := run(dir, "status", "--porcelain"); err == nil {
		dirty := out != ""
		ctx.Dirty = &dirty
	}

	return ctx
}

// IsClean reports whether the working tree at dir has no uncommitted
// changes.
func IsClean(dir string) (bool, error) {
	cmd := exec.Command(gitBin(), "status", "--porcelain")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, fmt.Errorf("git status failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return false, fmt.Errorf("failed to execute git status; is git installed? %w", err)
	}
	return strings.TrimSpace(string(out)) == "", nil
}

// EnsureClean fails unless the working tree is clean.
func EnsureClean(dir string) error {
	clean, err := IsClean(dir)
	if err != nil {
		return err
	}
	if !clean {
		return types.NewPermanentError(
			"git working tree is not clean; commit or stash changes, or use --allow-dirty", nil).
			WithCode(types.ErrCodePreflightFailed)
	}
	return nil
}

// run executes git with args in dir and returns trimmed stdout.
func run(dir string, args ...string) (string, error) {
	cmd := exec.Command(gitBin(), args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func gitBin() string {
	if bin := os.Getenv("SHIPPER_GIT_BIN"); bin != "" {
		return bin
	}
	return "git"
}
