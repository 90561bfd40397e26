package gitx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeGit installs a shell script standing in for git. Behavior
// is driven by environment variables so each test scripts its own
// repository shape.
func writeFakeGit(t *testing.T) {
	t.Helper()
	bin := t.TempDir()
	path := filepath.Join(bin, "git")
	script := `#!/usr/bin/env sh
case "$1 $2 $3" in
"rev-parse --git-dir "*)
	[ "${FAKE_GIT_REPO:-1}" = "1" ] || { echo "fatal: not a git repository" >&2; exit 128; }
	echo ".git"
	;;
"rev-parse HEAD ")
	echo "${FAKE_GIT_COMMIT:-0123abcd}"
	;;
"rev-parse --abbrev-ref HEAD")
	echo "${FAKE_GIT_BRANCH:-main}"
	;;
"describe --tags --exact-match")
	if [ -n "$FAKE_GIT_TAG" ]; then
		echo "$FAKE_GIT_TAG"
		exit 0
	fi
	echo "fatal: no tag exactly matches" >&2
	exit 128
	;;
"status --porcelain ")
	[ -n "$FAKE_GIT_DIRTY" ] && echo " M src/lib.rs"
	exit 0
	;;
*)
	exit 1
	;;
esac
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("SHIPPER_GIT_BIN", path)
}

func TestCollectContextCleanRepo(t *testing.T) {
	writeFakeGit(t)
	t.Setenv("FAKE_GIT_COMMIT", "deadbeef")
	t.Setenv("FAKE_GIT_BRANCH", "release")

	ctx := CollectContext(t.TempDir())
	require.NotNil(t, ctx)
	assert.Equal(t, "deadbeef", ctx.Commit)
	assert.Equal(t, "release", ctx.Branch)
	assert.Empty(t, ctx.Tag)
	require.NotNil(t, ctx.Dirty)
	assert.False(t, *ctx.Dirty)
}

// TestCollectContextOnTaggedCommit is the regression for tag
// detection: the probe must pass only real arguments (no shell
// redirection tokens) so an exact-match tag is reported.
func TestCollectContextOnTaggedCommit(t *testing.T) {
	writeFakeGit(t)
	t.Setenv("FAKE_GIT_TAG", "v1.2.3")

	ctx := CollectContext(t.TempDir())
	require.NotNil(t, ctx)
	assert.Equal(t, "v1.2.3", ctx.Tag)
}

func TestCollectContextDetachedHead(t *testing.T) {
	writeFakeGit(t)
	t.Setenv("FAKE_GIT_BRANCH", "HEAD")

	ctx := CollectContext(t.TempDir())
	require.NotNil(t, ctx)
	assert.Empty(t, ctx.Branch)
}

func TestCollectContextOutsideRepo(t *testing.T) {
	writeFakeGit(t)
	t.Setenv("FAKE_GIT_REPO", "0")

	assert.Nil(t, CollectContext(t.TempDir()))
}

func TestIsCleanAndEnsureClean(t *testing.T) {
	writeFakeGit(t)

	clean, err := IsClean(t.TempDir())
	require.NoError(t, err)
	assert.True(t, clean)
	require.NoError(t, EnsureClean(t.TempDir()))

	t.Setenv("FAKE_GIT_DIRTY", "1")
	clean, err = IsClean(t.TempDir())
	require.NoError(t, err)
	assert.False(t, clean)

	err = EnsureClean(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not clean")
}
