package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredentials(t *testing.T, content string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("CARGO_HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "credentials.toml"), []byte(content), 0o600))
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REGISTRY_TOKEN", "")
	t.Setenv("CARGO_HOME", t.TempDir())
}

func TestResolveTokenFromPrimaryEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("REGISTRY_TOKEN", "  env-token  ")

	tok, err := ResolveToken(DefaultRegistry)
	require.NoError(t, err)
	assert.Equal(t, "env-token", tok)
}

func TestPrimaryEnvOnlyAppliesToDefaultRegistry(t *testing.T) {
	clearEnv(t)
	t.Setenv("REGISTRY_TOKEN", "default-only")

	tok, err := ResolveToken("my-registry")
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestResolveTokenFromNamedRegistryEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("REGISTRIES_MY_REGISTRY_TOKEN", "named-token")

	tok, err := ResolveToken("my-registry")
	require.NoError(t, err)
	assert.Equal(t, "named-token", tok)
}

func TestEnvTakesPriorityOverFile(t *testing.T) {
	writeCredentials(t, `token = "file-token"`)
	t.Setenv("REGISTRY_TOKEN", "env-wins")

	tok, err := ResolveToken(DefaultRegistry)
	require.NoError(t, err)
	assert.Equal(t, "env-wins", tok)
}

func TestResolveTokenFromRegistriesTable(t *testing.T) {
	clearEnv(t)
	writeCredentials(t, `
[registries.my-registry]
token = "table-token"
`)

	tok, err := ResolveToken("my-registry")
	require.NoError(t, err)
	assert.Equal(t, "table-token", tok)
}

func TestResolveTokenFromRegistryTable(t *testing.T) {
	clearEnv(t)
	writeCredentials(t, `
[registry]
token = "registry-token"
`)

	tok, err := ResolveToken(DefaultRegistry)
	require.NoError(t, err)
	assert.Equal(t, "registry-token", tok)
}

func TestResolveTokenFromTopLevel(t *testing.T) {
	clearEnv(t)
	writeCredentials(t, `token = "top-token"`)

	tok, err := ResolveToken(DefaultRegistry)
	require.NoError(t, err)
	assert.Equal(t, "top-token", tok)
}

func TestResolveTokenMissingIsNotAnError(t *testing.T) {
	clearEnv(t)

	tok, err := ResolveToken(DefaultRegistry)
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestResolveTokenLegacyCredentialsFile(t *testing.T) {
	clearEnv(t)
	home := os.Getenv("CARGO_HOME")
	require.NoError(t, os.WriteFile(filepath.Join(home, "credentials"),
		[]byte(`token = "legacy-token"`), 0o600))

	tok, err := ResolveToken(DefaultRegistry)
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", tok)
}

func TestNormalizeRegistryForEnv(t *testing.T) {
	assert.Equal(t, "MY_REGISTRY", normalizeRegistryForEnv("my-registry"))
	assert.Equal(t, "REG_2", normalizeRegistryForEnv("reg.2"))
	assert.Equal(t, "UPPER", normalizeRegistryForEnv("UPPER"))
}
