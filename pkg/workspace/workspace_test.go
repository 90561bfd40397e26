package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMetadata = `{
  "packages": [
    {
      "id": "path+file:///ws/core#core@0.1.0",
      "name": "core",
      "version": "0.1.0",
      "manifest_path": "/ws/core/Cargo.toml",
      "publish": null
    },
    {
      "id": "path+file:///ws/app#app@0.2.0",
      "name": "app",
      "version": "0.2.0",
      "manifest_path": "/ws/app/Cargo.toml",
      "publish": null
    },
    {
      "id": "path+file:///ws/internal#internal@0.1.0",
      "name": "internal",
      "version": "0.1.0",
      "manifest_path": "/ws/internal/Cargo.toml",
      "publish": []
    },
    {
      "id": "registry+https://github.com/rust-lang/crates.io-index#serde@1.0.0",
      "name": "serde",
      "version": "1.0.0",
      "manifest_path": "/registry/serde/Cargo.toml",
      "publish": null
    }
  ],
  "workspace_members": [
    "path+file:///ws/core#core@0.1.0",
    "path+file:///ws/app#app@0.2.0",
    "path+file:///ws/internal#internal@0.1.0"
  ],
  "resolve": {
    "nodes": [
      {
        "id": "path+file:///ws/core#core@0.1.0",
        "deps": []
      },
      {
        "id": "path+file:///ws/app#app@0.2.0",
        "deps": [
          {
            "pkg": "path+file:///ws/core#core@0.1.0",
            "dep_kinds": [{"kind": null}]
          },
          {
            "pkg": "registry+https://github.com/rust-lang/crates.io-index#serde@1.0.0",
            "dep_kinds": [{"kind": null}]
          }
        ]
      },
      {
        "id": "path+file:///ws/internal#internal@0.1.0",
        "deps": [
          {
            "pkg": "path+file:///ws/core#core@0.1.0",
            "dep_kinds": [{"kind": "dev"}]
          }
        ]
      }
    ]
  },
  "workspace_root": "/ws"
}`

func TestParseWorkspaceMetadata(t *testing.T) {
	meta, err := Parse([]byte(sampleMetadata))
	require.NoError(t, err)

	assert.Equal(t, "/ws", meta.WorkspaceRoot)
	require.Len(t, meta.Packages, 3, "non-members are excluded")

	byName := map[string]Package{}
	for _, p := range meta.Packages {
		byName[p.Name] = p
	}

	core := byName["core"]
	assert.Equal(t, "0.1.0", core.Version)
	assert.Nil(t, core.Publish)
	assert.Empty(t, core.Dependencies)

	app := byName["app"]
	// Only intra-workspace edges survive; serde is external.
	assert.Equal(t, []string{"core"}, app.Dependencies)

	internal := byName["internal"]
	assert.NotNil(t, internal.Publish)
	assert.Empty(t, internal.Publish)
	// Dev-dependencies do not constrain publish order.
	assert.Empty(t, internal.Dependencies)
}

func TestParseRejectsInvalidVersion(t *testing.T) {
	bad := `{
  "packages": [{
    "id": "p", "name": "x", "version": "not-semver",
    "manifest_path": "/ws/x/Cargo.toml", "publish": null
  }],
  "workspace_members": ["p"],
  "resolve": {"nodes": []},
  "workspace_root": "/ws"
}`
	_, err := Parse([]byte(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid version")
}

func TestParseRequiresResolveGraph(t *testing.T) {
	_, err := Parse([]byte(`{"packages": [], "workspace_members": [], "workspace_root": "/ws"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve graph")
}

func TestParseBuildDependencyCounts(t *testing.T) {
	withBuild := `{
  "packages": [
    {"id": "a", "name": "a", "version": "0.1.0", "manifest_path": "/ws/a/Cargo.toml", "publish": null},
    {"id": "b", "name": "b", "version": "0.1.0", "manifest_path": "/ws/b/Cargo.toml", "publish": null}
  ],
  "workspace_members": ["a", "b"],
  "resolve": {"nodes": [
    {"id": "a", "deps": []},
    {"id": "b", "deps": [{"pkg": "a", "dep_kinds": [{"kind": "build"}]}]}
  ]},
  "workspace_root": "/ws"
}`
	meta, err := Parse([]byte(withBuild))
	require.NoError(t, err)

	for _, p := range meta.Packages {
		if p.Name == "b" {
			assert.Equal(t, []string{"a"}, p.Dependencies)
		}
	}
}

func TestCargoBinOverride(t *testing.T) {
	t.Setenv("SHIPPER_CARGO_BIN", "/custom/cargo")
	assert.Equal(t, "/custom/cargo", CargoBin())

	t.Setenv("SHIPPER_CARGO_BIN", "")
	assert.Equal(t, "cargo", CargoBin())
}
