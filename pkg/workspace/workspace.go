// Package workspace reads package metadata for a multi-package
// workspace by invoking the packaging tool's metadata command.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Package is one workspace member.
type Package struct {
	ID           string
	Name         string
	Version      string
	ManifestPath string

	// Publish mirrors the manifest's publish field: nil means allowed
	// everywhere, empty means publish = false, otherwise the allowed
	// registry names.
	Publish []string

	// Dependencies are the names of intra-workspace packages this one
	// depends on via normal or build edges.
	Dependencies []string
}

// Metadata is the parsed workspace description.
type Metadata struct {
	WorkspaceRoot string
	Packages      []Package
}

// Load runs the metadata command for the workspace rooted at
// manifestPath and parses the result. The binary defaults to "cargo"
// and can be overridden via SHIPPER_CARGO_BIN.
func Load(ctx context.Context, manifestPath string) (*Metadata, error) {
	cmd := exec.CommandContext(ctx, CargoBin(),
		"metadata", "--format-version", "1", "--manifest-path", manifestPath)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to execute cargo metadata: %w", err)
	}
	return Parse(out)
}

// CargoBin returns the packaging tool binary, honoring the
// SHIPPER_CARGO_BIN override.
func CargoBin() string {
	if bin := os.Getenv("SHIPPER_CARGO_BIN"); bin != "" {
		return bin
	}
	return "cargo"
}

// rawMetadata mirrors the JSON shape of cargo metadata output, limited
// to the fields the planner consumes.
type rawMetadata struct {
	Packages []struct {
		ID           string    `json:"id"`
		Name         string    `json:"name"`
		Version      string    `json:"version"`
		ManifestPath string    `json:"manifest_path"`
		Publish      *[]string `json:"publish"`
	} `json:"packages"`
	WorkspaceMembers []string `json:"workspace_members"`
	Resolve          *struct {
		Nodes []struct {
			ID   string `json:"id"`
			Deps []struct {
				Pkg      string `json:"pkg"`
				DepKinds []struct {
					Kind *string `json:"kind"`
				} `json:"dep_kinds"`
			} `json:"deps"`
		} `json:"nodes"`
	} `json:"resolve"`
	WorkspaceRoot string `json:"workspace_root"`
}

// Parse decodes metadata JSON into the workspace model. Dependency
// edges are restricted to workspace members and to normal/build kinds
// (dev-dependencies do not constrain publish order). Versions must be
// valid semver.
func Parse(data []byte) (*Metadata, error) {
	var raw rawMetadata
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse workspace metadata: %w", err)
	}
	if raw.Resolve == nil {
		return nil, fmt.Errorf("workspace metadata did not include a resolve graph")
	}

	members := make(map[string]bool, len(raw.WorkspaceMembers))
	for _, id := range raw.WorkspaceMembers {
		members[id] = true
	}

	nameByID := make(map[string]string)
	pkgs := make(map[string]*Package)
	for _, p := range raw.Packages {
		if !members[p.ID] {
			continue
		}
		if _, err := semver.NewVersion(p.Version); err != nil {
			return nil, fmt.Errorf("package %s has invalid version %q: %w", p.Name, p.Version, err)
		}
		pkg := &Package{
			ID:           p.ID,
			Name:         p.Name,
			Version:      p.Version,
			ManifestPath: filepath.Clean(p.ManifestPath),
		}
		if p.Publish != nil {
			pkg.Publish = *p.Publish
		}
		pkgs[p.ID] = pkg
		nameByID[p.ID] = p.Name
	}

	for _, node := range raw.Resolve.Nodes {
		pkg, ok := pkgs[node.ID]
		if !ok {
			continue
		}
		for _, dep := range node.Deps {
			if !members[dep.Pkg] {
				continue
			}
			if !hasRelevantKind(dep.DepKinds) {
				continue
			}
			if name, ok := nameByID[dep.Pkg]; ok {
				pkg.Dependencies = append(pkg.Dependencies, name)
			}
		}
		sort.Strings(pkg.Dependencies)
	}

	out := &Metadata{WorkspaceRoot: raw.WorkspaceRoot}
	for _, pkg := range pkgs {
		out.Packages = append(out.Packages, *pkg)
	}
	sort.Slice(out.Packages, func(i, j int) bool {
		return out.Packages[i].Name < out.Packages[j].Name
	})
	return out, nil
}

// hasRelevantKind reports whether any dep kind is normal (null) or
// "build".
func hasRelevantKind(kinds []struct {
	Kind *string `json:"kind"`
}) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k.Kind == nil || *k.Kind == "build" {
			return true
		}
	}
	return false
}
