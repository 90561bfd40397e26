// Package plan builds deterministic, dependency-first publish plans
// from workspace metadata, partitioned into parallelizable waves.
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/piwi3910/shipper/pkg/types"
	"github.com/piwi3910/shipper/pkg/workspace"
)

// PlanVersion is the current plan schema version.
const PlanVersion = "shipper.plan.v1"

// Result bundles the plan with the packages excluded from it.
type Result struct {
	WorkspaceRoot string
	Plan          *types.Plan
	Skipped       []types.SkippedPackage
}

// Build restricts the workspace dependency graph to publishable,
// selected packages and produces the publish plan. Selecting packages
// pulls in their intra-workspace dependencies transitively. The order
// is a topological sort whose ready set is kept ordered by
// (name, version) — the sole source of determinism. Fails with
// CYCLE_DETECTED when the restricted graph is not a DAG.
func Build(meta *workspace.Metadata, registry types.Registry, selected []string) (*Result, error) {
	publishable := make(map[string]workspace.Package)
	var skipped []types.SkippedPackage

	for _, pkg := range meta.Packages {
		if reason := skipReason(pkg, registry.Name); reason != "" {
			skipped = append(skipped, types.SkippedPackage{
				Name:    pkg.Name,
				Version: pkg.Version,
				Reason:  reason,
			})
			continue
		}
		publishable[pkg.Name] = pkg
	}

	// Dependency edges restricted to publishable workspace members.
	depsOf := make(map[string][]string)
	for name, pkg := range publishable {
		for _, dep := range pkg.Dependencies {
			if _, ok := publishable[dep]; ok {
				depsOf[name] = append(depsOf[name], dep)
			}
		}
		sort.Strings(depsOf[name])
	}

	included, err := selectPackages(publishable, depsOf, selected)
	if err != nil {
		return nil, err
	}

	order, err := topoSort(included, publishable, depsOf)
	if err != nil {
		return nil, err
	}

	packages := make([]types.PlannedPackage, 0, len(order))
	dependencies := make(map[string][]string, len(order))
	for _, name := range order {
		pkg := publishable[name]
		packages = append(packages, types.PlannedPackage{
			Name:         pkg.Name,
			Version:      pkg.Version,
			ManifestPath: pkg.ManifestPath,
		})
		inPlan := make([]string, 0, len(depsOf[name]))
		for _, dep := range depsOf[name] {
			if included[dep] {
				inPlan = append(inPlan, dep)
			}
		}
		dependencies[name] = inPlan
	}

	return &Result{
		WorkspaceRoot: meta.WorkspaceRoot,
		Plan: &types.Plan{
			PlanVersion:  PlanVersion,
			PlanID:       ComputePlanID(packages),
			CreatedAt:    time.Now().UTC(),
			Registry:     registry,
			Packages:     packages,
			Dependencies: dependencies,
		},
		Skipped: skipped,
	}, nil
}

// skipReason returns why a package is excluded from the plan, or ""
// when it is publishable to the named registry.
func skipReason(pkg workspace.Package, registryName string) string {
	if pkg.Publish == nil {
		return ""
	}
	if len(pkg.Publish) == 0 {
		return "publish = false"
	}
	for _, r := range pkg.Publish {
		if r == registryName {
			return ""
		}
	}
	return fmt.Sprintf("publish = %s (registry not in list)", strings.Join(pkg.Publish, ", "))
}

// selectPackages resolves the optional subset filter, including
// internal dependencies transitively.
func selectPackages(
	publishable map[string]workspace.Package,
	depsOf map[string][]string,
	selected []string,
) (map[string]bool, error) {
	included := make(map[string]bool)

	if len(selected) == 0 {
		for name := range publishable {
			included[name] = true
		}
		return included, nil
	}

	queue := make([]string, 0, len(selected))
	for _, name := range selected {
		if _, ok := publishable[name]; !ok {
			return nil, types.NewPermanentError(
				fmt.Sprintf("selected package not found or not publishable: %s", name), nil)
		}
		if !included[name] {
			included[name] = true
			queue = append(queue, name)
		}
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, dep := range depsOf[name] {
			if !included[dep] {
				included[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return included, nil
}

// topoSort runs Kahn's algorithm over the included set. Ties break by
// (name, version) through a sorted ready slice.
func topoSort(
	included map[string]bool,
	publishable map[string]workspace.Package,
	depsOf map[string][]string,
) ([]string, error) {
	indegree := make(map[string]int, len(included))
	dependentsOf := make(map[string][]string, len(included))

	for name := range included {
		count := 0
		for _, dep := range depsOf[name] {
			if included[dep] {
				count++
				dependentsOf[dep] = append(dependentsOf[dep], name)
			}
		}
		indegree[name] = count
	}

	ready := newOrderedReady(publishable)
	for name, deg := range indegree {
		if deg == 0 {
			ready.push(name)
		}
	}

	order := make([]string, 0, len(included))
	for ready.len() > 0 {
		name := ready.pop()
		order = append(order, name)
		for _, dependent := range dependentsOf[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready.push(dependent)
			}
		}
	}

	if len(order) != len(included) {
		remaining := make([]string, 0)
		for name := range included {
			if indegree[name] > 0 {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, types.NewPermanentError(
			fmt.Sprintf("dependency cycle detected within publish set: %s", strings.Join(remaining, ", ")),
			nil,
		).WithCode(types.ErrCodeCycleDetected)
	}

	return order, nil
}

// orderedReady is the sorted ready set for Kahn's algorithm, keyed by
// (name, version).
type orderedReady struct {
	packages map[string]workspace.Package
	keys     []string
}

func newOrderedReady(packages map[string]workspace.Package) *orderedReady {
	return &orderedReady{packages: packages}
}

// key joins name and version with a NUL byte, which sorts below every
// name byte, so keys compare by name first and version second.
func (r *orderedReady) key(name string) string {
	return name + "\x00" + r.packages[name].Version
}

func (r *orderedReady) push(name string) {
	key := r.key(name)
	i := sort.SearchStrings(r.keys, key)
	r.keys = append(r.keys, "")
	copy(r.keys[i+1:], r.keys[i:])
	r.keys[i] = key
}

func (r *orderedReady) pop() string {
	key := r.keys[0]
	r.keys = r.keys[1:]
	name, _, _ := strings.Cut(key, "\x00")
	return name
}

func (r *orderedReady) len() int {
	return len(r.keys)
}

// ComputePlanID hashes the ordered (name, version) pairs to a hex
// digest. Identical sets yield identical IDs regardless of input order
// because the order itself is deterministic.
func ComputePlanID(packages []types.PlannedPackage) string {
	h := sha256.New()
	for _, p := range packages {
		h.Write([]byte(p.Name))
		h.Write([]byte("@"))
		h.Write([]byte(p.Version))
		h.Write([]byte("\n"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Waves partitions the plan into dependency levels: a leaf sits at
// level 0, every other package one past its deepest in-plan
// dependency. Packages in the same wave have no mutual dependencies.
func Waves(p *types.Plan) []types.Wave {
	if len(p.Packages) == 0 {
		return nil
	}

	level := make(map[string]int, len(p.Packages))
	var waves []types.Wave

	// Packages arrive in topological order, so every dependency's
	// level is known before its dependents are visited.
	for _, pkg := range p.Packages {
		l := 0
		for _, dep := range p.Dependencies[pkg.Name] {
			if dl, ok := level[dep]; ok && dl+1 > l {
				l = dl + 1
			}
		}
		level[pkg.Name] = l

		for len(waves) <= l {
			waves = append(waves, types.Wave{Level: len(waves)})
		}
		waves[l].Packages = append(waves[l].Packages, pkg)
	}

	return waves
}
