package plan

import (
	"fmt"
	"strings"

	"github.com/piwi3910/shipper/pkg/types"
)

// ToDOT renders the plan's wave structure in DOT format for Graphviz.
func ToDOT(p *types.Plan) string {
	var sb strings.Builder

	sb.WriteString("digraph PublishPlan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, wave := range Waves(p) {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_wave_%d {\n", wave.Level))
		sb.WriteString(fmt.Sprintf("    label=\"Wave %d\";\n", wave.Level))
		sb.WriteString("    style=dashed;\n")
		for _, pkg := range wave.Packages {
			sb.WriteString(fmt.Sprintf("    %q [label=\"%s\\n%s\"];\n",
				pkg.Name, pkg.Name, pkg.Version))
		}
		sb.WriteString("  }\n\n")
	}

	for _, pkg := range p.Packages {
		for _, dep := range p.Dependencies[pkg.Name] {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", dep, pkg.Name))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
