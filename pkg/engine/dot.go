package engine

import (
	"fmt"
	"strings"
)

// ToDOT generates a DOT format representation of the plan for visualization.
// Units are clustered by level and edges are labelled with the capability
// they carry. The output can be rendered with Graphviz tools.
func (p *BuildPlan) ToDOT() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("digraph %q {\n", "plan_"+p.Profile))
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, units := range p.Levels() {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, unit := range units {
			step, _ := p.Step(unit)
			label := fmt.Sprintf("%s\\n#%d", unit, step.Position)
			sb.WriteString(fmt.Sprintf("    %q [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				unit, label, levelColor(level)))
		}

		sb.WriteString("  }\n\n")
	}

	for _, edge := range p.Edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q [label=%q];\n", edge.From, edge.To, edge.Capability))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// levelColor returns a fill color for a dependency level.
func levelColor(level int) string {
	switch {
	case level == 0:
		return "lightgreen"
	case level%2 == 1:
		return "lightblue"
	default:
		return "lightyellow"
	}
}
