package visualize

import (
	"fmt"

	"github.com/emicklei/dot"

	"github.com/l7mp/deltaflow/pkg/circuit"
)

// MermaidGenerator generates Mermaid flowchart diagrams.
type MermaidGenerator struct{}

// Generate creates a Mermaid flowchart from a validated circuit graph.
func (m *MermaidGenerator) Generate(name string, g *circuit.Graph) string {
	dotGraph := BuildDotGraph(name, g)

	// Generate Mermaid flowchart with left-to-right orientation.
	mermaid := dot.MermaidFlowchart(dotGraph, dot.MermaidLeftToRight)

	// Wrap in markdown code block.
	return fmt.Sprintf("```mermaid\n%s\n```\n", mermaid)
}
