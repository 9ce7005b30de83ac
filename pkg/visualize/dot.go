package visualize

import (
	"github.com/l7mp/deltaflow/pkg/circuit"
)

// DotGenerator generates Graphviz DOT diagrams.
type DotGenerator struct{}

// Generate creates a Graphviz DOT diagram from a validated circuit graph.
func (d *DotGenerator) Generate(name string, g *circuit.Graph) string {
	dotGraph := BuildDotGraph(name, g)
	return dotGraph.String()
}
