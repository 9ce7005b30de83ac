// Package visualize renders operator graphs as diagrams.
package visualize

import (
	"fmt"
	"strings"

	"github.com/emicklei/dot"

	"github.com/l7mp/deltaflow/pkg/circuit"
	"github.com/l7mp/deltaflow/pkg/operator"
)

// BuildDotGraph creates a dot.Graph from a validated circuit graph. The
// unified graph can then be rendered in different formats (DOT, Mermaid).
func BuildDotGraph(name string, g *circuit.Graph) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "LR") // Left to right layout.
	graph.Attr("label", name)
	graph.Attr("labelloc", "t") // Label at top.
	graph.Attr("fontsize", "16")

	outputs := map[string]bool{}
	for _, id := range g.Outputs() {
		outputs[id] = true
	}

	nodes := make(map[string]dot.Node)
	for _, level := range g.Levels() {
		for _, node := range level {
			var n dot.Node
			switch {
			case node.IsInput():
				n = graph.Node(node.ID).
					Attr("label", inputLabel(node.ID)).
					Attr("shape", "ellipse").
					Attr("style", "filled").
					Attr("fillcolor", "lightgreen")
			case outputs[node.ID]:
				n = graph.Node(node.ID).
					Attr("label", opLabel(node)).
					Attr("shape", "box").
					Attr("style", "filled,rounded").
					Attr("fillcolor", "lightcyan").
					Attr("penwidth", "2")
			default:
				n = graph.Node(node.ID).
					Attr("label", opLabel(node)).
					Attr("shape", "box").
					Attr("style", "filled,rounded").
					Attr("fillcolor", "lightblue")
			}
			nodes[node.ID] = n
		}
	}

	for _, level := range g.Levels() {
		for _, node := range level {
			for _, src := range node.Inputs {
				graph.Edge(nodes[src.ID], nodes[node.ID]).
					Attr("fontsize", "10")
			}
		}
	}

	return graph
}

// inputLabel strips the id prefix off an input node, leaving the table name.
func inputLabel(id string) string {
	if i := strings.Index(id, "_input_"); i >= 0 {
		return id[i+len("_input_"):]
	}
	return id
}

// opLabel renders an operator node as "name (kind)".
func opLabel(node *circuit.Node) string {
	return fmt.Sprintf("%s (%s)", node.Op.Name(), opKind(node.Op.OpType()))
}

func opKind(t operator.Type) string {
	switch t {
	case operator.TypeLinear:
		return "linear"
	case operator.TypeBilinear:
		return "bilinear"
	case operator.TypeNonLinear:
		return "nonlinear"
	case operator.TypeStructural:
		return "structural"
	default:
		return "unknown"
	}
}
