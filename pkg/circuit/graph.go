package circuit

import (
	"fmt"

	"github.com/l7mp/deltaflow/internal/dag"
	"github.com/l7mp/deltaflow/pkg/operator"
	"github.com/l7mp/deltaflow/pkg/zset"
)

// Node is a vertex of the operator graph: either an input table or an
// operator instance, identified by a stable id.
type Node struct {
	ID     string
	Op     operator.Operator
	Schema zset.Schema // non-nil only for input tables
	Inputs []*Node
}

// IsInput reports whether the node is an input table.
func (n *Node) IsInput() bool { return n.Op == nil }

// Graph is the static operator graph a circuit executes. It is built once,
// validated, and then never mutated: Validate freezes the topology and
// computes the level schedule.
type Graph struct {
	nodes   map[string]*Node
	inputs  map[string]*Node // input table name -> node
	outputs []string         // node ids marked as output views
	nextID  int
	levels  [][]*Node // computed by Validate
}

// NewGraph creates an empty operator graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:  make(map[string]*Node),
		inputs: make(map[string]*Node),
	}
}

// AddInput declares an input table under the given name. The schema, if
// non-nil, is enforced against every delta pushed into the table.
func (g *Graph) AddInput(table string, schema zset.Schema) (string, error) {
	if g.levels != nil {
		return "", NewInvalidGraphError("graph already validated", nil)
	}
	if _, ok := g.inputs[table]; ok {
		return "", NewInvalidGraphError(fmt.Sprintf("duplicate input table %q", table), nil)
	}

	id := fmt.Sprintf("node_%d_input_%s", g.nextID, table)
	g.nextID++

	node := &Node{ID: id, Schema: schema}
	g.nodes[id] = node
	g.inputs[table] = node
	return id, nil
}

// AddOperator adds an operator fed by the given upstream nodes. The number
// of upstream ids must match the operator's arity.
func (g *Graph) AddOperator(op operator.Operator, upstream ...string) (string, error) {
	if g.levels != nil {
		return "", NewInvalidGraphError("graph already validated", nil)
	}
	if len(upstream) != op.Arity() {
		return "", NewInvalidGraphError(fmt.Sprintf("operator %s expects %d inputs, got %d",
			op.Name(), op.Arity(), len(upstream)), nil)
	}

	id := fmt.Sprintf("node_%d_%s", g.nextID, op.Name())
	g.nextID++

	node := &Node{ID: id, Op: op}
	for _, from := range upstream {
		src, ok := g.nodes[from]
		if !ok {
			return "", NewInvalidGraphError(fmt.Sprintf("upstream node %s not found", from), nil)
		}
		node.Inputs = append(node.Inputs, src)
	}

	g.nodes[id] = node
	return id, nil
}

// MarkOutput marks a node as an output view. A step's result exposes the
// delta of every marked node.
func (g *Graph) MarkOutput(id string) error {
	if _, ok := g.nodes[id]; !ok {
		return NewInvalidGraphError(fmt.Sprintf("output node %s not found", id), nil)
	}
	for _, existing := range g.outputs {
		if existing == id {
			return nil
		}
	}
	g.outputs = append(g.outputs, id)
	return nil
}

// InputNode returns the node of an input table.
func (g *Graph) InputNode(table string) (*Node, bool) {
	n, ok := g.inputs[table]
	return n, ok
}

// Node returns a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Validate checks the graph for structural errors and freezes it: every
// operator has its full arity wired, at least one output is marked, and the
// topology is acyclic. On success the node level schedule is cached for the
// executor.
func (g *Graph) Validate() error {
	if g.levels != nil {
		return nil
	}
	if len(g.inputs) == 0 {
		return NewInvalidGraphError("graph has no input tables", nil)
	}
	if len(g.outputs) == 0 {
		return NewInvalidGraphError("graph has no output views", nil)
	}

	d := dag.New()
	for id := range g.nodes {
		d.AddNode(id)
	}
	for id, node := range g.nodes {
		if node.Op != nil && len(node.Inputs) != node.Op.Arity() {
			return NewInvalidGraphError(fmt.Sprintf("node %s has %d of %d inputs wired",
				id, len(node.Inputs), node.Op.Arity()), nil)
		}
		for _, src := range node.Inputs {
			d.AddEdge(src.ID, id)
		}
	}

	levelIDs, err := d.Levels()
	if err != nil {
		return NewInvalidGraphError("cyclic dependency outside a recursive region", err)
	}

	g.levels = make([][]*Node, 0, len(levelIDs))
	for _, ids := range levelIDs {
		level := make([]*Node, 0, len(ids))
		for _, id := range ids {
			level = append(level, g.nodes[id])
		}
		g.levels = append(g.levels, level)
	}
	return nil
}

// Levels returns the cached level schedule. Validate must have succeeded.
func (g *Graph) Levels() [][]*Node { return g.levels }

// Outputs returns the ids of the marked output views in marking order.
func (g *Graph) Outputs() []string {
	out := make([]string, len(g.outputs))
	copy(out, g.outputs)
	return out
}

// Tables returns the declared input table names.
func (g *Graph) Tables() []string {
	tables := make([]string, 0, len(g.inputs))
	for name := range g.inputs {
		tables = append(tables, name)
	}
	return tables
}

// statefulNodes returns every node whose operator holds traces, keyed by
// node id. Recursive regions expose their nested operators' traces under
// flattened names.
func (g *Graph) statefulNodes() map[string]operator.Stateful {
	stateful := map[string]operator.Stateful{}
	for id, node := range g.nodes {
		if node.Op == nil {
			continue
		}
		if s, ok := node.Op.(operator.Stateful); ok {
			stateful[id] = s
		}
	}
	return stateful
}
