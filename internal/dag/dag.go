// Package dag implements the directed acyclic graph utilities backing
// circuit validation and scheduling: cycle detection and topological
// ordering with level grouping, where a level contains nodes with no
// dependency between them.
package dag

import (
	"fmt"
	"sort"
)

// Graph is a directed graph over string-labeled nodes. Edges point from a
// producer to its consumer.
type Graph struct {
	Nodes   []string
	byLabel map[string]int
	edges   map[string]map[string]bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{byLabel: map[string]int{}, edges: map[string]map[string]bool{}}
}

// AddNode adds a node, returning false if it already exists.
func (g *Graph) AddNode(label string) bool {
	if _, ok := g.byLabel[label]; ok {
		return false
	}
	g.byLabel[label] = len(g.Nodes)
	g.Nodes = append(g.Nodes, label)
	g.edges[label] = map[string]bool{}
	return true
}

// HasNode reports whether the node exists.
func (g *Graph) HasNode(label string) bool {
	_, ok := g.byLabel[label]
	return ok
}

// AddEdge adds an edge from a producer to a consumer.
func (g *Graph) AddEdge(from, to string) {
	g.edges[from][to] = true
}

// HasEdge reports whether the edge exists.
func (g *Graph) HasEdge(from, to string) bool {
	return g.edges[from] != nil && g.edges[from][to]
}

// Edges returns the successors of a node in deterministic order.
func (g *Graph) Edges(from string) []string {
	succs := make([]string, 0, len(g.edges[from]))
	for to := range g.edges[from] {
		succs = append(succs, to)
	}
	sort.Strings(succs)
	return succs
}

// Roots returns the nodes without an incoming edge, in insertion order.
func (g *Graph) Roots() []string {
	hasIncoming := map[string]bool{}
	for _, from := range g.Nodes {
		for to := range g.edges[from] {
			hasIncoming[to] = true
		}
	}

	roots := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if !hasIncoming[n] {
			roots = append(roots, n)
		}
	}
	return roots
}

// Levels partitions the nodes into topological levels: every node's
// producers live in strictly earlier levels, so nodes within a level may be
// evaluated in any order or concurrently. An error is returned if the graph
// contains a cycle.
func (g *Graph) Levels() ([][]string, error) {
	indegree := map[string]int{}
	for _, n := range g.Nodes {
		indegree[n] = 0
	}
	for _, from := range g.Nodes {
		for to := range g.edges[from] {
			indegree[to]++
		}
	}

	frontier := make([]string, 0)
	for _, n := range g.Nodes {
		if indegree[n] == 0 {
			frontier = append(frontier, n)
		}
	}

	levels := make([][]string, 0)
	seen := 0
	for len(frontier) > 0 {
		sort.Strings(frontier)
		levels = append(levels, frontier)
		seen += len(frontier)

		next := make([]string, 0)
		for _, n := range frontier {
			for _, succ := range g.Edges(n) {
				indegree[succ]--
				if indegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		frontier = next
	}

	if seen != len(g.Nodes) {
		return nil, fmt.Errorf("graph contains a cycle among %d node(s)", len(g.Nodes)-seen)
	}
	return levels, nil
}

// Topo returns a full topological order of the nodes, or an error if the
// graph contains a cycle.
func (g *Graph) Topo() ([]string, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}

	order := make([]string, 0, len(g.Nodes))
	for _, level := range levels {
		order = append(order, level...)
	}
	return order, nil
}
