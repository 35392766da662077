// Package graph orders backfill jobs by their declared dependencies.
package graph

import "sort"

// Node is one job in the dependency graph.
type Node struct {
	Name        string
	Type        string
	Description string
}

// Edge points from a dependency to the job that depends on it.
type Edge struct {
	From string
	To   string
}

// Graph holds jobs and their depends_on relations.
type Graph struct {
	Nodes    map[string]*Node    // job name -> node
	Children map[string][]string // job -> jobs that depend on it
	Parents  map[string][]string // job -> jobs it depends on
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:    make(map[string]*Node),
		Children: make(map[string][]string),
		Parents:  make(map[string][]string),
	}
}

// AddNode adds a job node. A nil node is created with defaults.
func (g *Graph) AddNode(name string, node *Node) {
	if node == nil {
		node = &Node{}
	}
	node.Name = name
	g.Nodes[name] = node
}

// AddEdge records that dependent runs after dependency.
func (g *Graph) AddEdge(dependency, dependent string) {
	g.Children[dependency] = append(g.Children[dependency], dependent)
	g.Parents[dependent] = append(g.Parents[dependent], dependency)
}

// HasNode reports whether the graph contains the job.
func (g *Graph) HasNode(name string) bool {
	_, ok := g.Nodes[name]
	return ok
}

// GetNode returns the node for a job, or nil.
func (g *Graph) GetNode(name string) *Node {
	return g.Nodes[name]
}

// Dependencies returns the jobs name depends on, sorted.
func (g *Graph) Dependencies(name string) []string {
	return sorted(g.Parents[name])
}

// Dependents returns the jobs depending on name, sorted.
func (g *Graph) Dependents(name string) []string {
	return sorted(g.Children[name])
}

// NodeCount returns the number of jobs.
func (g *Graph) NodeCount() int {
	return len(g.Nodes)
}

// EdgeCount returns the number of dependency edges.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.Children {
		count += len(children)
	}
	return count
}

// AllNodes returns every job name, sorted.
func (g *Graph) AllNodes() []string {
	nodes := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		nodes = append(nodes, name)
	}
	sort.Strings(nodes)
	return nodes
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
