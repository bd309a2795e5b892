package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"
)

// DAG represents an executable directed acyclic graph built from a Graph artifact
type DAG struct {
	// graph is the underlying graph structure from dominikbraun/graph
	graph graph.Graph[string, string]

	// nodeMap provides quick lookup of nodes by ID
	nodeMap map[string]*Node

	// order contains the topologically sorted node IDs
	order []string
}

// BuildDAG converts a Graph artifact into an executable DAG
// It validates the graph structure, detects cycles, and computes topological order
func BuildDAG(g *Graph) (*DAG, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: graph cannot be nil", ErrInvalidGraph)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}

	dg := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())

	nodeMap := make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		node := &g.Nodes[i]
		nodeMap[node.ID] = node
		if err := dg.AddVertex(node.ID); err != nil {
			return nil, fmt.Errorf("failed to add vertex %s: %w", node.ID, err)
		}
	}

	// AddEdge(source, target) means source -> target, so a dependency
	// points at its dependent: depID must complete before id can start.
	for i := range g.Nodes {
		node := &g.Nodes[i]
		for _, depID := range node.DependsOn {
			if err := dg.AddEdge(depID, node.ID); err != nil {
				if errors.Is(err, graph.ErrEdgeCreatesCycle) {
					return nil, fmt.Errorf("%w: edge %s -> %s", ErrCycle, depID, node.ID)
				}
				return nil, fmt.Errorf("failed to add edge %s -> %s: %w", depID, node.ID, err)
			}
		}
	}

	// Ties are broken by node ID so plans are reproducible
	order, err := graph.StableTopologicalSort(dg, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}

	return &DAG{
		graph:   dg,
		nodeMap: nodeMap,
		order:   order,
	}, nil
}

// GetNode retrieves a node by ID
func (d *DAG) GetNode(id string) (*Node, bool) {
	node, found := d.nodeMap[id]
	return node, found
}

// GetOrder returns the topologically sorted node IDs
// Nodes earlier in the list have no dependencies on nodes later in the list
func (d *DAG) GetOrder() []string {
	return d.order
}

// GetDependencies returns the IDs of nodes that the given node depends on
func (d *DAG) GetDependencies(id string) ([]string, error) {
	node, found := d.nodeMap[id]
	if !found {
		return nil, fmt.Errorf("node %s not found", id)
	}
	return node.DependsOn, nil
}

// GetDependents returns the IDs of nodes that depend on the given node, sorted
func (d *DAG) GetDependents(id string) ([]string, error) {
	adjacency, err := d.graph.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	edges, found := adjacency[id]
	if !found {
		return nil, fmt.Errorf("node %s not found", id)
	}

	dependents := make([]string, 0, len(edges))
	for target := range edges {
		dependents = append(dependents, target)
	}
	sort.Strings(dependents)
	return dependents, nil
}

// Size returns the number of nodes in the DAG
func (d *DAG) Size() int {
	return len(d.nodeMap)
}

// HasCycles checks if the graph has any cycles
// This should always return false if BuildDAG succeeded
func (d *DAG) HasCycles() bool {
	_, err := graph.TopologicalSort(d.graph)
	return err != nil
}

// GetRootNodes returns nodes that have no dependencies, in plan order
func (d *DAG) GetRootNodes() []string {
	var roots []string
	for _, id := range d.order {
		if len(d.nodeMap[id].DependsOn) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// GetLeafNodes returns nodes that no other nodes depend on, in plan order
func (d *DAG) GetLeafNodes() []string {
	hasDependents := make(map[string]bool)
	for _, node := range d.nodeMap {
		for _, depID := range node.DependsOn {
			hasDependents[depID] = true
		}
	}

	var leaves []string
	for _, id := range d.order {
		if !hasDependents[id] {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// Precedes reports whether node a is ordered before node b in the plan
func (d *DAG) Precedes(a, b string) bool {
	ia, ib := -1, -1
	for i, id := range d.order {
		switch id {
		case a:
			ia = i
		case b:
			ib = i
		}
	}
	return ia >= 0 && ib >= 0 && ia < ib
}
