package graph

import "errors"

var (
	// ErrInvalidGraph is returned when graph metadata or a node is malformed
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrDuplicateNode is returned when two nodes share an ID or an object identity
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrDanglingReference is returned when a node depends on a node that is not in the graph
	ErrDanglingReference = errors.New("dangling reference")

	// ErrCycle is returned when the dependency edges do not form a DAG
	ErrCycle = errors.New("dependency cycle")
)
