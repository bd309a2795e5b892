package graph

import (
	"fmt"
)

// Validate checks the integrity of the Graph
func (g *Graph) Validate() error {
	if g.Metadata.Name == "" {
		return fmt.Errorf("%w: metadata.name is required", ErrInvalidGraph)
	}

	if g.Metadata.Version == "" {
		return fmt.Errorf("%w: metadata.version is required", ErrInvalidGraph)
	}

	// Check for duplicate node IDs and duplicate resource identities
	nodeIDs := make(map[string]bool, len(g.Nodes))
	identities := make(map[string]string, len(g.Nodes))
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.ID == "" {
			return fmt.Errorf("%w: node ID is required", ErrInvalidGraph)
		}
		if nodeIDs[node.ID] {
			return fmt.Errorf("%w: node ID %s", ErrDuplicateNode, node.ID)
		}
		nodeIDs[node.ID] = true

		key := node.identity()
		if other, found := identities[key]; found {
			return fmt.Errorf("%w: nodes %s and %s both describe %s", ErrDuplicateNode, other, node.ID, key)
		}
		identities[key] = node.ID
	}

	for i := range g.Nodes {
		node := &g.Nodes[i]
		if err := node.Validate(nodeIDs); err != nil {
			return fmt.Errorf("node %s: %w", node.ID, err)
		}
	}

	for i, v := range g.Violations {
		switch v.Severity {
		case ViolationSeverityError, ViolationSeverityWarning:
		default:
			return fmt.Errorf("%w: violations[%d]: invalid severity %q", ErrInvalidGraph, i, v.Severity)
		}
	}

	return nil
}

// Validate checks the integrity of a Node
func (n *Node) Validate(allNodeIDs map[string]bool) error {
	if n.ID == "" {
		return fmt.Errorf("%w: node ID is required", ErrInvalidGraph)
	}

	if n.Object.GetKind() == "" {
		return fmt.Errorf("%w: object kind is required", ErrInvalidGraph)
	}

	if n.Object.GetAPIVersion() == "" {
		return fmt.Errorf("%w: object apiVersion is required", ErrInvalidGraph)
	}

	if n.Object.GetName() == "" {
		return fmt.Errorf("%w: object name is required", ErrInvalidGraph)
	}

	if err := n.ApplyPolicy.Validate(); err != nil {
		return fmt.Errorf("applyPolicy: %w", err)
	}

	seen := make(map[string]bool, len(n.DependsOn))
	for _, depID := range n.DependsOn {
		if depID == n.ID {
			return fmt.Errorf("%w: node depends on itself", ErrCycle)
		}
		if !allNodeIDs[depID] {
			return fmt.Errorf("%w: dependency %s does not exist", ErrDanglingReference, depID)
		}
		if seen[depID] {
			return fmt.Errorf("%w: dependency %s listed twice", ErrInvalidGraph, depID)
		}
		seen[depID] = true
	}

	for i, pred := range n.ReadyWhen {
		if err := pred.Validate(); err != nil {
			return fmt.Errorf("readyWhen[%d]: %w", i, err)
		}
	}

	return nil
}

// Validate checks the integrity of an ApplyPolicy
func (ap *ApplyPolicy) Validate() error {
	// Set defaults
	if ap.Mode == "" {
		ap.Mode = ApplyModeApply
	}

	if ap.ConflictPolicy == "" {
		ap.ConflictPolicy = ConflictPolicyError
	}

	if ap.FieldManager == "" {
		ap.FieldManager = DefaultFieldManager
	}

	switch ap.Mode {
	case ApplyModeApply, ApplyModeCreate, ApplyModeAdopt:
	default:
		return fmt.Errorf("%w: invalid apply mode: %s", ErrInvalidGraph, ap.Mode)
	}

	switch ap.ConflictPolicy {
	case ConflictPolicyError, ConflictPolicyForce:
	default:
		return fmt.Errorf("%w: invalid conflict policy: %s", ErrInvalidGraph, ap.ConflictPolicy)
	}

	return nil
}

// Validate checks the integrity of a ReadinessPredicate
func (rp *ReadinessPredicate) Validate() error {
	switch rp.Type {
	case PredicateTypeConditionMatch:
		if rp.ConditionType == "" {
			return fmt.Errorf("%w: conditionType is required for ConditionMatch predicate", ErrInvalidGraph)
		}
		if rp.ConditionStatus == "" {
			return fmt.Errorf("%w: conditionStatus is required for ConditionMatch predicate", ErrInvalidGraph)
		}
	case PredicateTypeExists:
	default:
		return fmt.Errorf("%w: invalid predicate type: %s", ErrInvalidGraph, rp.Type)
	}

	if rp.Timeout < 0 {
		return fmt.Errorf("%w: timeout must be non-negative", ErrInvalidGraph)
	}

	return nil
}
