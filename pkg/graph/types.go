package graph

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Graph represents a dependency graph of resource descriptors to be provisioned
type Graph struct {
	// Metadata contains information about the graph
	Metadata GraphMetadata `json:"metadata"`

	// Nodes contains all the resource descriptors
	Nodes []Node `json:"nodes"`

	// Violations contains any policy findings recorded while building the graph
	Violations []Violation `json:"violations,omitempty"`
}

// GraphMetadata contains metadata about the graph
type GraphMetadata struct {
	// Name is a human-readable name for the graph
	Name string `json:"name"`

	// Version is the version of the graph format
	Version string `json:"version"`

	// Account is the cloud account the graph was built for
	Account string `json:"account,omitempty"`

	// Region is the default region of regional resources in the graph
	Region string `json:"region,omitempty"`

	// RenderHash is a hash of the rendered graph for change detection
	RenderHash string `json:"renderHash,omitempty"`
}

// Node represents a single resource descriptor in the graph
type Node struct {
	// ID is a unique identifier for this node within the graph
	ID string `json:"id"`

	// Object is the descriptor handed to the provisioning engine
	Object unstructured.Unstructured `json:"object"`

	// ApplyPolicy defines how this descriptor should be handed off
	ApplyPolicy ApplyPolicy `json:"applyPolicy"`

	// DependsOn lists the IDs of nodes that must be ready before this node
	DependsOn []string `json:"dependsOn,omitempty"`

	// ReadyWhen defines the conditions for this resource to be considered ready
	ReadyWhen []ReadinessPredicate `json:"readyWhen,omitempty"`
}

// Kind returns the kind of the node's object
func (n *Node) Kind() string {
	return n.Object.GetKind()
}

// identity is the key used to detect two nodes describing the same resource
func (n *Node) identity() string {
	return fmt.Sprintf("%s/%s/%s", n.Object.GetAPIVersion(), n.Object.GetKind(), n.Object.GetName())
}

// ApplyPolicy defines how a resource should be applied
type ApplyPolicy struct {
	// Mode determines the apply behavior
	// - "Apply": Use Server-Side Apply (default)
	// - "Create": Only create if it doesn't exist
	// - "Adopt": Adopt existing resource
	Mode ApplyMode `json:"mode,omitempty"`

	// ConflictPolicy determines how to handle field manager conflicts
	// - "Error": Fail on conflicts (default)
	// - "Force": Force ownership of conflicting fields
	ConflictPolicy ConflictPolicy `json:"conflictPolicy,omitempty"`

	// FieldManager is the name to use for field management
	// Defaults to "lakegraph"
	FieldManager string `json:"fieldManager,omitempty"`
}

// DefaultFieldManager is the SSA field manager used when none is set
const DefaultFieldManager = "lakegraph"

// ApplyMode defines the apply behavior
type ApplyMode string

const (
	// ApplyModeApply uses Server-Side Apply
	ApplyModeApply ApplyMode = "Apply"

	// ApplyModeCreate only creates if the resource doesn't exist
	ApplyModeCreate ApplyMode = "Create"

	// ApplyModeAdopt adopts an existing resource
	ApplyModeAdopt ApplyMode = "Adopt"
)

// ConflictPolicy defines how to handle field manager conflicts
type ConflictPolicy string

const (
	// ConflictPolicyError fails on conflicts
	ConflictPolicyError ConflictPolicy = "Error"

	// ConflictPolicyForce forces ownership of conflicting fields
	ConflictPolicyForce ConflictPolicy = "Force"
)

// ReadinessPredicate defines a condition that must be met for a resource to be ready
type ReadinessPredicate struct {
	// Type is the type of predicate
	Type PredicateType `json:"type"`

	// ConditionType is the condition type to check (for ConditionMatch predicates)
	ConditionType string `json:"conditionType,omitempty"`

	// ConditionStatus is the expected status (for ConditionMatch predicates)
	ConditionStatus string `json:"conditionStatus,omitempty"`

	// Timeout is the maximum time to wait for this predicate (in seconds)
	Timeout int `json:"timeout,omitempty"`
}

// PredicateType defines the type of readiness predicate
type PredicateType string

const (
	// PredicateTypeConditionMatch checks for a specific condition
	PredicateTypeConditionMatch PredicateType = "ConditionMatch"

	// PredicateTypeExists checks if the resource exists
	PredicateTypeExists PredicateType = "Exists"
)

// Violation represents a policy finding on the graph
type Violation struct {
	// Path is the location of the offending field, prefixed by the node ID
	Path string `json:"path"`

	// Message is a human-readable description of the violation
	Message string `json:"message"`

	// Severity indicates how serious the violation is
	Severity ViolationSeverity `json:"severity"`
}

// ViolationSeverity indicates the severity of a policy violation
type ViolationSeverity string

const (
	// ViolationSeverityError indicates a blocking violation
	ViolationSeverityError ViolationSeverity = "Error"

	// ViolationSeverityWarning indicates a non-blocking violation
	ViolationSeverityWarning ViolationSeverity = "Warning"
)

// Node returns the node with the given ID
func (g *Graph) Node(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// DeepCopy returns a copy of the graph that shares no mutable state with g
func (g *Graph) DeepCopy() *Graph {
	if g == nil {
		return nil
	}
	out := &Graph{
		Metadata:   g.Metadata,
		Nodes:      make([]Node, len(g.Nodes)),
		Violations: append([]Violation(nil), g.Violations...),
	}
	for i := range g.Nodes {
		n := g.Nodes[i]
		out.Nodes[i] = Node{
			ID:          n.ID,
			Object:      *n.Object.DeepCopy(),
			ApplyPolicy: n.ApplyPolicy,
			DependsOn:   append([]string(nil), n.DependsOn...),
			ReadyWhen:   append([]ReadinessPredicate(nil), n.ReadyWhen...),
		}
	}
	return out
}

// HasBlockingViolations returns true if any violation has Error severity
func (g *Graph) HasBlockingViolations() bool {
	for _, v := range g.Violations {
		if v.Severity == ViolationSeverityError {
			return true
		}
	}
	return false
}

// ComputeHash computes a hash of the graph for drift detection
// This hashes the nodes (excluding metadata) to detect changes
func (g *Graph) ComputeHash() string {
	type hashableGraph struct {
		Nodes      []Node      `json:"nodes"`
		Violations []Violation `json:"violations"`
	}

	h := &hashableGraph{
		Nodes:      g.Nodes,
		Violations: g.Violations,
	}

	// encoding/json sorts map keys, so equal graphs marshal to equal bytes
	data, err := json.Marshal(h)
	if err != nil {
		return ""
	}

	return fmt.Sprintf("%x", xxhash.Sum64(data))
}

// SetHash computes and sets the RenderHash field
func (g *Graph) SetHash() {
	g.Metadata.RenderHash = g.ComputeHash()
}

// HasChanged returns true if the graph has changed since the last hash
func (g *Graph) HasChanged(previousHash string) bool {
	if previousHash == "" {
		return true // No previous hash means this is new
	}
	return g.ComputeHash() != previousHash
}
