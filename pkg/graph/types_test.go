package graph

import (
	"encoding/json"
	"errors"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// testNode builds a node describing a ConfigMap named after the node ID
func testNode(id string, deps ...string) Node {
	return Node{
		ID: id,
		Object: unstructured.Unstructured{
			Object: map[string]interface{}{
				"apiVersion": "v1",
				"kind":       "ConfigMap",
				"metadata": map[string]interface{}{
					"name":      id,
					"namespace": "default",
				},
			},
		},
		ApplyPolicy: ApplyPolicy{Mode: ApplyModeApply},
		DependsOn:   deps,
	}
}

func testGraph(nodes ...Node) *Graph {
	return &Graph{
		Metadata: GraphMetadata{Name: "test", Version: "v1"},
		Nodes:    nodes,
	}
}

func TestGraphValidation(t *testing.T) {
	tests := []struct {
		name    string
		graph   *Graph
		wantErr error
	}{
		{
			name:  "valid graph",
			graph: testGraph(testNode("a"), testNode("b", "a")),
		},
		{
			name:    "missing name",
			graph:   &Graph{Metadata: GraphMetadata{Version: "v1"}},
			wantErr: ErrInvalidGraph,
		},
		{
			name:    "missing version",
			graph:   &Graph{Metadata: GraphMetadata{Name: "test"}},
			wantErr: ErrInvalidGraph,
		},
		{
			name:    "duplicate node IDs",
			graph:   testGraph(testNode("a"), testNode("a")),
			wantErr: ErrDuplicateNode,
		},
		{
			name: "duplicate resource identity",
			graph: func() *Graph {
				b := testNode("b")
				b.Object.SetName("a")
				return testGraph(testNode("a"), b)
			}(),
			wantErr: ErrDuplicateNode,
		},
		{
			name:    "dangling dependency",
			graph:   testGraph(testNode("a", "missing")),
			wantErr: ErrDanglingReference,
		},
		{
			name:    "self dependency",
			graph:   testGraph(testNode("a", "a")),
			wantErr: ErrCycle,
		},
		{
			name: "missing kind",
			graph: func() *Graph {
				n := testNode("a")
				n.Object.SetKind("")
				return testGraph(n)
			}(),
			wantErr: ErrInvalidGraph,
		},
		{
			name: "invalid apply mode",
			graph: func() *Graph {
				n := testNode("a")
				n.ApplyPolicy.Mode = "Replace"
				return testGraph(n)
			}(),
			wantErr: ErrInvalidGraph,
		},
		{
			name: "condition predicate without status",
			graph: func() *Graph {
				n := testNode("a")
				n.ReadyWhen = []ReadinessPredicate{{Type: PredicateTypeConditionMatch, ConditionType: "Ready"}}
				return testGraph(n)
			}(),
			wantErr: ErrInvalidGraph,
		},
		{
			name: "invalid violation severity",
			graph: func() *Graph {
				g := testGraph(testNode("a"))
				g.Violations = []Violation{{Path: "a", Message: "x", Severity: "Fatal"}}
				return g
			}(),
			wantErr: ErrInvalidGraph,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.graph.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyPolicyDefaults(t *testing.T) {
	ap := ApplyPolicy{}
	if err := ap.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if ap.Mode != ApplyModeApply {
		t.Errorf("Mode = %s, want %s", ap.Mode, ApplyModeApply)
	}
	if ap.ConflictPolicy != ConflictPolicyError {
		t.Errorf("ConflictPolicy = %s, want %s", ap.ConflictPolicy, ConflictPolicyError)
	}
	if ap.FieldManager != DefaultFieldManager {
		t.Errorf("FieldManager = %s, want %s", ap.FieldManager, DefaultFieldManager)
	}
}

func TestGraphSerialization(t *testing.T) {
	g := testGraph(testNode("a"), testNode("b", "a"))
	g.Violations = []Violation{{Path: "b", Message: "broad", Severity: ViolationSeverityWarning}}

	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	var decoded Graph
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}

	if len(decoded.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(decoded.Nodes))
	}
	if decoded.Nodes[1].Object.GetName() != "b" {
		t.Errorf("node b object name = %q", decoded.Nodes[1].Object.GetName())
	}
	if len(decoded.Nodes[1].DependsOn) != 1 || decoded.Nodes[1].DependsOn[0] != "a" {
		t.Errorf("node b dependsOn = %v", decoded.Nodes[1].DependsOn)
	}
	if !decoded.HasChanged("") {
		t.Error("HasChanged(\"\") should be true")
	}
}

func TestComputeHash(t *testing.T) {
	g := testGraph(testNode("node1"))

	hash1 := g.ComputeHash()
	if hash1 == "" {
		t.Fatal("Expected non-empty hash")
	}

	if hash2 := g.ComputeHash(); hash1 != hash2 {
		t.Errorf("Expected same hash for same graph, got %s and %s", hash1, hash2)
	}

	// Metadata is not part of the hash
	g.Metadata.Name = "renamed"
	if hash := g.ComputeHash(); hash != hash1 {
		t.Error("Expected metadata changes to leave the hash unchanged")
	}

	g.Nodes[0].Object.SetName("different")
	if hash3 := g.ComputeHash(); hash1 == hash3 {
		t.Error("Expected different hash for different graph")
	}
}

func TestSetHashAndHasChanged(t *testing.T) {
	g := testGraph(testNode("node1"))
	g.SetHash()

	if g.Metadata.RenderHash == "" {
		t.Fatal("SetHash() left RenderHash empty")
	}
	if g.HasChanged(g.Metadata.RenderHash) {
		t.Error("HasChanged() = true for unchanged graph")
	}

	g.Nodes = append(g.Nodes, testNode("node2"))
	if !g.HasChanged(g.Metadata.RenderHash) {
		t.Error("HasChanged() = false after adding a node")
	}
}

func TestGraphNodeLookup(t *testing.T) {
	g := testGraph(testNode("a"))
	g.Violations = []Violation{{Path: "a", Message: "warn", Severity: ViolationSeverityWarning}}

	n, ok := g.Node("a")
	if !ok || n.Kind() != "ConfigMap" {
		t.Fatalf("Node(a) = %v, %v", n, ok)
	}
	if _, ok := g.Node("missing"); ok {
		t.Error("Node(missing) should not be found")
	}
	if g.HasBlockingViolations() {
		t.Error("warnings must not block")
	}
	g.Violations = append(g.Violations, Violation{Path: "a", Message: "err", Severity: ViolationSeverityError})
	if !g.HasBlockingViolations() {
		t.Error("error violation should block")
	}
}

func TestDeepCopy(t *testing.T) {
	g := testGraph(testNode("a"), testNode("b", "a"))
	g.SetHash()

	cp := g.DeepCopy()
	cp.Nodes[1].DependsOn[0] = "changed"
	cp.Nodes[0].Object.SetName("changed")

	if g.Nodes[1].DependsOn[0] != "a" || g.Nodes[0].Object.GetName() != "a" {
		t.Error("DeepCopy() shares state with the original")
	}
	if cp.Metadata.RenderHash != g.Metadata.RenderHash {
		t.Error("DeepCopy() dropped metadata")
	}
	var nilGraph *Graph
	if nilGraph.DeepCopy() != nil {
		t.Error("DeepCopy() of nil should be nil")
	}
}
