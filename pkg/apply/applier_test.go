package apply

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/chazu/lakegraph/pkg/graph"
)

// configMap builds a built-in object the fake client knows how to store
func configMap(name string, data map[string]interface{}) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": "v1",
			"kind":       "ConfigMap",
			"metadata": map[string]interface{}{
				"name":      name,
				"namespace": "default",
			},
		},
	}
	if data != nil {
		obj.Object["data"] = data
	}
	return obj
}

func exists(t *testing.T, c client.Client, obj *unstructured.Unstructured) bool {
	t.Helper()
	got := &unstructured.Unstructured{}
	got.SetGroupVersionKind(obj.GroupVersionKind())
	return c.Get(context.Background(), client.ObjectKeyFromObject(obj), got) == nil
}

func TestApplier_ApplySSA(t *testing.T) {
	tests := []struct {
		name    string
		obj     *unstructured.Unstructured
		policy  graph.ApplyPolicy
		wantErr bool
	}{
		{
			name: "default policy",
			obj:  configMap("lake-settings", map[string]interface{}{"bucket": "123456789012-datalake"}),
			policy: graph.ApplyPolicy{
				Mode:           graph.ApplyModeApply,
				ConflictPolicy: graph.ConflictPolicyError,
				FieldManager:   graph.DefaultFieldManager,
			},
		},
		{
			name: "force conflict policy",
			obj:  configMap("lake-settings-force", nil),
			policy: graph.ApplyPolicy{
				Mode:           graph.ApplyModeApply,
				ConflictPolicy: graph.ConflictPolicyForce,
			},
		},
		{
			name:    "nil object",
			policy:  graph.ApplyPolicy{Mode: graph.ApplyModeApply},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fake.NewClientBuilder().Build()
			applier := NewApplier(c)

			err := applier.Apply(context.Background(), tt.obj, tt.policy)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Apply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !exists(t, c, tt.obj) {
				t.Error("applied object not found")
			}
		})
	}
}

func TestApplier_DoesNotMutateInput(t *testing.T) {
	c := fake.NewClientBuilder().Build()
	obj := configMap("lake-settings", nil)

	if err := NewApplier(c).Apply(context.Background(), obj, graph.ApplyPolicy{Mode: graph.ApplyModeApply}); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if obj.GetResourceVersion() != "" {
		t.Errorf("input object was mutated: resourceVersion %q", obj.GetResourceVersion())
	}
}

func TestApplier_ApplyCreate(t *testing.T) {
	c := fake.NewClientBuilder().Build()
	applier := NewApplier(c)
	policy := graph.ApplyPolicy{Mode: graph.ApplyModeCreate}

	if err := applier.Apply(context.Background(), configMap("seed", nil), policy); err != nil {
		t.Fatalf("first Apply() failed: %v", err)
	}

	// Creating again is a no-op
	if err := applier.Apply(context.Background(), configMap("seed", nil), policy); err != nil {
		t.Errorf("second Apply() failed: %v", err)
	}
}

func TestApplier_ApplyAdopt(t *testing.T) {
	tests := []struct {
		name     string
		existing bool
	}{
		{name: "existing resource", existing: true},
		{name: "missing resource is created"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := fake.NewClientBuilder()
			if tt.existing {
				builder = builder.WithObjects(configMap("adopt-me", map[string]interface{}{"owner": "console"}))
			}
			c := builder.Build()

			obj := configMap("adopt-me", map[string]interface{}{"owner": "lakegraph"})
			err := NewApplier(c).Apply(context.Background(), obj, graph.ApplyPolicy{Mode: graph.ApplyModeAdopt})
			if err != nil {
				t.Fatalf("Apply() with Adopt mode failed: %v", err)
			}
			if !exists(t, c, obj) {
				t.Error("adopted object not found")
			}
		})
	}
}

func TestApplier_AdoptRejectsForeignExternalName(t *testing.T) {
	existing := configMap("raw-bucket", nil)
	existing.SetAnnotations(map[string]string{externalNameAnnotation: "someone-elses-bucket"})
	c := fake.NewClientBuilder().WithObjects(existing).Build()

	obj := configMap("raw-bucket", nil)
	obj.SetAnnotations(map[string]string{externalNameAnnotation: "123456789012-datalake"})

	err := NewApplier(c).Apply(context.Background(), obj, graph.ApplyPolicy{Mode: graph.ApplyModeAdopt})
	if err == nil {
		t.Fatal("expected adoption of a foreign external resource to fail")
	}
}

func TestApplier_DryRun(t *testing.T) {
	for _, mode := range []graph.ApplyMode{graph.ApplyModeApply, graph.ApplyModeCreate} {
		t.Run(string(mode), func(t *testing.T) {
			c := fake.NewClientBuilder().Build()
			obj := configMap("dry-run", nil)

			if err := NewApplier(c).WithDryRun(true).Apply(context.Background(), obj, graph.ApplyPolicy{Mode: mode}); err != nil {
				t.Fatalf("Apply() with dry-run failed: %v", err)
			}
			if exists(t, c, obj) {
				t.Error("resource should not exist after dry-run apply")
			}
		})
	}
}

func TestApplier_PolicyValidation(t *testing.T) {
	c := fake.NewClientBuilder().Build()
	applier := NewApplier(c)

	tests := []struct {
		name    string
		policy  graph.ApplyPolicy
		wantErr bool
	}{
		{
			name:   "defaults",
			policy: graph.ApplyPolicy{},
		},
		{
			name:    "invalid mode",
			policy:  graph.ApplyPolicy{Mode: graph.ApplyMode("Replace")},
			wantErr: true,
		},
		{
			name: "invalid conflict policy",
			policy: graph.ApplyPolicy{
				Mode:           graph.ApplyModeApply,
				ConflictPolicy: graph.ConflictPolicy("Ignore"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := applier.Apply(context.Background(), configMap("policy", nil), tt.policy)
			if (err != nil) != tt.wantErr {
				t.Errorf("Apply() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConflictError(t *testing.T) {
	cause := fmt.Errorf("field conflict")
	err := &ConflictError{
		Resource:     "123456789012-datalake",
		FieldManager: graph.DefaultFieldManager,
		Err:          cause,
	}

	if err.Error() == "" {
		t.Error("ConflictError.Error() returned empty string")
	}
	if !errors.Is(err, cause) {
		t.Error("ConflictError does not unwrap to its cause")
	}
}
