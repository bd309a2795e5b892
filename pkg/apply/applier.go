package apply

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/lakegraph/pkg/graph"
	"github.com/chazu/lakegraph/pkg/metrics"
)

// externalNameAnnotation binds a managed resource to the cloud resource it manages
const externalNameAnnotation = "crossplane.io/external-name"

// Applier hands managed resource descriptors to the cluster running the
// provisioning engine
type Applier struct {
	client client.Client
	dryRun bool
}

// NewApplier creates a new resource applier
func NewApplier(c client.Client) *Applier {
	return &Applier{client: c}
}

// WithDryRun returns a new applier that sends every write with DryRunAll
func (a *Applier) WithDryRun(dryRun bool) *Applier {
	return &Applier{client: a.client, dryRun: dryRun}
}

// gvkString returns a string representation of an object's GVK
func gvkString(obj *unstructured.Unstructured) string {
	gvk := obj.GroupVersionKind()
	if gvk.Group == "" {
		return fmt.Sprintf("%s/%s", gvk.Version, gvk.Kind)
	}
	return fmt.Sprintf("%s/%s/%s", gvk.Group, gvk.Version, gvk.Kind)
}

// objectRef renders namespace/name, or just name for cluster-scoped objects
func objectRef(obj *unstructured.Unstructured) string {
	if obj.GetNamespace() == "" {
		return obj.GetName()
	}
	return obj.GetNamespace() + "/" + obj.GetName()
}

// Apply writes obj according to policy. obj is not modified.
func (a *Applier) Apply(ctx context.Context, obj *unstructured.Unstructured, policy graph.ApplyPolicy) error {
	if obj == nil {
		return fmt.Errorf("object cannot be nil")
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("invalid apply policy: %w", err)
	}

	gvk := gvkString(obj)
	logger := log.FromContext(ctx).WithValues("gvk", gvk, "name", objectRef(obj), "mode", string(policy.Mode))

	// The client overwrites obj with the server response
	obj = obj.DeepCopy()

	start := time.Now()
	var err error
	switch policy.Mode {
	case graph.ApplyModeApply:
		err = a.patch(ctx, obj, policy, policy.ConflictPolicy == graph.ConflictPolicyForce, logger)
	case graph.ApplyModeCreate:
		err = a.create(ctx, obj, logger)
	case graph.ApplyModeAdopt:
		err = a.adopt(ctx, obj, policy, logger)
	default:
		err = fmt.Errorf("unknown apply mode: %s", policy.Mode)
	}
	duration := time.Since(start).Seconds()

	if err != nil {
		metrics.RecordApply("failure", string(policy.Mode), gvk, duration)
		logger.Error(err, "Failed to apply resource")
		return err
	}

	metrics.RecordApply("success", string(policy.Mode), gvk, duration)
	if !a.dryRun {
		metrics.MarkManaged(gvk, objectRef(obj))
	}
	logger.V(1).Info("Applied resource", "duration_ms", duration*1000, "dryRun", a.dryRun)
	return nil
}

// patch sends obj with Server-Side Apply
func (a *Applier) patch(ctx context.Context, obj *unstructured.Unstructured, policy graph.ApplyPolicy, force bool, logger logr.Logger) error {
	opts := []client.PatchOption{client.FieldOwner(policy.FieldManager)}
	if force {
		opts = append(opts, client.ForceOwnership)
	}
	if a.dryRun {
		opts = append(opts, client.DryRunAll)
	}

	logger.V(2).Info("Applying resource via SSA", "fieldManager", policy.FieldManager, "force", force)
	err := a.client.Patch(ctx, obj, client.Apply, opts...)
	switch {
	case err == nil:
		return nil
	case errors.IsConflict(err):
		return &ConflictError{Resource: objectRef(obj), FieldManager: policy.FieldManager, Err: err}
	default:
		return fmt.Errorf("failed to apply resource %s: %w", objectRef(obj), err)
	}
}

// create creates obj and treats AlreadyExists as success
func (a *Applier) create(ctx context.Context, obj *unstructured.Unstructured, logger logr.Logger) error {
	var opts []client.CreateOption
	if a.dryRun {
		opts = append(opts, client.DryRunAll)
	}

	err := a.client.Create(ctx, obj, opts...)
	switch {
	case err == nil:
		return nil
	case errors.IsAlreadyExists(err):
		logger.V(1).Info("Resource already exists, skipping creation")
		return nil
	default:
		return fmt.Errorf("failed to create resource %s: %w", objectRef(obj), err)
	}
}

// adopt takes every declared field of an existing object, or creates it.
// An existing object bound to a different external resource is not adopted.
func (a *Applier) adopt(ctx context.Context, obj *unstructured.Unstructured, policy graph.ApplyPolicy, logger logr.Logger) error {
	existing := &unstructured.Unstructured{}
	existing.SetGroupVersionKind(obj.GroupVersionKind())

	if err := a.client.Get(ctx, client.ObjectKeyFromObject(obj), existing); err != nil {
		if errors.IsNotFound(err) {
			logger.V(1).Info("Resource not found, creating instead of adopting")
			return a.create(ctx, obj, logger)
		}
		return fmt.Errorf("failed to check if resource exists: %w", err)
	}

	want := obj.GetAnnotations()[externalNameAnnotation]
	if got := existing.GetAnnotations()[externalNameAnnotation]; want != "" && got != "" && got != want {
		return fmt.Errorf("refusing to adopt %s: bound to external resource %q, want %q", objectRef(obj), got, want)
	}

	logger.V(1).Info("Adopting existing resource", "existingUID", existing.GetUID())
	if err := a.patch(ctx, obj, policy, true, logger); err != nil {
		return fmt.Errorf("failed to adopt resource %s: %w", objectRef(obj), err)
	}
	return nil
}

// ConflictError represents a field manager conflict
type ConflictError struct {
	Resource     string
	FieldManager string
	Err          error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("field manager conflict for %s (field manager: %s): %v", e.Resource, e.FieldManager, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}
