package readiness

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/lakegraph/pkg/graph"
)

// Checker evaluates readiness predicates against the live state of a resource
type Checker struct {
	client client.Reader
}

// NewChecker creates a new readiness checker
func NewChecker(c client.Reader) *Checker {
	return &Checker{client: c}
}

// Check evaluates all readiness predicates for a resource.
// A resource that does not exist yet is not ready.
func (c *Checker) Check(ctx context.Context, obj *unstructured.Unstructured, predicates []graph.ReadinessPredicate) (bool, error) {
	if obj == nil {
		return false, fmt.Errorf("object cannot be nil")
	}
	if len(predicates) == 0 {
		return true, nil
	}

	evaluators := make([]Evaluator, 0, len(predicates))
	for _, pred := range predicates {
		ev, err := NewEvaluator(pred)
		if err != nil {
			return false, fmt.Errorf("failed to create evaluator: %w", err)
		}
		evaluators = append(evaluators, ev)
	}

	latest := &unstructured.Unstructured{}
	latest.SetGroupVersionKind(obj.GroupVersionKind())
	if err := c.client.Get(ctx, client.ObjectKeyFromObject(obj), latest); err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get resource: %w", err)
	}

	for i, ev := range evaluators {
		ready, err := ev.Evaluate(latest)
		if err != nil {
			return false, fmt.Errorf("predicate evaluation failed: %w", err)
		}
		if !ready {
			log.FromContext(ctx).V(2).Info("Waiting on predicate",
				"name", obj.GetName(), "type", predicates[i].Type, "condition", predicates[i].ConditionType)
			return false, nil
		}
	}
	return true, nil
}

// Assumed reports every resource ready without contacting the cluster.
// It backs dry runs, where nothing is ever provisioned.
type Assumed struct{}

// Check implements graph.ReadinessChecker
func (Assumed) Check(ctx context.Context, obj *unstructured.Unstructured, predicates []graph.ReadinessPredicate) (bool, error) {
	if obj == nil {
		return false, fmt.Errorf("object cannot be nil")
	}
	return true, nil
}
