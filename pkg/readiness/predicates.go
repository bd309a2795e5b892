package readiness

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/chazu/lakegraph/pkg/graph"
)

// Evaluator decides whether a freshly fetched object satisfies a predicate
type Evaluator interface {
	Evaluate(obj *unstructured.Unstructured) (bool, error)
}

// ConditionMatchPredicate checks if a specific status condition has the expected status
type ConditionMatchPredicate struct {
	ConditionType   string
	ConditionStatus string
}

// Evaluate checks if the condition matches
func (p *ConditionMatchPredicate) Evaluate(obj *unstructured.Unstructured) (bool, error) {
	cond, found, err := findCondition(obj, p.ConditionType)
	if err != nil || !found {
		return false, err
	}
	status, _, _ := unstructured.NestedString(cond, "status")
	return status == p.ConditionStatus, nil
}

// ExistsPredicate is satisfied by any object the API server returned
type ExistsPredicate struct{}

// Evaluate always succeeds; absence is handled by the Checker
func (p *ExistsPredicate) Evaluate(obj *unstructured.Unstructured) (bool, error) {
	return obj != nil, nil
}

// findCondition returns the status condition of the given type
func findCondition(obj *unstructured.Unstructured, condType string) (map[string]interface{}, bool, error) {
	conditions, found, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if err != nil {
		return nil, false, fmt.Errorf("failed to get conditions: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	for _, c := range conditions {
		cond, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if t, _, _ := unstructured.NestedString(cond, "type"); t == condType {
			return cond, true, nil
		}
	}
	return nil, false, nil
}

// NewEvaluator creates an Evaluator from a readiness predicate
func NewEvaluator(pred graph.ReadinessPredicate) (Evaluator, error) {
	switch pred.Type {
	case graph.PredicateTypeConditionMatch:
		if pred.ConditionType == "" {
			return nil, fmt.Errorf("conditionType is required for ConditionMatch predicate")
		}
		if pred.ConditionStatus == "" {
			return nil, fmt.Errorf("conditionStatus is required for ConditionMatch predicate")
		}
		return &ConditionMatchPredicate{
			ConditionType:   pred.ConditionType,
			ConditionStatus: pred.ConditionStatus,
		}, nil

	case graph.PredicateTypeExists:
		return &ExistsPredicate{}, nil

	default:
		return nil, fmt.Errorf("unknown predicate type: %s", pred.Type)
	}
}
