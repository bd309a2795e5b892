package graph

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sourcegraph/conc/pool"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Applier hands a single descriptor to the provisioning engine
type Applier interface {
	// Apply applies a resource according to its ApplyPolicy
	Apply(ctx context.Context, obj *unstructured.Unstructured, policy ApplyPolicy) error
}

// ReadinessChecker is the interface for checking resource readiness
type ReadinessChecker interface {
	// Check evaluates readiness predicates for a resource
	Check(ctx context.Context, obj *unstructured.Unstructured, predicates []ReadinessPredicate) (bool, error)
}

// ExecutorConfig contains configuration for the DAG executor
type ExecutorConfig struct {
	// MaxConcurrency is the maximum number of nodes to apply concurrently
	// Default: 10
	MaxConcurrency int

	// RetryBackoffBase is the base duration for exponential backoff
	// Default: 1 second
	RetryBackoffBase time.Duration

	// RetryBackoffMax is the maximum backoff duration
	// Default: 5 minutes
	RetryBackoffMax time.Duration

	// MaxRetries is the maximum number of retries per node
	// Default: 3
	MaxRetries int

	// ReadyTimeout bounds readiness polling when no predicate sets a timeout
	// Default: 5 minutes
	ReadyTimeout time.Duration

	// PollInterval is the initial readiness polling interval
	// Default: 1 second
	PollInterval time.Duration
}

// DefaultExecutorConfig returns the default executor configuration
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency:   10,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  5 * time.Minute,
		MaxRetries:       3,
		ReadyTimeout:     5 * time.Minute,
		PollInterval:     1 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultExecutorConfig
func (c ExecutorConfig) withDefaults() ExecutorConfig {
	d := DefaultExecutorConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = d.RetryBackoffBase
	}
	if c.RetryBackoffMax <= 0 {
		c.RetryBackoffMax = d.RetryBackoffMax
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Executor executes a DAG with dependency-aware parallel execution
type Executor struct {
	config           ExecutorConfig
	applier          Applier
	readinessChecker ReadinessChecker
}

// NewExecutor creates a new DAG executor
func NewExecutor(applier Applier, readinessChecker ReadinessChecker, config ExecutorConfig) *Executor {
	return &Executor{
		config:           config.withDefaults(),
		applier:          applier,
		readinessChecker: readinessChecker,
	}
}

// Execute executes the DAG in waves: every wave applies all nodes whose
// dependencies are Ready. Node failures are recorded in the returned state;
// the error is reserved for cancellation and malformed input.
func (e *Executor) Execute(ctx context.Context, dag *DAG) (*ExecutionState, error) {
	if dag == nil {
		return nil, fmt.Errorf("DAG cannot be nil")
	}

	logger := log.FromContext(ctx)
	state := NewExecutionState(dag.GetOrder())

	for wave := 1; ; wave++ {
		if ctx.Err() != nil {
			break
		}

		// Empty once everything is Ready, or the rest is blocked by exhausted failures
		readyNodes := e.findReadyNodes(dag, state)
		if len(readyNodes) == 0 {
			break
		}

		logger.V(1).Info("Executing wave", "wave", wave, "nodes", readyNodes)
		e.executeNodes(ctx, dag, state, readyNodes)
	}

	state.MarkComplete()
	if ctx.Err() != nil {
		return state, ctx.Err()
	}
	return state, nil
}

// findReadyNodes returns, in topological order, the Pending nodes and the
// failed nodes with retries left whose dependencies are all Ready
func (e *Executor) findReadyNodes(dag *DAG, state *ExecutionState) []string {
	var ready []string
	for _, id := range dag.GetOrder() {
		status, _ := state.GetStatus(id)
		switch {
		case status.State == NodeStatePending:
		case status.State == NodeStateError && status.RetryCount < e.config.MaxRetries:
		default:
			continue
		}

		if e.dependenciesReady(dag, state, id) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (e *Executor) dependenciesReady(dag *DAG, state *ExecutionState, id string) bool {
	deps, _ := dag.GetDependencies(id)
	for _, dep := range deps {
		if s, _ := state.GetState(dep); s != NodeStateReady {
			return false
		}
	}
	return true
}

// executeNodes runs one wave on a bounded conc pool.
// A failed node never stops its siblings; the failure is recorded in state.
func (e *Executor) executeNodes(ctx context.Context, dag *DAG, state *ExecutionState, nodeIDs []string) {
	p := pool.New().WithMaxGoroutines(e.config.MaxConcurrency)
	for _, id := range nodeIDs {
		p.Go(func() {
			if err := e.executeNode(ctx, dag, state, id); err != nil {
				log.FromContext(ctx).Error(err, "Node failed", "node", id)
			}
		})
	}
	p.Wait()
}

// executeNode hands one node to the applier and waits for its readiness
func (e *Executor) executeNode(ctx context.Context, dag *DAG, state *ExecutionState, nodeID string) error {
	node, found := dag.GetNode(nodeID)
	if !found {
		return fmt.Errorf("node %s not found", nodeID)
	}
	logger := log.FromContext(ctx).WithValues("node", nodeID, "kind", node.Kind(), "name", node.Object.GetName())

	if status, _ := state.GetStatus(nodeID); status.State == NodeStateError {
		delay := e.calculateBackoff(status.RetryCount)
		logger.V(1).Info("Retrying node", "attempt", status.RetryCount+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		_ = state.IncrementRetry(nodeID)
	}

	if err := e.advance(state, nodeID, NodeStateApplying); err != nil {
		return err
	}
	if err := e.applier.Apply(ctx, &node.Object, node.ApplyPolicy); err != nil {
		return e.fail(state, nodeID, fmt.Errorf("failed to apply: %w", err))
	}

	if len(node.ReadyWhen) > 0 {
		if err := e.advance(state, nodeID, NodeStateWaitingReady); err != nil {
			return err
		}
		if err := e.waitForReadiness(ctx, node); err != nil {
			return e.fail(state, nodeID, fmt.Errorf("readiness check failed: %w", err))
		}
	}

	if err := e.advance(state, nodeID, NodeStateReady); err != nil {
		return err
	}
	logger.V(1).Info("Node ready")
	return nil
}

// advance moves a node to the next state, failing the node if the move is invalid
func (e *Executor) advance(state *ExecutionState, nodeID string, to NodeState) error {
	if err := state.SetState(nodeID, to); err != nil {
		return e.fail(state, nodeID, err)
	}
	return nil
}

func (e *Executor) fail(state *ExecutionState, nodeID string, err error) error {
	_ = state.SetError(nodeID, err)
	return err
}

// readyTimeout is the longest predicate timeout, or the configured default
func (e *Executor) readyTimeout(node *Node) time.Duration {
	timeout := e.config.ReadyTimeout
	for _, pred := range node.ReadyWhen {
		if d := time.Duration(pred.Timeout) * time.Second; d > timeout {
			timeout = d
		}
	}
	return timeout
}

// waitForReadiness polls the checker with a growing interval, capped at 30s,
// until every predicate holds or the timeout expires
func (e *Executor) waitForReadiness(ctx context.Context, node *Node) error {
	timeout := e.readyTimeout(node)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	const maxInterval = 30 * time.Second
	interval := e.config.PollInterval
	for {
		ready, err := e.readinessChecker.Check(ctx, &node.Object, node.ReadyWhen)
		if err != nil {
			return fmt.Errorf("readiness check error: %w", err)
		}
		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("readiness timeout after %v", timeout)
		case <-time.After(interval):
			interval = min(interval*3/2, maxInterval)
		}
	}
}

// calculateBackoff returns base * 2^retryCount, capped at RetryBackoffMax
func (e *Executor) calculateBackoff(retryCount int) time.Duration {
	backoff := time.Duration(float64(e.config.RetryBackoffBase) * math.Pow(2, float64(retryCount)))
	return min(backoff, e.config.RetryBackoffMax)
}
