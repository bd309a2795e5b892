package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// NodeState represents the execution state of a node in the DAG
type NodeState string

const (
	// NodeStatePending indicates the node is waiting for dependencies
	NodeStatePending NodeState = "Pending"

	// NodeStateApplying indicates the node is being handed to the engine
	NodeStateApplying NodeState = "Applying"

	// NodeStateWaitingReady indicates the node was applied and is waiting for readiness
	NodeStateWaitingReady NodeState = "WaitingReady"

	// NodeStateReady indicates the node is ready (all predicates satisfied)
	NodeStateReady NodeState = "Ready"

	// NodeStateError indicates the node encountered an error
	NodeStateError NodeState = "Error"
)

// validTransitions lists the states reachable from each state.
// Error may go back to Applying when the executor retries the node.
var validTransitions = map[NodeState][]NodeState{
	NodeStatePending:      {NodeStateApplying, NodeStateError},
	NodeStateApplying:     {NodeStateWaitingReady, NodeStateReady, NodeStateError},
	NodeStateWaitingReady: {NodeStateReady, NodeStateError},
	NodeStateReady:        {},
	NodeStateError:        {NodeStatePending, NodeStateApplying},
}

// NodeStatus contains the execution status of a single node
type NodeStatus struct {
	State NodeState

	// Error contains the error message if State is NodeStateError
	Error string

	StartTime *time.Time
	ReadyTime *time.Time

	// RetryCount is the number of times this node has been retried
	RetryCount    int
	LastRetryTime *time.Time
}

// ExecutionState tracks the execution state of all nodes in a DAG.
// It is safe for concurrent use by the executor's workers.
type ExecutionState struct {
	mu sync.RWMutex

	nodes     map[string]*NodeStatus
	startTime time.Time
	endTime   *time.Time
}

// NewExecutionState creates a tracker with every node Pending
func NewExecutionState(nodeIDs []string) *ExecutionState {
	es := &ExecutionState{
		nodes:     make(map[string]*NodeStatus, len(nodeIDs)),
		startTime: time.Now(),
	}
	for _, id := range nodeIDs {
		es.nodes[id] = &NodeStatus{State: NodeStatePending}
	}
	return es
}

// read runs fn on a node under the read lock
func (es *ExecutionState) read(nodeID string, fn func(*NodeStatus)) error {
	es.mu.RLock()
	defer es.mu.RUnlock()
	status, found := es.nodes[nodeID]
	if !found {
		return fmt.Errorf("node %s not found", nodeID)
	}
	fn(status)
	return nil
}

// update runs fn on a node under the write lock
func (es *ExecutionState) update(nodeID string, fn func(*NodeStatus) error) error {
	es.mu.Lock()
	defer es.mu.Unlock()
	status, found := es.nodes[nodeID]
	if !found {
		return fmt.Errorf("node %s not found", nodeID)
	}
	return fn(status)
}

// GetState returns the current state of a node
func (es *ExecutionState) GetState(nodeID string) (NodeState, error) {
	var state NodeState
	err := es.read(nodeID, func(s *NodeStatus) { state = s.State })
	return state, err
}

// GetStatus returns a copy of the full status of a node
func (es *ExecutionState) GetStatus(nodeID string) (*NodeStatus, error) {
	var out NodeStatus
	if err := es.read(nodeID, func(s *NodeStatus) { out = *s }); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetState moves a node to newState if the transition is allowed
func (es *ExecutionState) SetState(nodeID string, newState NodeState) error {
	return es.update(nodeID, func(s *NodeStatus) error {
		if err := validateStateTransition(s.State, newState); err != nil {
			return fmt.Errorf("invalid state transition for node %s: %w", nodeID, err)
		}

		now := time.Now()
		s.State = newState
		switch newState {
		case NodeStateApplying:
			if s.StartTime == nil {
				s.StartTime = &now
			}
		case NodeStateReady:
			s.ReadyTime = &now
		}
		if newState != NodeStateError {
			s.Error = ""
		}
		return nil
	})
}

// SetError records err and moves the node to Error from any state
func (es *ExecutionState) SetError(nodeID string, err error) error {
	return es.update(nodeID, func(s *NodeStatus) error {
		s.State = NodeStateError
		s.Error = err.Error()
		return nil
	})
}

// IncrementRetry counts a retry attempt of a node
func (es *ExecutionState) IncrementRetry(nodeID string) error {
	return es.update(nodeID, func(s *NodeStatus) error {
		now := time.Now()
		s.RetryCount++
		s.LastRetryTime = &now
		return nil
	})
}

// GetNodesInState returns the IDs of nodes in state, sorted
func (es *ExecutionState) GetNodesInState(state NodeState) []string {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var ids []string
	for id, s := range es.nodes {
		if s.State == state {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// GetAllStates returns a copy of all node states
func (es *ExecutionState) GetAllStates() map[string]NodeState {
	es.mu.RLock()
	defer es.mu.RUnlock()

	out := make(map[string]NodeState, len(es.nodes))
	for id, s := range es.nodes {
		out[id] = s.State
	}
	return out
}

// Failures maps each failed node to its last error
func (es *ExecutionState) Failures() map[string]string {
	es.mu.RLock()
	defer es.mu.RUnlock()

	out := make(map[string]string)
	for id, s := range es.nodes {
		if s.State == NodeStateError {
			out[id] = s.Error
		}
	}
	return out
}

// IsComplete reports whether every node is Ready or Error
func (es *ExecutionState) IsComplete() bool {
	summary := es.GetSummary()
	return summary.Ready+summary.Error == summary.Total
}

// HasErrors reports whether any node is in Error
func (es *ExecutionState) HasErrors() bool {
	return es.GetSummary().Error > 0
}

// GetSummary counts nodes per state
func (es *ExecutionState) GetSummary() ExecutionSummary {
	es.mu.RLock()
	defer es.mu.RUnlock()

	summary := ExecutionSummary{
		Total:     len(es.nodes),
		StartTime: es.startTime,
		EndTime:   es.endTime,
	}
	for _, s := range es.nodes {
		switch s.State {
		case NodeStatePending:
			summary.Pending++
		case NodeStateApplying:
			summary.Applying++
		case NodeStateWaitingReady:
			summary.WaitingReady++
		case NodeStateReady:
			summary.Ready++
		case NodeStateError:
			summary.Error++
		}
	}
	return summary
}

// MarkComplete stamps the end of the execution
func (es *ExecutionState) MarkComplete() {
	es.mu.Lock()
	defer es.mu.Unlock()
	now := time.Now()
	es.endTime = &now
}

// ExecutionSummary counts nodes per state
type ExecutionSummary struct {
	Total        int
	Pending      int
	Applying     int
	WaitingReady int
	Ready        int
	Error        int
	StartTime    time.Time
	EndTime      *time.Time
}

// Elapsed is the wall time of the execution so far, or in total once complete
func (s ExecutionSummary) Elapsed() time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// String renders the summary as a single status line
func (s ExecutionSummary) String() string {
	return fmt.Sprintf("%d/%d ready, %d failed, %d blocked", s.Ready, s.Total, s.Error, s.Pending)
}

func validateStateTransition(from, to NodeState) error {
	allowed, found := validTransitions[from]
	if !found {
		return fmt.Errorf("unknown state: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("cannot transition from %s to %s", from, to)
}
