package models

import "time"

// ExecutionStatus represents the lifecycle state of a single execution.
type ExecutionStatus string

const (
	ExecutionStatusReserved  ExecutionStatus = "reserved"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transition.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusSucceeded, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal,
// forward-only transition: reserved -> running -> terminal.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionStatusReserved:
		return next == ExecutionStatusRunning || next == ExecutionStatusCancelled
	case ExecutionStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// NodeStatus defines the possible states of a node within an execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// NodeState tracks the progress of one node within an execution.
type NodeState struct {
	NodeID     string         `json:"node_id"`
	Status     NodeStatus     `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// ExecutionMetrics aggregates usage counters across all node steps.
type ExecutionMetrics struct {
	Tokens         int64 `json:"tokens"`
	CostMilliCents int64 `json:"cost_milli_cents"`
}

// Execution is the durable record of one workflow run. It is created in
// status reserved, mutated only by the execution engine, and never deleted.
type Execution struct {
	ID              string                `json:"id"`
	WorkflowID      string                `json:"workflow_id"`
	Status          ExecutionStatus       `json:"status"`
	NodeStates      map[string]*NodeState `json:"node_states"`
	CancelRequested bool                  `json:"cancel_requested"`
	ErrorMessage    string                `json:"error_message,omitempty"`
	Metrics         ExecutionMetrics      `json:"metrics"`
	CreatedAt       time.Time             `json:"created_at"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	FinishedAt      *time.Time            `json:"finished_at,omitempty"`
}

// NodeState returns the state entry for a node, creating it as pending
// when absent.
func (e *Execution) NodeState(nodeID string) *NodeState {
	if e.NodeStates == nil {
		e.NodeStates = make(map[string]*NodeState)
	}

	state, ok := e.NodeStates[nodeID]
	if !ok {
		state = &NodeState{NodeID: nodeID, Status: NodeStatusPending}
		e.NodeStates[nodeID] = state
	}

	return state
}

// ExecutionLogEntry is one line of the ordered, append-only execution log.
type ExecutionLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	NodeID    string    `json:"node_id,omitempty"`
	Message   string    `json:"message"`
}

// ExecutionExport is the full snapshot returned by the export operation.
type ExecutionExport struct {
	Execution  *Execution          `json:"execution"`
	Logs       []ExecutionLogEntry `json:"logs"`
	ExportedAt time.Time           `json:"exported_at"`
}
