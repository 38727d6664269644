// Package protocol defines the contracts for pluggable node runners. Node
// steps are opaque to the engine: only this call/return surface matters.
package protocol

import "context"

// NodeResult carries the output of a completed node step plus the usage it
// consumed.
type NodeResult struct {
	Output map[string]any
	Tokens int64
	// CostMilliCents is the step cost in thousandths of a cent.
	CostMilliCents int64
}

// NodeRunner executes one node step to completion. A runner may block on
// network I/O; it must honor ctx cancellation between its own I/O calls,
// but the engine never interrupts a runner mid-step.
type NodeRunner interface {
	Run(ctx context.Context, input map[string]any) (*NodeResult, error)
}

// NodeRunnerFactory creates runner instances and provides metadata about
// the node type.
type NodeRunnerFactory interface {
	// Create creates a new runner with the given node configuration.
	Create(ctx context.Context, nodeID string, config map[string]any) (NodeRunner, error)

	// ID returns the unique identifier for this node type.
	ID() string

	// Name returns the human-readable name for this node type.
	Name() string

	// Description returns a description of what this node does.
	Description() string

	// Schema returns the JSON schema for configuring this node.
	Schema() map[string]any
}
