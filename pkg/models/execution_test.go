package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStatusTransitions(t *testing.T) {
	cases := []struct {
		from    ExecutionStatus
		to      ExecutionStatus
		allowed bool
	}{
		{ExecutionStatusReserved, ExecutionStatusRunning, true},
		{ExecutionStatusReserved, ExecutionStatusCancelled, true},
		{ExecutionStatusReserved, ExecutionStatusSucceeded, false},
		{ExecutionStatusReserved, ExecutionStatusFailed, false},
		{ExecutionStatusRunning, ExecutionStatusSucceeded, true},
		{ExecutionStatusRunning, ExecutionStatusFailed, true},
		{ExecutionStatusRunning, ExecutionStatusCancelled, true},
		{ExecutionStatusRunning, ExecutionStatusReserved, false},
		{ExecutionStatusSucceeded, ExecutionStatusRunning, false},
		{ExecutionStatusFailed, ExecutionStatusRunning, false},
		{ExecutionStatusCancelled, ExecutionStatusRunning, false},
		{ExecutionStatusCancelled, ExecutionStatusFailed, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestExecutionStatusIsTerminal(t *testing.T) {
	assert.False(t, ExecutionStatusReserved.IsTerminal())
	assert.False(t, ExecutionStatusRunning.IsTerminal())
	assert.True(t, ExecutionStatusSucceeded.IsTerminal())
	assert.True(t, ExecutionStatusFailed.IsTerminal())
	assert.True(t, ExecutionStatusCancelled.IsTerminal())
}

func TestExecutionNodeStateLazyCreate(t *testing.T) {
	execution := &Execution{}

	state := execution.NodeState("a")
	assert.Equal(t, NodeStatusPending, state.Status)
	assert.Equal(t, "a", state.NodeID)

	state.Status = NodeStatusRunning
	assert.Equal(t, NodeStatusRunning, execution.NodeState("a").Status)
}
