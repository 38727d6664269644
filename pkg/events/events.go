// Package events defines the event types published on execution topics.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/navio-ai/navio/pkg/models"
)

type EventType string

// BusTopic is the watermill topic carrying all execution events between
// the engine and the gateway.
const BusTopic = "navio.executions"

const EventTopicMetadataKey = "topic"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent  EventType = "execution.started"
	ExecutionFinishedEvent EventType = "execution.finished"
	ExecutionStateEvent    EventType = "execution.state"

	NodeStartedEvent  EventType = "execution.node.started"
	NodeFinishedEvent EventType = "execution.node.finished"
	NodeFailedEvent   EventType = "execution.node.failed"
	NodeSkippedEvent  EventType = "execution.node.skipped"
)

// ExecutionTopic returns the delivery topic for one execution.
func ExecutionTopic(executionID string) string {
	return "execution:" + executionID
}

// WorkflowTopic returns the delivery topic aggregating all executions of a
// workflow.
func WorkflowTopic(workflowID string) string {
	return "workflow:" + workflowID
}

type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id"`
}

func NewBaseEvent(eventType EventType, workflowID, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkflowID:  workflowID,
		ExecutionID: executionID,
	}
}

// EventTopic returns the delivery topic the event belongs to.
func (b BaseEvent) EventTopic() string {
	return ExecutionTopic(b.ExecutionID)
}

type ExecutionStarted struct {
	BaseEvent

	WorkflowName string `json:"workflow_name"`
	Initiator    string `json:"initiator"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionFinished struct {
	BaseEvent

	Status       models.ExecutionStatus       `json:"status"`
	Error        string                       `json:"error,omitempty"`
	NodeStatuses map[string]models.NodeStatus `json:"node_statuses"`
	Metrics      models.ExecutionMetrics      `json:"metrics"`
	DurationMs   int64                        `json:"duration_ms"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

// ExecutionState is a full snapshot of an execution record, pushed to a
// subscriber when its subscription is confirmed.
type ExecutionState struct {
	BaseEvent

	Status     models.ExecutionStatus       `json:"status"`
	NodeStates map[string]*models.NodeState `json:"node_states"`
	Error      string                       `json:"error,omitempty"`
}

func (e ExecutionState) GetType() EventType {
	return ExecutionStateEvent
}

type NodeStarted struct {
	BaseEvent

	NodeID string `json:"node_id"`
}

func (e NodeStarted) GetType() EventType {
	return NodeStartedEvent
}

type NodeFinished struct {
	BaseEvent

	NodeID     string         `json:"node_id"`
	Output     map[string]any `json:"output,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (e NodeFinished) GetType() EventType {
	return NodeFinishedEvent
}

type NodeFailed struct {
	BaseEvent

	NodeID     string `json:"node_id"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

func (e NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

type NodeSkipped struct {
	BaseEvent

	NodeID string `json:"node_id"`
	Reason string `json:"reason"`
}

func (e NodeSkipped) GetType() EventType {
	return NodeSkippedEvent
}
