// Package gateway bridges the process-internal event bus to the
// client-facing delivery channel: bus events fan out to the broker's
// execution and workflow topics, and new subscribers get a state
// snapshot so nothing is missed between reserve and subscribe.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/navio-ai/navio/pkg/eventbus"
	"github.com/navio-ai/navio/pkg/events"
	"github.com/navio-ai/navio/pkg/persistence"
	"github.com/navio-ai/navio/pkg/stream"
)

const (
	executionTopicPrefix = "execution:"
	workflowTopicPrefix  = "workflow:"
)

// Relay consumes execution events from the bus and republishes each one
// on its execution topic and on the owning workflow's topic.
type Relay struct {
	broker     *stream.Broker
	subscriber eventbus.EventSubscriber
	logger     *slog.Logger
}

func NewRelay(broker *stream.Broker, subscriber eventbus.EventSubscriber, logger *slog.Logger) *Relay {
	return &Relay{
		broker:     broker,
		subscriber: subscriber,
		logger:     logger.With("module", "gateway_relay"),
	}
}

// Start registers a handler for every execution event type and begins
// consuming the bus.
func (r *Relay) Start(ctx context.Context) error {
	eventTypes := []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionFinishedEvent,
		events.ExecutionStateEvent,
		events.NodeStartedEvent,
		events.NodeFinishedEvent,
		events.NodeFailedEvent,
		events.NodeSkippedEvent,
	}

	for _, eventType := range eventTypes {
		r.subscriber.Handle(eventType, r.relay)
	}

	return r.subscriber.Subscribe(ctx)
}

func (r *Relay) relay(_ context.Context, event any) error {
	busEvent, ok := event.(interface {
		GetType() events.EventType
	})
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	workflowID, executionID := eventIdentity(event)
	if executionID == "" {
		r.logger.Warn("Dropping event without execution identity", "event_type", busEvent.GetType())

		return nil
	}

	r.broker.Publish(events.ExecutionTopic(executionID), event)

	if workflowID != "" {
		r.broker.Publish(events.WorkflowTopic(workflowID), event)
	}

	return nil
}

// eventIdentity pulls the workflow and execution ids off any of the
// decoded bus event structs.
func eventIdentity(event any) (workflowID, executionID string) {
	switch e := event.(type) {
	case *events.ExecutionStarted:
		return e.WorkflowID, e.ExecutionID
	case *events.ExecutionFinished:
		return e.WorkflowID, e.ExecutionID
	case *events.ExecutionState:
		return e.WorkflowID, e.ExecutionID
	case *events.NodeStarted:
		return e.WorkflowID, e.ExecutionID
	case *events.NodeFinished:
		return e.WorkflowID, e.ExecutionID
	case *events.NodeFailed:
		return e.WorkflowID, e.ExecutionID
	case *events.NodeSkipped:
		return e.WorkflowID, e.ExecutionID
	default:
		return "", ""
	}
}

// NewTopicValidator builds the subscribe-time check: an execution topic
// must reference a stored execution, a workflow topic a stored workflow.
func NewTopicValidator(store persistence.Persistence) stream.TopicValidator {
	return func(ctx context.Context, topic string) error {
		switch {
		case strings.HasPrefix(topic, executionTopicPrefix):
			id := strings.TrimPrefix(topic, executionTopicPrefix)
			if _, err := store.ExecutionRepository().GetByID(ctx, id); err != nil {
				if persistence.IsExecutionNotFound(err) {
					return stream.ErrUnknownTopic
				}

				return err
			}

			return nil
		case strings.HasPrefix(topic, workflowTopicPrefix):
			id := strings.TrimPrefix(topic, workflowTopicPrefix)
			if _, err := store.WorkflowRepository().GetByID(ctx, id); err != nil {
				if persistence.IsWorkflowNotFound(err) {
					return stream.ErrUnknownTopic
				}

				return err
			}

			return nil
		default:
			return stream.ErrUnknownTopic
		}
	}
}

// NewSnapshotProvider pushes the current execution record as an
// execution.state event right after a subscription to its topic is
// confirmed. A subscriber that attached between reserve and start
// therefore starts from a consistent baseline.
func NewSnapshotProvider(store persistence.Persistence) stream.SnapshotProvider {
	return func(ctx context.Context, topic string) ([]any, error) {
		if !strings.HasPrefix(topic, executionTopicPrefix) {
			return nil, nil
		}

		id := strings.TrimPrefix(topic, executionTopicPrefix)

		execution, err := store.ExecutionRepository().GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, persistence.ErrExecutionNotFound) {
				return nil, nil
			}

			return nil, err
		}

		snapshot := events.ExecutionState{
			BaseEvent:  events.NewBaseEvent(events.ExecutionStateEvent, execution.WorkflowID, execution.ID),
			Status:     execution.Status,
			NodeStates: execution.NodeStates,
			Error:      execution.ErrorMessage,
		}

		return []any{snapshot}, nil
	}
}
