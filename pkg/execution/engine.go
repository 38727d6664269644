package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/navio-ai/navio/pkg/eventbus"
	"github.com/navio-ai/navio/pkg/events"
	"github.com/navio-ai/navio/pkg/models"
	"github.com/navio-ai/navio/pkg/otelhelper"
	"github.com/navio-ai/navio/pkg/persistence"
	"github.com/navio-ai/navio/pkg/protocol"
	"github.com/navio-ai/navio/pkg/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Engine walks a workflow's node graph for one execution: it runs nodes in
// a dependency-respecting order, re-reads the cooperative cancellation flag
// before each node, contains node failures to their downstream branch, and
// publishes an event for every transition.
type Engine struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewEngine(
	persistence persistence.Persistence,
	registry *registry.Registry,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		persistence: persistence,
		registry:    registry,
		publisher:   publisher,
		tracer:      otel.Tracer("navio.execution"),
		logger:      logger.With("module", "execution_engine"),
	}
}

// WithTracer replaces the default tracer. Used by processes that bootstrap
// an OTLP exporter.
func (e *Engine) WithTracer(tracer trace.Tracer) *Engine {
	e.tracer = tracer

	return e
}

// Run executes an execution that is already in the running state. Node
// failures never abort sibling branches; engine-level failures (store
// unavailable, broken graph) mark the execution failed with a generic
// error.
func (e *Engine) Run(ctx context.Context, executionID string) {
	logger := e.logger.With("execution_id", executionID)

	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		logger.Error("Failed to load execution", "error", err)

		return
	}

	logger = logger.With("workflow_id", execution.WorkflowID)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.run",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
	)
	defer span.End()

	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		e.failExecution(ctx, executionID, "workflow unavailable", err, logger)
		otelhelper.SetError(span, err)

		return
	}

	g, err := buildGraph(workflow)
	if err != nil {
		e.failExecution(ctx, executionID, "invalid workflow graph", err, logger)
		otelhelper.SetError(span, err)

		return
	}

	logger.Info("Starting execution run", "nodes", len(g.order))

	skipped := make(map[string]string) // node id -> reason
	anyFailed := false

	for _, nodeID := range g.order {
		// Cancellation is cooperative and checked only at node boundaries.
		current, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
		if err != nil {
			e.failExecution(ctx, executionID, "execution store unavailable", err, logger)
			otelhelper.SetError(span, err)

			return
		}

		if current.CancelRequested {
			e.cancelRemaining(ctx, executionID, execution.WorkflowID, g.order, logger)

			return
		}

		if reason, isSkipped := skipped[nodeID]; isSkipped {
			e.skipNode(ctx, executionID, execution.WorkflowID, nodeID, reason, logger)

			continue
		}

		node := workflow.NodeByID(nodeID)
		if node == nil {
			e.failExecution(ctx, executionID, "node missing from workflow", fmt.Errorf("node %s not found", nodeID), logger)
			otelhelper.SetError(span, fmt.Errorf("node %s not found", nodeID))

			return
		}

		if !node.Enabled {
			e.skipNode(ctx, executionID, execution.WorkflowID, nodeID, "node disabled", logger)

			continue
		}

		nodeErr := e.runNode(ctx, executionID, execution.WorkflowID, workflow, node, logger)
		if nodeErr != nil {
			anyFailed = true

			for dependent := range g.downstream(nodeID) {
				if _, already := skipped[dependent]; !already {
					skipped[dependent] = "upstream node " + nodeID + " failed"
				}
			}
		}
	}

	finalStatus := models.ExecutionStatusSucceeded
	errorMessage := ""

	if anyFailed {
		finalStatus = models.ExecutionStatusFailed
		errorMessage = "one or more nodes failed"
	}

	e.finishExecution(ctx, executionID, execution.WorkflowID, finalStatus, errorMessage, logger)
}

func (e *Engine) runNode(
	ctx context.Context,
	executionID, workflowID string,
	workflow *models.Workflow,
	node *models.WorkflowNode,
	logger *slog.Logger,
) error {
	logger = logger.With("node_id", node.ID, "node_type", node.Type)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.node",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type),
	)
	defer span.End()

	started := time.Now().UTC()

	updated, err := e.persistence.ExecutionRepository().Update(ctx, executionID, func(execution *models.Execution) error {
		state := execution.NodeState(node.ID)
		state.Status = models.NodeStatusRunning
		state.StartedAt = &started

		return nil
	})
	if err != nil {
		logger.Error("Failed to mark node running", "error", err)

		return err
	}

	e.publish(ctx, events.NodeStarted{
		BaseEvent: events.NewBaseEvent(events.NodeStartedEvent, workflowID, executionID),
		NodeID:    node.ID,
	}, logger)
	e.appendLog(ctx, executionID, "info", node.ID, "node started", logger)

	result, runErr := e.executeRunner(ctx, node, workflow, updated)

	finished := time.Now().UTC()
	duration := finished.Sub(started)

	if runErr != nil {
		logger.Warn("Node failed", "error", runErr, "duration", duration)
		otelhelper.SetError(span, runErr)

		_, err = e.persistence.ExecutionRepository().Update(ctx, executionID, func(execution *models.Execution) error {
			state := execution.NodeState(node.ID)
			state.Status = models.NodeStatusFailed
			state.Error = runErr.Error()
			state.FinishedAt = &finished

			return nil
		})
		if err != nil {
			logger.Error("Failed to record node failure", "error", err)
		}

		e.publish(ctx, events.NodeFailed{
			BaseEvent:  events.NewBaseEvent(events.NodeFailedEvent, workflowID, executionID),
			NodeID:     node.ID,
			Error:      runErr.Error(),
			DurationMs: duration.Milliseconds(),
		}, logger)
		e.appendLog(ctx, executionID, "error", node.ID, "node failed: "+runErr.Error(), logger)

		return runErr
	}

	_, err = e.persistence.ExecutionRepository().Update(ctx, executionID, func(execution *models.Execution) error {
		state := execution.NodeState(node.ID)
		state.Status = models.NodeStatusSucceeded
		state.Output = result.Output
		state.FinishedAt = &finished
		execution.Metrics.Tokens += result.Tokens
		execution.Metrics.CostMilliCents += result.CostMilliCents

		return nil
	})
	if err != nil {
		logger.Error("Failed to record node success", "error", err)

		return err
	}

	logger.Info("Node finished", "duration", duration)

	e.publish(ctx, events.NodeFinished{
		BaseEvent:  events.NewBaseEvent(events.NodeFinishedEvent, workflowID, executionID),
		NodeID:     node.ID,
		Output:     result.Output,
		DurationMs: duration.Milliseconds(),
	}, logger)
	e.appendLog(ctx, executionID, "info", node.ID, "node finished", logger)

	return nil
}

// executeRunner builds the runner and runs the step. The runner call is the
// only suspension point within an execution.
func (e *Engine) executeRunner(
	ctx context.Context,
	node *models.WorkflowNode,
	workflow *models.Workflow,
	execution *models.Execution,
) (*protocol.NodeResult, error) {
	runner, err := e.registry.Create(ctx, node.Type, node.ID, node.Config)
	if err != nil {
		return nil, err
	}

	input := map[string]any{
		"variables": workflow.Variables,
		"nodes":     nodeOutputs(execution),
	}

	result, err := runner.Run(ctx, input)
	if err != nil {
		return nil, err
	}

	if result == nil {
		result = &protocol.NodeResult{}
	}

	return result, nil
}

func nodeOutputs(execution *models.Execution) map[string]any {
	outputs := make(map[string]any)

	for nodeID, state := range execution.NodeStates {
		if state.Status == models.NodeStatusSucceeded && state.Output != nil {
			outputs[nodeID] = state.Output
		}
	}

	return outputs
}

func (e *Engine) skipNode(ctx context.Context, executionID, workflowID, nodeID, reason string, logger *slog.Logger) {
	_, err := e.persistence.ExecutionRepository().Update(ctx, executionID, func(execution *models.Execution) error {
		state := execution.NodeState(nodeID)
		if state.Status == models.NodeStatusPending {
			state.Status = models.NodeStatusSkipped
			state.Error = reason
		}

		return nil
	})
	if err != nil {
		logger.Error("Failed to mark node skipped", "node_id", nodeID, "error", err)

		return
	}

	logger.Info("Node skipped", "node_id", nodeID, "reason", reason)

	e.publish(ctx, events.NodeSkipped{
		BaseEvent: events.NewBaseEvent(events.NodeSkippedEvent, workflowID, executionID),
		NodeID:    nodeID,
		Reason:    reason,
	}, logger)
	e.appendLog(ctx, executionID, "info", nodeID, "node skipped: "+reason, logger)
}

// cancelRemaining marks every node that has not reached a terminal node
// status as skipped and finishes the execution as cancelled.
func (e *Engine) cancelRemaining(ctx context.Context, executionID, workflowID string, order []string, logger *slog.Logger) {
	logger.Info("Cancellation requested, stopping node scheduling")

	var skippedNodes []string

	_, err := e.persistence.ExecutionRepository().Update(ctx, executionID, func(execution *models.Execution) error {
		for _, nodeID := range order {
			state := execution.NodeState(nodeID)
			if state.Status == models.NodeStatusPending || state.Status == models.NodeStatusRunning {
				state.Status = models.NodeStatusSkipped
				state.Error = "execution cancelled"
				skippedNodes = append(skippedNodes, nodeID)
			}
		}

		return nil
	})
	if err != nil {
		logger.Error("Failed to skip remaining nodes on cancel", "error", err)
	}

	for _, nodeID := range skippedNodes {
		e.publish(ctx, events.NodeSkipped{
			BaseEvent: events.NewBaseEvent(events.NodeSkippedEvent, workflowID, executionID),
			NodeID:    nodeID,
			Reason:    "execution cancelled",
		}, logger)
	}

	e.finishExecution(ctx, executionID, workflowID, models.ExecutionStatusCancelled, "", logger)
}

func (e *Engine) failExecution(ctx context.Context, executionID, message string, cause error, logger *slog.Logger) {
	logger.Error("Execution failed at engine level", "reason", message, "error", cause)

	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		logger.Error("Failed to load execution for failure marking", "error", err)

		return
	}

	e.finishExecution(ctx, executionID, execution.WorkflowID, models.ExecutionStatusFailed, message, logger)
}

func (e *Engine) finishExecution(
	ctx context.Context,
	executionID, workflowID string,
	status models.ExecutionStatus,
	errorMessage string,
	logger *slog.Logger,
) {
	finished := time.Now().UTC()

	var startedAt *time.Time

	updated, err := e.persistence.ExecutionRepository().Update(ctx, executionID, func(execution *models.Execution) error {
		execution.Status = status
		execution.ErrorMessage = errorMessage
		execution.FinishedAt = &finished
		startedAt = execution.StartedAt

		return nil
	})
	if err != nil {
		logger.Error("Failed to finish execution", "status", status, "error", err)

		return
	}

	var durationMs int64
	if startedAt != nil {
		durationMs = finished.Sub(*startedAt).Milliseconds()
	}

	statuses := make(map[string]models.NodeStatus, len(updated.NodeStates))
	for nodeID, state := range updated.NodeStates {
		statuses[nodeID] = state.Status
	}

	logger.Info("Execution finished", "status", status, "duration_ms", durationMs)

	e.publish(ctx, events.ExecutionFinished{
		BaseEvent:    events.NewBaseEvent(events.ExecutionFinishedEvent, workflowID, executionID),
		Status:       status,
		Error:        errorMessage,
		NodeStatuses: statuses,
		Metrics:      updated.Metrics,
		DurationMs:   durationMs,
	}, logger)
	e.appendLog(ctx, executionID, "info", "", "execution finished with status "+string(status), logger)
}

// publish is fire-and-forget with respect to execution progress: a broken
// bus never blocks or fails the engine.
func (e *Engine) publish(ctx context.Context, event eventbus.Event, logger *slog.Logger) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, event); err != nil {
		logger.Error("Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) appendLog(ctx context.Context, executionID, level, nodeID, message string, logger *slog.Logger) {
	entry := models.ExecutionLogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		NodeID:    nodeID,
		Message:   message,
	}

	if err := e.persistence.ExecutionRepository().AppendLog(ctx, executionID, entry); err != nil {
		logger.Error("Failed to append execution log", "error", err)
	}
}
