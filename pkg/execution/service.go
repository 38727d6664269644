// Package execution implements the execution lifecycle: reservation,
// start, the node-graph engine, cooperative cancellation, and read access
// to execution state, logs and exports.
package execution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/navio-ai/navio/pkg/eventbus"
	"github.com/navio-ai/navio/pkg/events"
	"github.com/navio-ai/navio/pkg/models"
	"github.com/navio-ai/navio/pkg/persistence"
)

// Service owns the execution lifecycle. Reserve creates a durable
// execution id before anything runs, so callers can subscribe to its
// delivery topic with zero event loss, then Start flips it to running and
// hands it to the engine.
type Service struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	engine      *Engine
	logger      *slog.Logger
}

func NewService(
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	engine *Engine,
	logger *slog.Logger,
) *Service {
	return &Service{
		persistence: persistence,
		publisher:   publisher,
		engine:      engine,
		logger:      logger.With("module", "execution_service"),
	}
}

// Reserve creates a reserved execution for the workflow. The record is
// durable before this returns; no events are published and nothing runs.
func (s *Service) Reserve(ctx context.Context, workflowID string) (*models.Execution, error) {
	if workflowID == "" {
		return nil, ErrEmptyWorkflowID
	}

	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	execution := &models.Execution{
		ID:         uuid.New().String(),
		WorkflowID: workflow.ID,
		Status:     models.ExecutionStatusReserved,
		NodeStates: make(map[string]*models.NodeState, len(workflow.Nodes)),
		CreatedAt:  now,
	}

	for _, node := range workflow.Nodes {
		execution.NodeStates[node.ID] = &models.NodeState{
			NodeID: node.ID,
			Status: models.NodeStatusPending,
		}
	}

	if err := s.persistence.ExecutionRepository().Create(ctx, execution); err != nil {
		return nil, err
	}

	s.logger.Info("Execution reserved", "execution_id", execution.ID, "workflow_id", workflowID)

	return execution, nil
}

// Start transitions a reserved execution to running and launches the
// engine asynchronously. Starting anything but a reserved execution is a
// conflict.
func (s *Service) Start(ctx context.Context, executionID string) (*models.Execution, error) {
	if executionID == "" {
		return nil, ErrEmptyExecutionID
	}

	started := time.Now().UTC()

	execution, err := s.persistence.ExecutionRepository().Update(ctx, executionID, func(execution *models.Execution) error {
		if execution.Status != models.ExecutionStatusReserved {
			return ErrNotReserved
		}

		execution.Status = models.ExecutionStatusRunning
		execution.StartedAt = &started

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Execution started", "execution_id", executionID, "workflow_id", execution.WorkflowID)

	s.publish(ctx, events.ExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent, execution.WorkflowID, executionID),
	})

	go s.engine.Run(context.WithoutCancel(ctx), executionID)

	return execution, nil
}

// ReserveAndStart runs both lifecycle steps back to back, for callers
// that do not need the subscribe window between them.
func (s *Service) ReserveAndStart(ctx context.Context, workflowID string) (*models.Execution, error) {
	execution, err := s.Reserve(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return s.Start(ctx, execution.ID)
}

// Cancel requests cancellation. A reserved execution is cancelled
// immediately; a running one gets its flag set and the engine honors it
// at the next node boundary. Cancelling a terminal execution is a
// conflict.
func (s *Service) Cancel(ctx context.Context, executionID string) (*models.Execution, error) {
	if executionID == "" {
		return nil, ErrEmptyExecutionID
	}

	var wasReserved bool

	execution, err := s.persistence.ExecutionRepository().Update(ctx, executionID, func(execution *models.Execution) error {
		switch {
		case execution.Status.IsTerminal():
			return ErrAlreadyTerminal
		case execution.Status == models.ExecutionStatusReserved:
			now := time.Now().UTC()
			execution.Status = models.ExecutionStatusCancelled
			execution.FinishedAt = &now
			wasReserved = true
		default:
			execution.CancelRequested = true
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Cancellation requested", "execution_id", executionID, "immediate", wasReserved)

	if wasReserved {
		statuses := make(map[string]models.NodeStatus, len(execution.NodeStates))
		for nodeID, state := range execution.NodeStates {
			statuses[nodeID] = state.Status
		}

		s.publish(ctx, events.ExecutionFinished{
			BaseEvent:    events.NewBaseEvent(events.ExecutionFinishedEvent, execution.WorkflowID, executionID),
			Status:       models.ExecutionStatusCancelled,
			NodeStatuses: statuses,
			Metrics:      execution.Metrics,
		})
	}

	return execution, nil
}

// Status returns the current execution record.
func (s *Service) Status(ctx context.Context, executionID string) (*models.Execution, error) {
	if executionID == "" {
		return nil, ErrEmptyExecutionID
	}

	return s.persistence.ExecutionRepository().GetByID(ctx, executionID)
}

// Logs returns the ordered log entries of an execution.
func (s *Service) Logs(ctx context.Context, executionID string) ([]models.ExecutionLogEntry, error) {
	if executionID == "" {
		return nil, ErrEmptyExecutionID
	}

	if _, err := s.persistence.ExecutionRepository().GetByID(ctx, executionID); err != nil {
		return nil, err
	}

	return s.persistence.ExecutionRepository().Logs(ctx, executionID)
}

// Export bundles an execution record with its logs for download.
func (s *Service) Export(ctx context.Context, executionID string) (*models.ExecutionExport, error) {
	execution, err := s.Status(ctx, executionID)
	if err != nil {
		return nil, err
	}

	logs, err := s.persistence.ExecutionRepository().Logs(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return &models.ExecutionExport{
		Execution:  execution,
		Logs:       logs,
		ExportedAt: time.Now().UTC(),
	}, nil
}

// ListByWorkflow returns the executions of one workflow, newest first.
func (s *Service) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	if workflowID == "" {
		return nil, ErrEmptyWorkflowID
	}

	if _, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	return s.persistence.ExecutionRepository().ListByWorkflow(ctx, workflowID)
}

// HasActiveExecution reports whether the workflow has a reserved or
// running execution. The scheduler uses it to skip overlapping ticks.
func (s *Service) HasActiveExecution(ctx context.Context, workflowID string) (bool, error) {
	executions, err := s.persistence.ExecutionRepository().ListByWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return false, nil
		}

		return false, err
	}

	for _, execution := range executions {
		if !execution.Status.IsTerminal() {
			return true, nil
		}
	}

	return false, nil
}

func (s *Service) publish(ctx context.Context, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
