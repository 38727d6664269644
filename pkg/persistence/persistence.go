// Package persistence provides the data storage abstraction for workflows,
// executions and schedules.
package persistence

import (
	"context"

	"github.com/navio-ai/navio/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	ScheduleRepository() ScheduleRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type WorkflowRepository interface {
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Workflow, error)
}

// ExecutionRepository stores execution records. Update is the only mutation
// path: implementations apply fn under a per-execution-id atomic
// read-modify-write so concurrent status transitions and cancel flags never
// interleave. Executions are never deleted.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	Update(ctx context.Context, id string, fn func(*models.Execution) error) (*models.Execution, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)

	AppendLog(ctx context.Context, id string, entry models.ExecutionLogEntry) error
	Logs(ctx context.Context, id string) ([]models.ExecutionLogEntry, error)
}

type ScheduleRepository interface {
	Save(ctx context.Context, schedule *models.Schedule) error
	GetByWorkflowID(ctx context.Context, workflowID string) (*models.Schedule, error)
	DeleteByWorkflowID(ctx context.Context, workflowID string) error
	List(ctx context.Context) ([]*models.Schedule, error)
}
