package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/navio-ai/navio/pkg/models"
	"github.com/navio-ai/navio/pkg/persistence"
)

// ExecutionRepository handles execution rows. Update runs inside a
// transaction with SELECT ... FOR UPDATE so the read-modify-write is atomic
// per execution id.
type ExecutionRepository struct {
	db *sql.DB
}

func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

const executionColumns = `
	id, workflow_id, status, node_states, cancel_requested, error_message,
	metrics, created_at, started_at, finished_at`

func (er *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	nodeStates, metrics, err := encodeExecution(execution)
	if err != nil {
		return err
	}

	_, err = er.db.ExecContext(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		execution.ID, execution.WorkflowID, execution.Status,
		nodeStates, execution.CancelRequested, execution.ErrorMessage,
		metrics, execution.CreatedAt, execution.StartedAt, execution.FinishedAt)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	row := er.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return execution, err
}

func (er *ExecutionRepository) Update(
	ctx context.Context,
	id string,
	fn func(*models.Execution) error,
) (*models.Execution, error) {
	transaction, err := er.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.NewExecutionError("Update", id, err)
	}
	defer func() { _ = transaction.Rollback() }()

	row := transaction.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1 FOR UPDATE`, id)

	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("Update", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, err
	}

	before := execution.Status

	if err := fn(execution); err != nil {
		return nil, err
	}

	if execution.Status != before && !before.CanTransitionTo(execution.Status) {
		return nil, persistence.NewExecutionError("Update", id, persistence.ErrInvalidTransition)
	}

	nodeStates, metrics, err := encodeExecution(execution)
	if err != nil {
		return nil, err
	}

	_, err = transaction.ExecContext(ctx, `
		UPDATE executions SET
			status = $2,
			node_states = $3,
			cancel_requested = $4,
			error_message = $5,
			metrics = $6,
			started_at = $7,
			finished_at = $8
		WHERE id = $1`,
		id, execution.Status, nodeStates, execution.CancelRequested,
		execution.ErrorMessage, metrics, execution.StartedAt, execution.FinishedAt)
	if err != nil {
		return nil, persistence.NewExecutionError("Update", id, err)
	}

	if err := transaction.Commit(); err != nil {
		return nil, persistence.NewExecutionError("Update", id, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	rows, err := er.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE workflow_id = $1 ORDER BY created_at`,
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for workflow %s: %w", workflowID, err)
	}
	defer rows.Close()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func (er *ExecutionRepository) AppendLog(ctx context.Context, id string, entry models.ExecutionLogEntry) error {
	_, err := er.db.ExecContext(ctx, `
		INSERT INTO execution_logs (execution_id, ts, level, node_id, message)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		id, entry.Timestamp, entry.Level, entry.NodeID, entry.Message)
	if err != nil {
		return persistence.NewExecutionError("AppendLog", id, err)
	}

	return nil
}

func (er *ExecutionRepository) Logs(ctx context.Context, id string) ([]models.ExecutionLogEntry, error) {
	rows, err := er.db.QueryContext(ctx, `
		SELECT ts, level, COALESCE(node_id, ''), message
		FROM execution_logs WHERE execution_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, persistence.NewExecutionError("Logs", id, err)
	}
	defer rows.Close()

	entries := make([]models.ExecutionLogEntry, 0)

	for rows.Next() {
		var entry models.ExecutionLogEntry
		if err := rows.Scan(&entry.Timestamp, &entry.Level, &entry.NodeID, &entry.Message); err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func encodeExecution(execution *models.Execution) (nodeStates, metrics []byte, err error) {
	nodeStates, err = json.Marshal(execution.NodeStates)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode node states: %w", err)
	}

	metrics, err = json.Marshal(execution.Metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode metrics: %w", err)
	}

	return nodeStates, metrics, nil
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution  models.Execution
		nodeStates []byte
		metrics    []byte
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)

	err := row.Scan(
		&execution.ID, &execution.WorkflowID, &execution.Status,
		&nodeStates, &execution.CancelRequested, &execution.ErrorMessage,
		&metrics, &execution.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		execution.StartedAt = &startedAt.Time
	}

	if finishedAt.Valid {
		execution.FinishedAt = &finishedAt.Time
	}

	if err := json.Unmarshal(nodeStates, &execution.NodeStates); err != nil {
		return nil, fmt.Errorf("failed to decode node states for execution %s: %w", execution.ID, err)
	}

	if err := json.Unmarshal(metrics, &execution.Metrics); err != nil {
		return nil, fmt.Errorf("failed to decode metrics for execution %s: %w", execution.ID, err)
	}

	return &execution, nil
}
