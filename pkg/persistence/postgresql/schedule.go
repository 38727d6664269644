package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/navio-ai/navio/pkg/models"
	"github.com/navio-ai/navio/pkg/persistence"
)

// ScheduleRepository handles schedule rows, one per workflow.
type ScheduleRepository struct {
	db *sql.DB
}

func NewScheduleRepository(db *sql.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (sr *ScheduleRepository) Save(ctx context.Context, schedule *models.Schedule) error {
	_, err := sr.db.ExecContext(ctx, `
		INSERT INTO schedules (workflow_id, cron_expression, created_at, last_run_at, next_run_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workflow_id) DO UPDATE SET
			cron_expression = EXCLUDED.cron_expression,
			last_run_at = EXCLUDED.last_run_at,
			next_run_at = EXCLUDED.next_run_at`,
		schedule.WorkflowID, schedule.CronExpression, schedule.CreatedAt,
		schedule.LastRunAt, schedule.NextRunAt)
	if err != nil {
		return fmt.Errorf("failed to save schedule for workflow %s: %w", schedule.WorkflowID, err)
	}

	return nil
}

func (sr *ScheduleRepository) GetByWorkflowID(ctx context.Context, workflowID string) (*models.Schedule, error) {
	row := sr.db.QueryRowContext(ctx, `
		SELECT workflow_id, cron_expression, created_at, last_run_at, next_run_at
		FROM schedules WHERE workflow_id = $1`, workflowID)

	schedule, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrScheduleNotFound
	}

	return schedule, err
}

func (sr *ScheduleRepository) DeleteByWorkflowID(ctx context.Context, workflowID string) error {
	result, err := sr.db.ExecContext(ctx, `DELETE FROM schedules WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete schedule for workflow %s: %w", workflowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrScheduleNotFound
	}

	return nil
}

func (sr *ScheduleRepository) List(ctx context.Context) ([]*models.Schedule, error) {
	rows, err := sr.db.QueryContext(ctx, `
		SELECT workflow_id, cron_expression, created_at, last_run_at, next_run_at
		FROM schedules ORDER BY workflow_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	schedules := make([]*models.Schedule, 0)

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}

		schedules = append(schedules, schedule)
	}

	return schedules, rows.Err()
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var (
		schedule  models.Schedule
		lastRunAt sql.NullTime
		nextRunAt sql.NullTime
	)

	err := row.Scan(&schedule.WorkflowID, &schedule.CronExpression,
		&schedule.CreatedAt, &lastRunAt, &nextRunAt)
	if err != nil {
		return nil, err
	}

	if lastRunAt.Valid {
		schedule.LastRunAt = &lastRunAt.Time
	}

	if nextRunAt.Valid {
		schedule.NextRunAt = &nextRunAt.Time
	}

	return &schedule, nil
}
