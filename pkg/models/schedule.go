package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidCronExpression = errors.New("invalid cron expression")

// Schedule binds a workflow to a cron cadence. One schedule per workflow.
type Schedule struct {
	WorkflowID     string     `json:"workflow_id"     validate:"required"`
	CronExpression string     `json:"cron_expression" validate:"required"`
	CreatedAt      time.Time  `json:"created_at"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
}

// NewSchedule validates the cron expression and computes the first run time.
func NewSchedule(workflowID, cronExpression string) (*Schedule, error) {
	sched, err := cron.ParseStandard(cronExpression)
	if err != nil {
		return nil, ErrInvalidCronExpression
	}

	now := time.Now().UTC()
	next := sched.Next(now)

	return &Schedule{
		WorkflowID:     workflowID,
		CronExpression: cronExpression,
		CreatedAt:      now,
		NextRunAt:      &next,
	}, nil
}

// MarkRun records a tick and advances the next run time.
func (s *Schedule) MarkRun(now time.Time) {
	sched, err := cron.ParseStandard(s.CronExpression)
	if err != nil {
		return
	}

	now = now.UTC()
	next := sched.Next(now)
	s.LastRunAt = &now
	s.NextRunAt = &next
}
