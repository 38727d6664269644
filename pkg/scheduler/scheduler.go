// Package scheduler runs workflows on cron cadences. Schedules are
// persisted so they survive restarts, and a tick is skipped when the
// workflow already has an active execution.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/navio-ai/navio/pkg/models"
	"github.com/navio-ai/navio/pkg/persistence"
	"github.com/robfig/cron/v3"
)

var ErrNotScheduled = errors.New("workflow has no schedule")

// Starter is the execution entry point the scheduler drives on each tick.
type Starter interface {
	ReserveAndStart(ctx context.Context, workflowID string) (*models.Execution, error)
	HasActiveExecution(ctx context.Context, workflowID string) (bool, error)
}

// Manager owns one cron entry per scheduled workflow.
type Manager struct {
	persistence persistence.Persistence
	starter     Starter
	logger      *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	started bool
}

func NewManager(persistence persistence.Persistence, starter Starter, logger *slog.Logger) *Manager {
	return &Manager{
		persistence: persistence,
		starter:     starter,
		logger:      logger.With("module", "scheduler"),
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads all persisted schedules, registers their cron entries and
// starts ticking.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	schedules, err := m.persistence.ScheduleRepository().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	for _, schedule := range schedules {
		if err := m.register(schedule); err != nil {
			m.logger.Error("Failed to register persisted schedule",
				"workflow_id", schedule.WorkflowID,
				"cron", schedule.CronExpression,
				"error", err,
			)
		}
	}

	m.cron.Start()
	m.started = true

	m.logger.Info("Scheduler started", "schedules", len(m.entries))

	return nil
}

// Stop halts ticking and waits for running jobs to complete.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	stopCtx := m.cron.Stop()
	m.started = false

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	m.logger.Info("Scheduler stopped")

	return nil
}

// Schedule attaches a cron cadence to a workflow, replacing any existing
// one. The workflow must exist.
func (m *Manager) Schedule(ctx context.Context, workflowID, cronExpression string) (*models.Schedule, error) {
	if _, err := m.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	schedule, err := models.NewSchedule(workflowID, cronExpression)
	if err != nil {
		return nil, err
	}

	if err := m.persistence.ScheduleRepository().Save(ctx, schedule); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.unregister(workflowID)

	if err := m.register(schedule); err != nil {
		return nil, err
	}

	m.logger.Info("Workflow scheduled", "workflow_id", workflowID, "cron", cronExpression)

	return schedule, nil
}

// Unschedule removes a workflow's schedule.
func (m *Manager) Unschedule(ctx context.Context, workflowID string) error {
	if err := m.persistence.ScheduleRepository().DeleteByWorkflowID(ctx, workflowID); err != nil {
		if errors.Is(err, persistence.ErrScheduleNotFound) {
			return ErrNotScheduled
		}

		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.unregister(workflowID)

	m.logger.Info("Workflow unscheduled", "workflow_id", workflowID)

	return nil
}

// GetSchedule returns the persisted schedule of a workflow.
func (m *Manager) GetSchedule(ctx context.Context, workflowID string) (*models.Schedule, error) {
	schedule, err := m.persistence.ScheduleRepository().GetByWorkflowID(ctx, workflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrScheduleNotFound) {
			return nil, ErrNotScheduled
		}

		return nil, err
	}

	return schedule, nil
}

// ListScheduled returns all persisted schedules.
func (m *Manager) ListScheduled(ctx context.Context) ([]*models.Schedule, error) {
	return m.persistence.ScheduleRepository().List(ctx)
}

// register must be called with m.mu held.
func (m *Manager) register(schedule *models.Schedule) error {
	workflowID := schedule.WorkflowID

	entryID, err := m.cron.AddFunc(schedule.CronExpression, func() {
		m.tick(workflowID)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron entry for workflow %s: %w", workflowID, err)
	}

	m.entries[workflowID] = entryID

	return nil
}

// unregister must be called with m.mu held.
func (m *Manager) unregister(workflowID string) {
	if entryID, ok := m.entries[workflowID]; ok {
		m.cron.Remove(entryID)
		delete(m.entries, workflowID)
	}
}

// tick fires one scheduled run. A tick is dropped when a previous run of
// the workflow is still reserved or running.
func (m *Manager) tick(workflowID string) {
	ctx := context.Background()
	logger := m.logger.With("workflow_id", workflowID)

	active, err := m.starter.HasActiveExecution(ctx, workflowID)
	if err != nil {
		logger.Error("Failed to check for active execution, skipping tick", "error", err)

		return
	}

	if active {
		logger.Info("Skipping tick, previous execution still active")

		return
	}

	execution, err := m.starter.ReserveAndStart(ctx, workflowID)
	if err != nil {
		logger.Error("Failed to start scheduled execution", "error", err)

		return
	}

	logger.Info("Scheduled execution started", "execution_id", execution.ID)

	m.markRun(ctx, workflowID)
}

func (m *Manager) markRun(ctx context.Context, workflowID string) {
	schedule, err := m.persistence.ScheduleRepository().GetByWorkflowID(ctx, workflowID)
	if err != nil {
		m.logger.Error("Failed to load schedule for run bookkeeping", "workflow_id", workflowID, "error", err)

		return
	}

	schedule.MarkRun(time.Now())

	if err := m.persistence.ScheduleRepository().Save(ctx, schedule); err != nil {
		m.logger.Error("Failed to record schedule run", "workflow_id", workflowID, "error", err)
	}
}
