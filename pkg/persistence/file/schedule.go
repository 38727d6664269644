package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/navio-ai/navio/pkg/models"
	"github.com/navio-ai/navio/pkg/persistence"
)

// ScheduleRepository stores schedules keyed by workflow id under
// {root}/schedules/{workflow_id}.json.
type ScheduleRepository struct {
	root string
	mu   sync.RWMutex
}

func NewScheduleRepository(root string) *ScheduleRepository {
	return &ScheduleRepository{root: root}
}

func (sr *ScheduleRepository) dir() string {
	return filepath.Join(sr.root, "schedules")
}

func (sr *ScheduleRepository) path(workflowID string) string {
	return filepath.Join(sr.dir(), workflowID+".json")
}

func (sr *ScheduleRepository) Save(_ context.Context, schedule *models.Schedule) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if err := os.MkdirAll(sr.dir(), 0o750); err != nil {
		return fmt.Errorf("failed to create schedules directory: %w", err)
	}

	data, err := json.MarshalIndent(schedule, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode schedule for workflow %s: %w", schedule.WorkflowID, err)
	}

	return writeFileAtomic(sr.path(schedule.WorkflowID), data)
}

func (sr *ScheduleRepository) GetByWorkflowID(_ context.Context, workflowID string) (*models.Schedule, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	return sr.read(workflowID)
}

func (sr *ScheduleRepository) DeleteByWorkflowID(_ context.Context, workflowID string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	err := os.Remove(sr.path(workflowID))
	if errors.Is(err, fs.ErrNotExist) {
		return persistence.ErrScheduleNotFound
	}

	return err
}

func (sr *ScheduleRepository) List(_ context.Context) ([]*models.Schedule, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	entries, err := os.ReadDir(sr.dir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*models.Schedule{}, nil
		}

		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	schedules := make([]*models.Schedule, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		schedule, err := sr.read(entry.Name()[:len(entry.Name())-5])
		if err != nil {
			return nil, err
		}

		schedules = append(schedules, schedule)
	}

	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].WorkflowID < schedules[j].WorkflowID
	})

	return schedules, nil
}

func (sr *ScheduleRepository) read(workflowID string) (*models.Schedule, error) {
	data, err := os.ReadFile(sr.path(workflowID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, fmt.Errorf("failed to read schedule for workflow %s: %w", workflowID, err)
	}

	var schedule models.Schedule
	if err := json.Unmarshal(data, &schedule); err != nil {
		return nil, fmt.Errorf("failed to decode schedule for workflow %s: %w", workflowID, err)
	}

	return &schedule, nil
}
