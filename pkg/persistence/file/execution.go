package file

import (
	"bufio"
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

// ExecutionRepository stores each execution as a JSON file under
// {root}/executions/{id}.json, with the log as a JSON-lines sidecar.
// Mutations go through a per-execution-id lock so Update is an atomic
// read-modify-write.
type ExecutionRepository struct {
	root  string
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}
}

func (er *ExecutionRepository) lockFor(id string) *sync.Mutex {
	er.mu.Lock()
	defer er.mu.Unlock()

	lock, ok := er.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		er.locks[id] = lock
	}

	return lock
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

func (er *ExecutionRepository) path(id string) string {
	return filepath.Join(er.dir(), id+".json")
}

func (er *ExecutionRepository) logPath(id string) string {
	return filepath.Join(er.dir(), id+".log")
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	lock := er.lockFor(execution.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(er.dir(), 0o750); err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	if _, err := os.Stat(er.path(execution.ID)); err == nil {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionExists)
	}

	return er.write(execution)
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	lock := er.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	return er.read(id)
}

// Update applies fn to the stored record under the per-id lock and rejects
// backward status transitions before persisting the result.
func (er *ExecutionRepository) Update(
	_ context.Context,
	id string,
	fn func(*models.Execution) error,
) (*models.Execution, error) {
	lock := er.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	execution, err := er.read(id)
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

	if err := er.write(execution); err != nil {
		return nil, err
	}

	return execution, nil
}

func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.Execution, error) {
	entries, err := os.ReadDir(er.dir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*models.Execution{}, nil
		}

		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := make([]*models.Execution, 0)

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		id := entry.Name()[:len(entry.Name())-5]

		lock := er.lockFor(id)
		lock.Lock()
		execution, err := er.read(id)
		lock.Unlock()

		if err != nil {
			return nil, err
		}

		if execution.WorkflowID == workflowID {
			executions = append(executions, execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})

	return executions, nil
}

func (er *ExecutionRepository) AppendLog(_ context.Context, id string, entry models.ExecutionLogEntry) error {
	lock := er.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := er.read(id); err != nil {
		return err
	}

	file, err := os.OpenFile(er.logPath(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open execution log %s: %w", id, err)
	}
	defer file.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode log entry: %w", err)
	}

	_, err = file.Write(append(data, '\n'))

	return err
}

func (er *ExecutionRepository) Logs(_ context.Context, id string) ([]models.ExecutionLogEntry, error) {
	lock := er.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := er.read(id); err != nil {
		return nil, err
	}

	file, err := os.Open(er.logPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.ExecutionLogEntry{}, nil
		}

		return nil, fmt.Errorf("failed to open execution log %s: %w", id, err)
	}
	defer file.Close()

	entries := make([]models.ExecutionLogEntry, 0)
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		var entry models.ExecutionLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode log entry for execution %s: %w", id, err)
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func (er *ExecutionRepository) read(id string) (*models.Execution, error) {
	data, err := os.ReadFile(er.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", id, err)
	}

	var execution models.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to decode execution %s: %w", id, err)
	}

	return &execution, nil
}

func (er *ExecutionRepository) write(execution *models.Execution) error {
	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode execution %s: %w", execution.ID, err)
	}

	return writeFileAtomic(er.path(execution.ID), data)
}
