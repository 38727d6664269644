package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/navio-ai/navio/pkg/execution"
	"github.com/navio-ai/navio/pkg/log"
	"github.com/navio-ai/navio/pkg/models"
	logfactory "github.com/navio-ai/navio/pkg/nodes/log"
	"github.com/navio-ai/navio/pkg/persistence/file"
	"github.com/navio-ai/navio/pkg/registry"
	"github.com/navio-ai/navio/pkg/scheduler"
	"github.com/navio-ai/navio/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, *file.Persistence, *execution.Service) {
	t.Helper()

	logger := log.WithModule("test")
	store := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.Register(logfactory.NewFactory())

	engine := execution.NewEngine(store, reg, nil, logger)
	executionService := execution.NewService(store, nil, engine, logger)
	scheduleManager := scheduler.NewManager(store, executionService, logger)
	validate := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(store.WorkflowRepository(), executionService, scheduleManager, validate, reg)

	app := fiber.New()

	v1 := app.Group("/v1")
	v1.Post("/workflows/", handlers.CreateWorkflow)
	v1.Get("/workflows/", handlers.ListWorkflows)
	v1.Get("/workflows/:id", handlers.GetWorkflow)
	v1.Delete("/workflows/:id", handlers.DeleteWorkflow)
	v1.Post("/workflows/:id/executions", handlers.CreateExecution)
	v1.Get("/workflows/:id/executions", handlers.ListWorkflowExecutions)
	v1.Post("/executions/:id/start", handlers.StartExecution)
	v1.Post("/executions/:id/cancel", handlers.CancelExecution)
	v1.Get("/executions/:id", handlers.GetExecution)
	v1.Get("/executions/:id/logs", handlers.GetExecutionLogs)
	v1.Get("/executions/:id/export", handlers.ExportExecution)
	v1.Put("/workflows/:id/schedule", handlers.PutSchedule)
	v1.Delete("/workflows/:id/schedule", handlers.DeleteSchedule)
	v1.Get("/workflows/:id/schedule", handlers.GetSchedule)
	v1.Get("/schedules", handlers.ListSchedules)
	app.Get("/health", handlers.HealthCheck)

	return app, store, executionService
}

func saveTestWorkflow(t *testing.T, store *file.Persistence, id string) {
	t.Helper()

	require.NoError(t, store.WorkflowRepository().Save(context.Background(), &models.Workflow{
		ID:     id,
		Name:   "api test workflow",
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.WorkflowNode{
			{ID: "a", Type: "log", Name: "a", Enabled: true, Config: map[string]any{"message": "hello"}},
		},
	}))
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	require.NoError(t, err)

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, payload
}

func TestCreateExecutionReservesByDefault(t *testing.T) {
	app, store, _ := setupTestApp(t)
	saveTestWorkflow(t, store, "wf-1")

	resp, body := doRequest(t, app, http.MethodPost, "/v1/workflows/wf-1/executions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var record models.Execution
	require.NoError(t, json.Unmarshal(body, &record))
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, models.ExecutionStatusReserved, record.Status)
}

func TestCreateExecutionUnknownWorkflow(t *testing.T) {
	app, _, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodPost, "/v1/workflows/ghost/executions", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "not_found")
}

func TestStartAndCancelLifecycle(t *testing.T) {
	app, store, _ := setupTestApp(t)
	saveTestWorkflow(t, store, "wf-1")

	_, body := doRequest(t, app, http.MethodPost, "/v1/workflows/wf-1/executions", nil)

	var reserved models.Execution
	require.NoError(t, json.Unmarshal(body, &reserved))

	resp, body := doRequest(t, app, http.MethodPost, "/v1/executions/"+reserved.ID+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var started models.Execution
	require.NoError(t, json.Unmarshal(body, &started))
	assert.Equal(t, models.ExecutionStatusRunning, started.Status)

	// Starting twice is a conflict.
	resp, _ = doRequest(t, app, http.MethodPost, "/v1/executions/"+reserved.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Wait for the engine, then cancel must conflict on the terminal record.
	require.Eventually(t, func() bool {
		record, err := store.ExecutionRepository().GetByID(context.Background(), reserved.ID)

		return err == nil && record.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	resp, _ = doRequest(t, app, http.MethodPost, "/v1/executions/"+reserved.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelReservedExecution(t *testing.T) {
	app, store, _ := setupTestApp(t)
	saveTestWorkflow(t, store, "wf-1")

	_, body := doRequest(t, app, http.MethodPost, "/v1/workflows/wf-1/executions", nil)

	var reserved models.Execution
	require.NoError(t, json.Unmarshal(body, &reserved))

	resp, body := doRequest(t, app, http.MethodPost, "/v1/executions/"+reserved.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cancelled models.Execution
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
}

func TestGetExecutionStatusLogsAndExport(t *testing.T) {
	app, store, _ := setupTestApp(t)
	saveTestWorkflow(t, store, "wf-1")

	_, body := doRequest(t, app, http.MethodPost, "/v1/workflows/wf-1/executions", web.CreateExecutionRequest{Start: true})

	var record models.Execution
	require.NoError(t, json.Unmarshal(body, &record))

	require.Eventually(t, func() bool {
		stored, err := store.ExecutionRepository().GetByID(context.Background(), record.ID)

		return err == nil && stored.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	resp, body := doRequest(t, app, http.MethodGet, "/v1/executions/"+record.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var current models.Execution
	require.NoError(t, json.Unmarshal(body, &current))
	assert.Equal(t, models.ExecutionStatusSucceeded, current.Status)

	resp, body = doRequest(t, app, http.MethodGet, "/v1/executions/"+record.ID+"/logs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var logsPayload struct {
		Logs []models.ExecutionLogEntry `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(body, &logsPayload))
	assert.NotEmpty(t, logsPayload.Logs)

	resp, body = doRequest(t, app, http.MethodGet, "/v1/executions/"+record.ID+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), record.ID)

	var export models.ExecutionExport
	require.NoError(t, json.Unmarshal(body, &export))
	assert.Equal(t, record.ID, export.Execution.ID)

	resp, _ = doRequest(t, app, http.MethodGet, "/v1/executions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScheduleEndpoints(t *testing.T) {
	app, store, _ := setupTestApp(t)
	saveTestWorkflow(t, store, "wf-1")

	// Invalid cron is a validation error.
	resp, _ := doRequest(t, app, http.MethodPut, "/v1/workflows/wf-1/schedule", web.ScheduleRequest{CronExpression: "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Missing body field fails struct validation.
	resp, _ = doRequest(t, app, http.MethodPut, "/v1/workflows/wf-1/schedule", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := doRequest(t, app, http.MethodPut, "/v1/workflows/wf-1/schedule", web.ScheduleRequest{CronExpression: "*/5 * * * *"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var schedule models.Schedule
	require.NoError(t, json.Unmarshal(body, &schedule))
	assert.Equal(t, "wf-1", schedule.WorkflowID)

	resp, body = doRequest(t, app, http.MethodGet, "/v1/workflows/wf-1/schedule", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &schedule))
	assert.Equal(t, "*/5 * * * *", schedule.CronExpression)

	resp, body = doRequest(t, app, http.MethodGet, "/v1/schedules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Schedules []models.Schedule `json:"schedules"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Schedules, 1)

	resp, _ = doRequest(t, app, http.MethodDelete, "/v1/workflows/wf-1/schedule", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodGet, "/v1/workflows/wf-1/schedule", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodDelete, "/v1/workflows/wf-1/schedule", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkflowCRUD(t *testing.T) {
	app, _, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodPost, "/v1/workflows/", map[string]any{
		"name": "created via api",
		"nodes": []map[string]any{
			{"id": "a", "type": "log", "name": "a", "enabled": true, "config": map[string]any{"message": "hi"}},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Workflow
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, models.WorkflowStatusDraft, created.Status)

	resp, body = doRequest(t, app, http.MethodGet, "/v1/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Workflow
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, "created via api", fetched.Name)

	resp, body = doRequest(t, app, http.MethodGet, "/v1/workflows/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var all []models.Workflow
	require.NoError(t, json.Unmarshal(body, &all))
	assert.Len(t, all, 1)

	resp, _ = doRequest(t, app, http.MethodDelete, "/v1/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodGet, "/v1/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateWorkflowRejectsShortName(t *testing.T) {
	app, _, _ := setupTestApp(t)

	resp, _ := doRequest(t, app, http.MethodPost, "/v1/workflows/", map[string]any{"name": "ab"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	app, _, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")
}
