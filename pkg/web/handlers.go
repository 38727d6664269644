// Package web provides the HTTP handlers for the execution control
// surface: execution lifecycle, logs and export, and workflow schedules.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/navio-ai/navio/pkg/execution"
	"github.com/navio-ai/navio/pkg/models"
	"github.com/navio-ai/navio/pkg/persistence"
	"github.com/navio-ai/navio/pkg/registry"
	"github.com/navio-ai/navio/pkg/scheduler"
)

type APIHandlers struct {
	workflows        persistence.WorkflowRepository
	executionService *execution.Service
	scheduleManager  *scheduler.Manager
	validator        *validator.Validate
	registry         *registry.Registry
}

func NewAPIHandlers(
	workflows persistence.WorkflowRepository,
	executionService *execution.Service,
	scheduleManager *scheduler.Manager,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflows:        workflows,
		executionService: executionService,
		scheduleManager:  scheduleManager,
		validator:        validator,
		registry:         registry,
	}
}

// CreateWorkflow stores a new workflow definition.
func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var workflow models.Workflow
	if err := c.Bind().JSON(&workflow); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	if err := h.validator.Struct(&workflow); err != nil {
		return badRequest(c, err.Error())
	}

	workflow.ID = uuid.New().String()
	workflow.CreatedAt = time.Now().UTC()
	workflow.UpdatedAt = workflow.CreatedAt

	if err := h.workflows.Save(c.Context(), &workflow); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

// GetWorkflow returns a workflow definition by id.
func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflows.GetByID(c.Context(), workflowID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// ListWorkflows returns every stored workflow definition.
func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflows.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflows)
}

// DeleteWorkflow removes a workflow definition. Its executions are kept.
func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if _, err := h.workflows.GetByID(c.Context(), workflowID); err != nil {
		return handleServiceError(c, err)
	}

	if err := h.workflows.Delete(c.Context(), workflowID); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// CreateExecution reserves an execution for the workflow, optionally
// starting it in the same call.
func (h *APIHandlers) CreateExecution(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req CreateExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if req.Start {
		started, err := h.executionService.ReserveAndStart(c.Context(), workflowID)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(started)
	}

	reserved, err := h.executionService.Reserve(c.Context(), workflowID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(reserved)
}

// ListWorkflowExecutions returns the executions of one workflow.
func (h *APIHandlers) ListWorkflowExecutions(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	executions, err := h.executionService.ListByWorkflow(c.Context(), workflowID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	started, err := h.executionService.Start(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(started)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	cancelled, err := h.executionService.Cancel(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(cancelled)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	record, err := h.executionService.Status(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	logs, err := h.executionService.Logs(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"logs": logs})
}

func (h *APIHandlers) ExportExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	export, err := h.executionService.Export(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentDisposition, `attachment; filename="execution-`+id+`.json"`)

	return c.JSON(export)
}

// PutSchedule attaches or replaces the cron cadence of a workflow.
func (h *APIHandlers) PutSchedule(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req ScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	schedule, err := h.scheduleManager.Schedule(c.Context(), workflowID, req.CronExpression)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) DeleteSchedule(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.scheduleManager.Unschedule(c.Context(), workflowID); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetSchedule(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	schedule, err := h.scheduleManager.GetSchedule(c.Context(), workflowID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) ListSchedules(c fiber.Ctx) error {
	schedules, err := h.scheduleManager.ListScheduled(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"schedules": schedules})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()

	status := "healthy"
	message := "Navio API is healthy"
	httpStatus := http.StatusOK

	if !regOk {
		status = "unhealthy"
		message = "Navio API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry": registryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
