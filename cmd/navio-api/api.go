// Package main provides the Navio API server: the execution control
// surface plus the scheduler.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/navio-ai/navio/pkg/eventbus"
	"github.com/navio-ai/navio/pkg/execution"
	"github.com/navio-ai/navio/pkg/persistence"
	"github.com/navio-ai/navio/pkg/registry"
	"github.com/navio-ai/navio/pkg/scheduler"
	"github.com/navio-ai/navio/pkg/web"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	validate    *validator.Validate
	tracer      trace.Tracer

	scheduleManager *scheduler.Manager
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		registry:    registry,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// WithTracer attaches an execution tracer, wired when the OTLP
// exporter is enabled.
func (a *API) WithTracer(tracer trace.Tracer) *API {
	a.tracer = tracer

	return a
}

func (a *API) App() *fiber.App {
	engine := execution.NewEngine(a.persistence, a.registry, a.eventBus, a.logger)
	if a.tracer != nil {
		engine = engine.WithTracer(a.tracer)
	}

	executionService := execution.NewService(a.persistence, a.eventBus, engine, a.logger)
	a.scheduleManager = scheduler.NewManager(a.persistence, executionService, a.logger)

	handlers := web.NewAPIHandlers(a.persistence.WorkflowRepository(), executionService, a.scheduleManager, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Navio API")
	})

	v1 := app.Group("/v1")

	w := v1.Group("/workflows")
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/", handlers.ListWorkflows)
	w.Get("/:id", handlers.GetWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/executions", handlers.CreateExecution)
	w.Get("/:id/executions", handlers.ListWorkflowExecutions)
	w.Put("/:id/schedule", handlers.PutSchedule)
	w.Delete("/:id/schedule", handlers.DeleteSchedule)
	w.Get("/:id/schedule", handlers.GetSchedule)

	e := v1.Group("/executions")
	e.Post("/:id/start", handlers.StartExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)
	e.Get("/:id", handlers.GetExecution)
	e.Get("/:id/logs", handlers.GetExecutionLogs)
	e.Get("/:id/export", handlers.ExportExecution)

	v1.Get("/schedules", handlers.ListSchedules)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	if err := a.scheduleManager.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := a.scheduleManager.Stop(ctx); err != nil {
			a.logger.Error("Failed to stop scheduler", "error", err)
		}
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
