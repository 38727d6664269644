package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/navio-ai/navio/pkg/execution"
	"github.com/navio-ai/navio/pkg/models"
	"github.com/navio-ai/navio/pkg/scheduler"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps execution and scheduling errors onto RFC 7807
// responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case execution.IsValidationError(err), errors.Is(err, models.ErrInvalidCronExpression):
		return badRequest(c, err.Error())

	case execution.IsConflictError(err):
		return conflict(c, err.Error())

	case execution.IsNotFoundError(err):
		return notFound(c, err.Error())

	case errors.Is(err, scheduler.ErrNotScheduled):
		return notFound(c, err.Error())

	default:
		return internalError(c, err)
	}
}
