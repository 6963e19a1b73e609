package web

import (
	"errors"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

// handleServiceError maps service errors onto problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())
	case errors.Is(err, services.ErrPipelineNotFound):
		return problem(c, fiber.StatusNotFound, "review_not_found", "review pipeline not found")
	case services.IsNotFoundError(err):
		return problem(c, fiber.StatusNotFound, "ledger_not_found", err.Error())
	case services.IsConflictError(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())
	case errors.Is(err, services.ErrManagerStopped):
		return problem(c, fiber.StatusServiceUnavailable, "shutting_down", "review worker is shutting down")
	default:
		p := problems.NewStatusProblem(fiber.StatusInternalServerError).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(p)
	}
}
