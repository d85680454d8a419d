package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dukex/devflow/pkg/approval"
	"github.com/dukex/devflow/pkg/models"
	"github.com/dukex/devflow/pkg/orchestrator"
	"github.com/dukex/devflow/pkg/persistence"
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

// handleEngineError maps engine errors onto problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsRunNotFound(err):
		return notFound(c, "run not found")

	case errors.Is(err, approval.ErrNoPendingGate):
		return conflict(c, err.Error())

	case errors.Is(err, orchestrator.ErrRunBusy):
		return conflict(c, err.Error())

	case errors.Is(err, approval.ErrFeedbackRequired),
		errors.Is(err, approval.ErrPhaseMismatch),
		errors.Is(err, models.ErrPhaseNotInPipeline),
		errors.Is(err, models.ErrInvalidReentry):
		return badRequest(c, err.Error())

	default:
		return internalError(c, err)
	}
}
