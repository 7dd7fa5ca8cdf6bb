package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/flowion/flowion/pkg/persistence"
	"github.com/flowion/flowion/pkg/runner"
	"github.com/flowion/flowion/pkg/services"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func unauthorized(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(401).
		WithInstance(c.Path()).
		WithType("authentication_error").
		WithDetail(detail)

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
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

// handleError maps domain errors onto problem responses.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsConflictError(err):
		return conflict(c, err.Error())

	case runner.IsInputInvalid(err):
		return badRequest(c, err.Error())

	case runner.IsFlowNotPublished(err):
		return conflict(c, err.Error())

	case runner.IsNotWaiting(err):
		return conflict(c, err.Error())

	case persistence.IsFlowNotFound(err):
		return notFound(c, "flow not found")

	case persistence.IsPublishedFlowNotFound(err):
		return notFound(c, "published flow not found")

	case persistence.IsRunNotFound(err):
		return notFound(c, "run not found")

	case persistence.IsNodeNotFound(err):
		return notFound(c, "node not found")

	case persistence.IsEdgeNotFound(err):
		return notFound(c, "edge not found")

	case persistence.IsEntityNotFound(err):
		return notFound(c, "entity not found")

	case persistence.IsWebhookConfigNotFound(err):
		return notFound(c, "webhook config not found")

	default:
		return internalError(c, err)
	}
}
