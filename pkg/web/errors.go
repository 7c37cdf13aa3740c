package web

import (
	"errors"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
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

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// failure answers with the acknowledgement envelope for err, choosing the
// status from its taxonomy code.
func failure(c fiber.Ctx, runID, threadID string, err error) error {
	ack := contracts.Failure(runID, threadID, err)

	return c.Status(statusFor(err)).JSON(ack)
}

func statusFor(err error) int {
	switch {
	case contracts.IsValidationError(err):
		return fiber.StatusBadRequest
	case errors.Is(err, persistence.ErrChatMessageNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, contracts.ErrGatewaySendFailed):
		return fiber.StatusBadGateway
	case errors.Is(err, contracts.ErrCheckpointUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
