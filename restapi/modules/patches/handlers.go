// Package patches implements the REST API handlers for patch ingestion.
package patches

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/patchgraph/database"
	"github.com/ortelius/patchgraph/internal/ingest"
	"github.com/ortelius/patchgraph/model"
	"go.uber.org/zap"
)

// ErrorResponse is the body returned for a rejected or failed ingestion.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
}

// PostPatch ingests one enriched record. Responds 201 with the insert result,
// 400 when the record is invalid or yields a malformed key, 500 when a store
// write fails.
func PostPatch(inserter ingest.Inserter, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var rec model.EnrichedRecord
		if err := c.BodyParser(&rec); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Code:    string(database.ErrCodeInvalidRecord),
				Message: "Invalid request body: " + err.Error(),
			})
		}

		result, err := inserter.InsertPatch(c.UserContext(), rec)
		if err != nil {
			return writeError(c, err, logger)
		}

		return c.Status(fiber.StatusCreated).JSON(result)
	}
}

func writeError(c *fiber.Ctx, err error, logger *zap.Logger) error {
	resp := ErrorResponse{Message: err.Error()}
	status := fiber.StatusInternalServerError

	var gerr *database.GraphError
	if errors.As(err, &gerr) {
		resp.Code = string(gerr.Code)
		resp.Step = gerr.Step
	}

	switch {
	case errors.Is(err, database.ErrInvalidRecord), errors.Is(err, database.ErrMalformedIdentity):
		status = fiber.StatusBadRequest
	default:
		logger.Error("Failed to ingest patch", zap.Error(err))
	}

	return c.Status(status).JSON(resp)
}
