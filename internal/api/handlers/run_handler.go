package handlers

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tenantbot/backend/internal/storage/models"
	"github.com/tenantbot/backend/pkg/logger"
)

type RunReader interface {
	GetRun(ctx context.Context, runID string) (*models.IngestionRun, error)
}

type RunHandler struct {
	store RunReader
}

func NewRunHandler(store RunReader) *RunHandler {
	return &RunHandler{
		store: store,
	}
}

// GetRun reports a run's status and per-source outcomes.
func (h *RunHandler) GetRun(c *fiber.Ctx) error {
	runID := c.Params("id")
	if runID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Run id is required",
		})
	}

	run, err := h.store.GetRun(c.Context(), runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Run not found",
			})
		}
		logger.Error("Failed to load run", zap.String("run_id", runID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load run",
		})
	}

	outcomes := make([]fiber.Map, 0, len(run.Outcomes))
	for _, o := range run.Outcomes {
		outcomes = append(outcomes, fiber.Map{
			"sourceName": o.SourceName,
			"sourceUrl":  o.SourceURL,
			"succeeded":  o.Succeeded,
			"chunkCount": o.ChunkCount,
			"error":      o.Error,
		})
	}

	resp := fiber.Map{
		"runId":     run.ID,
		"tenantId":  run.TenantID,
		"status":    run.Status,
		"startedAt": run.StartedAt,
		"sources":   outcomes,
	}
	if run.FinishedAt != nil {
		resp["finishedAt"] = run.FinishedAt
	}

	return c.JSON(resp)
}
