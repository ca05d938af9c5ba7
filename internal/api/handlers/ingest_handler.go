package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tenantbot/backend/internal/metrics"
	"github.com/tenantbot/backend/internal/pipeline"
	"github.com/tenantbot/backend/internal/storage/models"
	"github.com/tenantbot/backend/pkg/logger"
)

type IngestHandler struct {
	orchestrator *pipeline.Orchestrator
}

func NewIngestHandler(orchestrator *pipeline.Orchestrator) *IngestHandler {
	return &IngestHandler{
		orchestrator: orchestrator,
	}
}

type dataSourceRequest struct {
	Type    string            `json:"type"`
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Options map[string]string `json:"options"`
}

type ingestRequest struct {
	TenantID    string              `json:"tenantId"`
	DataSources []dataSourceRequest `json:"dataSources"`
	Config      struct {
		CrawlDepth     int `json:"crawlDepth"`
		MemoryDuration int `json:"memoryDuration"`
		MaxDocuments   int `json:"maxDocuments"`
	} `json:"config"`
}

// StartIngestion validates synchronously and returns the run id while
// the pipeline processes in the background.
func (h *IngestHandler) StartIngestion(c *fiber.Ctx) error {
	var req ingestRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse ingestion request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	sources := make([]models.DataSource, 0, len(req.DataSources))
	for _, ds := range req.DataSources {
		sources = append(sources, models.DataSource{
			Type:    models.SourceType(ds.Type),
			Name:    ds.Name,
			URL:     ds.URL,
			Options: ds.Options,
		})
	}

	runID, err := h.orchestrator.StartAsync(c.Context(), pipeline.Request{
		TenantID: req.TenantID,
		Sources:  sources,
		Config: pipeline.RunConfig{
			CrawlDepth:        req.Config.CrawlDepth,
			MemoryDurationMin: req.Config.MemoryDuration,
			MaxDocuments:      req.Config.MaxDocuments,
		},
	})
	if err != nil {
		if pipeline.IsValidationError(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to start ingestion run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start ingestion run",
		})
	}

	metrics.IngestionRunsTotal.WithLabelValues("started").Inc()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"runId":  runID,
		"status": "running",
	})
}
