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

const defaultMemoryDurationMin = 60

// TenantStore is the slice of the document store the tenant endpoints
// need.
type TenantStore interface {
	UpsertTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
}

type TenantHandler struct {
	store TenantStore
}

func NewTenantHandler(store TenantStore) *TenantHandler {
	return &TenantHandler{
		store: store,
	}
}

type tenantRequest struct {
	Name              string `json:"name"`
	MemoryDurationMin int    `json:"memoryDurationMin"`
}

// UpsertTenant provisions a tenant or updates its mutable config.
func (h *TenantHandler) UpsertTenant(c *fiber.Ctx) error {
	tenantID := c.Params("id")

	var req tenantRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Name is required",
		})
	}
	if req.MemoryDurationMin == 0 {
		req.MemoryDurationMin = defaultMemoryDurationMin
	}
	if req.MemoryDurationMin < 5 || req.MemoryDurationMin > 1440 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "memoryDurationMin must be between 5 and 1440",
		})
	}

	tenant := &models.Tenant{
		ID:                tenantID,
		Name:              req.Name,
		MemoryDurationMin: req.MemoryDurationMin,
	}
	if err := h.store.UpsertTenant(c.Context(), tenant); err != nil {
		logger.Error("Failed to upsert tenant",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save tenant",
		})
	}

	return c.JSON(fiber.Map{
		"id":                tenant.ID,
		"name":              tenant.Name,
		"memoryDurationMin": tenant.MemoryDurationMin,
	})
}

func (h *TenantHandler) GetTenant(c *fiber.Ctx) error {
	tenantID := c.Params("id")

	tenant, err := h.store.GetTenant(c.Context(), tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Tenant not found",
		})
	}
	if err != nil {
		logger.Error("Failed to load tenant",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load tenant",
		})
	}

	return c.JSON(fiber.Map{
		"id":                tenant.ID,
		"name":              tenant.Name,
		"memoryDurationMin": tenant.MemoryDurationMin,
		"createdAt":         tenant.CreatedAt.Unix(),
		"updatedAt":         tenant.UpdatedAt.Unix(),
	})
}
