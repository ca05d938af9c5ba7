package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tenantbot/backend/internal/chat"
	"github.com/tenantbot/backend/internal/metrics"
	"github.com/tenantbot/backend/pkg/logger"
)

type ChatHandler struct {
	engine *chat.Engine
}

func NewChatHandler(engine *chat.Engine) *ChatHandler {
	return &ChatHandler{
		engine: engine,
	}
}

// maxTopK bounds client-supplied retrieval breadth.
const maxTopK = 20

type chatbotConfig struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

type chatRequest struct {
	TenantID     string        `json:"tenantId"`
	ChatbotID    string        `json:"chatbotId"`
	SessionID    string        `json:"sessionId"`
	Query        string        `json:"query"`
	MaxDocuments int           `json:"maxDocuments"`
	Chatbot      chatbotConfig `json:"chatbotConfig"`
}

func clampTopK(n int) int {
	if n < 0 {
		return 0
	}
	if n > maxTopK {
		return maxTopK
	}
	return n
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req chatRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse chat request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}
	if req.TenantID == "" || req.SessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "tenantId and sessionId are required",
		})
	}

	start := time.Now()

	resp, err := h.engine.Answer(c.Context(), chat.Request{
		TenantID:     req.TenantID,
		ChatbotID:    req.ChatbotID,
		SessionID:    req.SessionID,
		Query:        req.Query,
		MaxDocuments: clampTopK(req.MaxDocuments),
		Chatbot: chat.ChatbotConfig{
			Model:       req.Chatbot.Model,
			Temperature: req.Chatbot.Temperature,
			MaxTokens:   req.Chatbot.MaxTokens,
		},
	})
	if err != nil {
		logger.Error("Failed to answer chat query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}

	metrics.ChatQueryDuration.Observe(time.Since(start).Seconds())
	metrics.ChatQueriesTotal.WithLabelValues(strconv.FormatBool(resp.Grounded)).Inc()
	metrics.RetrievedResultsCount.Observe(float64(len(resp.Citations)))

	citations := make([]fiber.Map, 0, len(resp.Citations))
	for _, cit := range resp.Citations {
		citations = append(citations, fiber.Map{
			"sourceName": cit.SourceName,
			"sourceUrl":  cit.SourceURL,
			"score":      cit.Score,
		})
	}

	return c.JSON(fiber.Map{
		"answer":     resp.Answer,
		"grounded":   resp.Grounded,
		"citations":  citations,
		"latency_ms": time.Since(start).Milliseconds(),
	})
}
