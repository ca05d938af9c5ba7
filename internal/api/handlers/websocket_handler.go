package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/tenantbot/backend/internal/chat"
	"github.com/tenantbot/backend/pkg/logger"
)

// WebSocketHandler streams chat answers word by word so embedded
// widgets can render progressively.
type WebSocketHandler struct {
	engine *chat.Engine
}

func NewWebSocketHandler(engine *chat.Engine) *WebSocketHandler {
	return &WebSocketHandler{
		engine: engine,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type         string        `json:"type"`
			TenantID     string        `json:"tenantId"`
			ChatbotID    string        `json:"chatbotId"`
			SessionID    string        `json:"sessionId"`
			Query        string        `json:"query"`
			MaxDocuments int           `json:"maxDocuments"`
			Chatbot      chatbotConfig `json:"chatbotConfig"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "query" {
			continue
		}

		if msg.TenantID == "" || msg.SessionID == "" || msg.Query == "" {
			h.sendError(c, "tenantId, sessionId and query are required")
			continue
		}

		req := chat.Request{
			TenantID:     msg.TenantID,
			ChatbotID:    msg.ChatbotID,
			SessionID:    msg.SessionID,
			Query:        msg.Query,
			MaxDocuments: clampTopK(msg.MaxDocuments),
			Chatbot: chat.ChatbotConfig{
				Model:       msg.Chatbot.Model,
				Temperature: msg.Chatbot.Temperature,
				MaxTokens:   msg.Chatbot.MaxTokens,
			},
		}

		if err := h.streamAnswer(c, req); err != nil {
			logger.Error("Failed to stream chat answer", zap.Error(err))
			h.sendError(c, "Failed to process query")
		}
	}
}

func (h *WebSocketHandler) streamAnswer(c *websocket.Conn, req chat.Request) error {
	h.sendChunk(c, "status", "Thinking...")

	resp, err := h.engine.Answer(context.Background(), req)
	if err != nil {
		return err
	}

	words := splitIntoWords(resp.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}

		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return h.sendComplete(c, resp)
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, resp *chat.Response) error {
	citations := make([]map[string]interface{}, 0, len(resp.Citations))
	for _, cit := range resp.Citations {
		citations = append(citations, map[string]interface{}{
			"sourceName": cit.SourceName,
			"sourceUrl":  cit.SourceURL,
			"score":      cit.Score,
		})
	}

	return c.WriteJSON(map[string]interface{}{
		"type":      "complete",
		"grounded":  resp.Grounded,
		"citations": citations,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if currentWord != "" {
				words = append(words, currentWord)
				currentWord = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord += string(char)
		}
	}

	if currentWord != "" {
		words = append(words, currentWord)
	}

	return words
}
