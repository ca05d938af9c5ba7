package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tenantbot/backend/pkg/logger"
)

// Notifier is the queue capability: completion notices at run end and
// dead-letter reports for unrecoverable stage errors.
type Notifier interface {
	NotifyCompletion(ctx context.Context, tenantID, runID string, succeeded, failed int) error
	DeadLetter(ctx context.Context, tenantID, stage, sourceName, message string) error
}

// RedisNotifier pushes messages onto per-tenant Redis lists so downstream
// workers can drain them.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

type completionMessage struct {
	RunID     string `json:"run_id"`
	TenantID  string `json:"tenant_id"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Timestamp int64  `json:"timestamp"`
}

type deadLetterMessage struct {
	TenantID   string `json:"tenant_id"`
	Stage      string `json:"stage"`
	SourceName string `json:"source_name"`
	Message    string `json:"message"`
	Timestamp  int64  `json:"timestamp"`
}

func (n *RedisNotifier) NotifyCompletion(ctx context.Context, tenantID, runID string, succeeded, failed int) error {
	payload, err := json.Marshal(completionMessage{
		RunID:     runID,
		TenantID:  tenantID,
		Succeeded: succeeded,
		Failed:    failed,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal completion notice: %w", err)
	}

	if err := n.client.RPush(ctx, "notify:"+tenantID, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue completion notice: %w", err)
	}

	logger.Info("Completion notice enqueued",
		zap.String("tenant_id", tenantID),
		zap.String("run_id", runID),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
	)
	return nil
}

func (n *RedisNotifier) DeadLetter(ctx context.Context, tenantID, stage, sourceName, message string) error {
	payload, err := json.Marshal(deadLetterMessage{
		TenantID:   tenantID,
		Stage:      stage,
		SourceName: sourceName,
		Message:    message,
		Timestamp:  time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	if err := n.client.RPush(ctx, "deadletter:"+tenantID, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue dead letter: %w", err)
	}

	logger.Warn("Stage error dead-lettered",
		zap.String("tenant_id", tenantID),
		zap.String("stage", stage),
		zap.String("source", sourceName),
	)
	return nil
}
