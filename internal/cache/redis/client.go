package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tenantbot/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

// Turn is one entry in a conversation session's history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Raw exposes the underlying connection for collaborators that share it
// (the notification queue).
func (c *Client) Raw() *redis.Client {
	return c.client
}

func sessionKey(tenantID, chatbotID, sessionID string) string {
	return fmt.Sprintf("session:%s:%s:%s", tenantID, chatbotID, sessionID)
}

// GetTurns returns the session's turns in append order. A missing key is
// a new or expired session and yields an empty history.
func (c *Client) GetTurns(ctx context.Context, tenantID, chatbotID, sessionID string) ([]Turn, error) {
	key := sessionKey(tenantID, chatbotID, sessionID)

	entries, err := c.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	turns := make([]Turn, 0, len(entries))
	for _, entry := range entries {
		var t Turn
		if err := json.Unmarshal([]byte(entry), &t); err != nil {
			logger.Warn("Skipping malformed session turn", zap.String("session", sessionID), zap.Error(err))
			continue
		}
		turns = append(turns, t)
	}

	return turns, nil
}

// AppendTurns appends turns and resets the session TTL in one pipeline,
// so the expiry always reflects the latest activity.
func (c *Client) AppendTurns(ctx context.Context, tenantID, chatbotID, sessionID string, turns []Turn, ttl time.Duration) error {
	if len(turns) == 0 {
		return nil
	}

	key := sessionKey(tenantID, chatbotID, sessionID)

	payloads := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		payloads = append(payloads, data)
	}

	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, payloads...)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append session turns: %w", err)
	}

	logger.Debug("Session turns appended",
		zap.String("session", sessionID),
		zap.Int("turns", len(turns)),
		zap.Duration("ttl", ttl),
	)
	return nil
}

// SetDefaultMemoryDuration records the tenant's session TTL default so
// chat calls without an explicit configuration inherit it.
func (c *Client) SetDefaultMemoryDuration(ctx context.Context, tenantID string, minutes int) error {
	key := fmt.Sprintf("memory:%s", tenantID)
	if err := c.client.Set(ctx, key, minutes, 0).Err(); err != nil {
		return fmt.Errorf("failed to set memory duration: %w", err)
	}
	return nil
}

func (c *Client) GetDefaultMemoryDuration(ctx context.Context, tenantID string) (int, error) {
	key := fmt.Sprintf("memory:%s", tenantID)
	minutes, err := c.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get memory duration: %w", err)
	}
	return minutes, nil
}
