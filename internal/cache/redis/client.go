package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/retail-insights/backend/internal/storage/models"
	"github.com/retail-insights/backend/pkg/logger"
)

const (
	deliveryPrefix = "delivery:"
	deliveryTTL    = 7 * 24 * time.Hour
)

// Client stores delivery results under their idempotency keys, backing
// the dispatcher's exactly-once behavior across process restarts.
type Client struct {
	client *redis.Client
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

func (c *Client) Get(ctx context.Context, key string) (*models.DeliveryResult, bool, error) {
	data, err := c.client.Get(ctx, deliveryPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get delivery result: %w", err)
	}

	var result models.DeliveryResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("failed to decode delivery result: %w", err)
	}
	return &result, true, nil
}

func (c *Client) Put(ctx context.Context, key string, result *models.DeliveryResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode delivery result: %w", err)
	}
	if err := c.client.Set(ctx, deliveryPrefix+key, data, deliveryTTL).Err(); err != nil {
		return fmt.Errorf("failed to store delivery result: %w", err)
	}
	return nil
}
