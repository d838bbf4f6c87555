package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/metrics"
)

// RedisSink складывает принятые сообщения в список Redis.
type RedisSink struct {
	client *redis.Client
	key    string
}

var _ domain.Sink = (*RedisSink)(nil)

// NewRedisSink создаёт приёмник по указанному ключу.
func NewRedisSink(client *redis.Client, key string) *RedisSink {
	return &RedisSink{client: client, key: key}
}

// Publish реализует domain.Sink.
func (q *RedisSink) Publish(ctx context.Context, msg domain.AcceptedMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal accepted message: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push accepted message: %w", err)
	}
	return nil
}
