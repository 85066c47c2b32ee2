package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockrecon/internal/stock"
)

// DefaultChannel is the pub/sub channel used for stock notifications.
const DefaultChannel = "stock.events"

// RedisPublisher broadcasts events over Redis pub/sub.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher builds a publisher. An empty channel uses DefaultChannel.
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish implements stock.Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, evt stock.Event) error {
	if p == nil || p.client == nil {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}
