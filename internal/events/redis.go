package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisPublisher appends events to a redis list.
type RedisPublisher struct {
	client *redis.Client
	list   string
}

func NewRedisPublisher(client *redis.Client, list string) *RedisPublisher {
	return &RedisPublisher{client: client, list: list}
}

func (p *RedisPublisher) Publish(ctx context.Context, event LedgerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := p.client.RPush(ctx, p.list, data).Err(); err != nil {
		return fmt.Errorf("push event to %s: %w", p.list, err)
	}
	return nil
}
