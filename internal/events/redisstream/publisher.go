package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	interfaces "github.com/sheikh-saqib/offline-payments-sync/internal/interfaces"
)

const (
	writeTimeout = 5 * time.Second
	maxLen       = 100_000
)

// Publisher appends events to a Redis stream named after the topic. Each
// entry carries the event key and its JSON payload.
type Publisher struct {
	client *redis.Client
}

// NewPublisher connects to addr and verifies the connection.
func NewPublisher(ctx context.Context, addr string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Publisher{client: client}, nil
}

func (p *Publisher) Publish(ctx context.Context, topic, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{"key": key, "payload": data},
	}).Err()
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
