// Package redis consumes raw security events from a Redis list and decodes
// them into typed events at the queue boundary.
package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"threatlens/pkg/models"
)

// Config configures the event consumer.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

// DecodeError reports a payload that could not be turned into an event. The
// queue itself is healthy; the caller counts the loss and keeps consuming.
type DecodeError struct {
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode event payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Consumer pops security events off a Redis list.
type Consumer struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
}

// NewConsumer creates an event consumer over a Redis list queue.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Consumer{
		client:       client,
		key:          cfg.Key,
		blockTimeout: cfg.BlockTimeout,
	}, nil
}

// Pop pops and decodes one event. A block timeout with nothing queued
// returns (nil, nil); a malformed payload returns *DecodeError.
func (c *Consumer) Pop(ctx context.Context) (*models.Event, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return decodeEvent([]byte(res[1]))
}

func decodeEvent(payload []byte) (*models.Event, error) {
	event, err := models.ParseEvent(payload)
	if err != nil {
		return nil, &DecodeError{Payload: payload, Err: err}
	}
	return event, nil
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}
