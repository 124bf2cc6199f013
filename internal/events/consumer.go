package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/amazon-review-scraper/internal/database"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultGroup        = "scrape-run-consumers"
	DefaultConsumerName = "consumer-1"
	DefaultBlock        = 5 * time.Second
	DefaultReadCount    = 10

	readErrorBackoff = time.Second
)

var ErrMalformedMessage = errors.New("malformed stream message")

// GroupClient is the part of the Redis client a Consumer needs.
type GroupClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// RunHandler receives every completed run read from the stream. A returned
// error leaves the message unacknowledged so it is delivered again.
type RunHandler func(ctx context.Context, event database.RunEvent) error

type ConsumerConfig struct {
	Stream string
	Group  string
	Name   string
	Block  time.Duration
	Count  int64
}

// Consumer reads run events published by the Relay through a consumer group.
type Consumer struct {
	client  GroupClient
	handler RunHandler
	logger  *slog.Logger
	cfg     ConsumerConfig
}

func NewConsumer(client GroupClient, handler RunHandler, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = database.DefaultStream
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.Name == "" {
		cfg.Name = DefaultConsumerName
	}
	if cfg.Block <= 0 {
		cfg.Block = DefaultBlock
	}
	if cfg.Count <= 0 {
		cfg.Count = DefaultReadCount
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		client:  client,
		handler: handler,
		logger:  logger.With("component", "consumer"),
		cfg:     cfg,
	}
}

// EnsureGroup creates the stream and the consumer group when missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Run reads until ctx is cancelled. Read errors are logged and retried.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	c.logger.Info("starting consumer",
		"stream", c.cfg.Stream,
		"group", c.cfg.Group,
		"name", c.cfg.Name)

	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info("consumer stopped")
			return err
		}

		if _, err := c.ReadOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(readErrorBackoff):
			}
		}
	}
}

// ReadOnce blocks for at most the configured block time and returns how many
// messages were acknowledged.
func (c *Consumer) ReadOnce(ctx context.Context) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	acked := 0
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if err := c.handle(ctx, msg); err != nil {
				if !errors.Is(err, ErrMalformedMessage) {
					c.logger.Error("failed to process message", "id", msg.ID, "error", err)
					continue
				}
				// redelivering a message that cannot be decoded never helps
				c.logger.Warn("dropping message", "id", msg.ID, "error", err)
			}

			if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
				c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
				continue
			}
			acked++
		}
	}

	return acked, nil
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	if eventType, _ := msg.Values["event_type"].(string); eventType != database.EventRunCompleted {
		return nil
	}

	event, err := decodeRunEvent(msg)
	if err != nil {
		return err
	}

	c.logger.Debug("processing run event", "id", msg.ID, "run_id", event.RunID)
	return c.handler(ctx, event)
}

func decodeRunEvent(msg redis.XMessage) (database.RunEvent, error) {
	var event database.RunEvent

	data, ok := msg.Values["data"].(string)
	if !ok {
		return event, fmt.Errorf("%w: missing data field", ErrMalformedMessage)
	}

	var envelope streamMessage
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return event, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return event, fmt.Errorf("%w: invalid payload: %v", ErrMalformedMessage, err)
	}
	if event.RunID == "" {
		return event, fmt.Errorf("%w: missing run_id", ErrMalformedMessage)
	}

	return event, nil
}
