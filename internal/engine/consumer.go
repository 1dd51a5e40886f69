package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sonicx222/arbitrage-new-sub003/internal/config"
	"github.com/sonicx222/arbitrage-new-sub003/internal/events"
	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// ConsumerClient is the slice of go-redis the stream consumer uses.
// *redis.Client satisfies it.
type ConsumerClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
}

const (
	defaultBlock     = 2 * time.Second
	defaultBatchSize = 10
	// pausedPollInterval is how often a paused consumer re-checks the queue.
	pausedPollInterval = 250 * time.Millisecond
)

// consumer reads the opportunity stream into the engine and the
// system-commands stream into the admin handler.
type consumer struct {
	client ConsumerClient
	cfg    config.ConsumerConfig
	engine *Engine
	logger *slog.Logger
	name   string
}

func newConsumer(client ConsumerClient, cfg config.ConsumerConfig, e *Engine, logger *slog.Logger) *consumer {
	if cfg.BlockMs <= 0 {
		cfg.BlockMs = defaultBlock.Milliseconds()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	name := "worker"
	if e.deps.Publisher != nil {
		name = e.deps.Publisher.InstanceID()
	}
	return &consumer{
		client: client,
		cfg:    cfg,
		engine: e,
		logger: logger.With("component", "consumer"),
		name:   name,
	}
}

func (c *consumer) ensureGroup(ctx context.Context) error {
	for _, pair := range [][2]string{
		{c.cfg.Stream, c.cfg.Group},
		{events.StreamSystemCommands, c.cfg.Group + "-admin"},
	} {
		err := c.client.XGroupCreateMkStream(ctx, pair[0], pair[1], "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	return nil
}

func (c *consumer) run(ctx context.Context) {
	for ctx.Err() == nil {
		// Under backpressure, stop pulling from the broker; undelivered
		// messages stay with it.
		if c.engine.deps.Queue.IsPaused() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pausedPollInterval):
			}
			continue
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.name,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.BatchSize,
			Block:    time.Duration(c.cfg.BlockMs) * time.Millisecond,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			c.logger.Error("stream read failed", "stream", c.cfg.Stream, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handleMessage(msg)
			}
		}
	}
}

func (c *consumer) handleMessage(msg redis.XMessage) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		c.logger.Warn("message without data field", "id", msg.ID)
		c.ack(msg.ID)
		return
	}
	var opp model.Opportunity
	if err := json.Unmarshal([]byte(raw), &opp); err != nil || opp.ID == "" {
		c.logger.Warn("malformed opportunity dropped", "id", msg.ID, "error", err)
		c.ack(msg.ID)
		return
	}
	// A refused enqueue leaves the message pending; the stale-pending
	// reclaim re-delivers it later.
	c.engine.Ingest(&opp, msg.ID)
}

// ack acknowledges a terminal decision. Best effort.
func (c *consumer) ack(messageID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, messageID).Err(); err != nil {
		c.logger.Warn("ack failed", "id", messageID, "error", err)
	}
}

// reclaimStale re-delivers messages left pending longer than minIdle,
// typically by a crashed instance. Called from the health monitor's
// stale-pending timer.
func (c *consumer) reclaimStale(ctx context.Context, minIdle time.Duration) {
	messages, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    c.cfg.BatchSize,
	}).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("stale-pending reclaim failed", "error", err)
		}
		return
	}
	for _, msg := range messages {
		c.logger.Info("reclaimed stale pending message", "id", msg.ID)
		c.handleMessage(msg)
	}
}

// runCommands consumes the administrative command stream.
func (c *consumer) runCommands(ctx context.Context) {
	group := c.cfg.Group + "-admin"
	for ctx.Err() == nil {
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: c.name,
			Streams:  []string{events.StreamSystemCommands, ">"},
			Count:    c.cfg.BatchSize,
			Block:    time.Duration(c.cfg.BlockMs) * time.Millisecond,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			c.logger.Error("command read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.engine.handleCommand(msg.Values)
				if err := c.client.XAck(ctx, events.StreamSystemCommands, group, msg.ID).Err(); err != nil {
					c.logger.Warn("command ack failed", "id", msg.ID, "error", err)
				}
			}
		}
	}
}
