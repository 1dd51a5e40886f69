// Package events publishes engine records to the downstream Redis streams.
//
// Publishing is fire-and-forget: failures are logged and never propagated to
// callers, and a nil broker client (engine shutting down) silently drops the
// record. Hot-path callers therefore never block on the broker.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream names produced by the engine.
const (
	StreamExecutionResults = "execution-results"
	StreamCircuitBreaker   = "circuit-breaker"
	StreamHealth           = "health"
	StreamSystemCommands   = "system-commands"
	StreamSystemFailover   = "system-failover"
)

// StreamClient is the slice of go-redis used by the publisher. *redis.Client
// satisfies it; tests substitute a fake.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Publisher serializes records to JSON and appends them to capped streams.
type Publisher struct {
	mu         sync.RWMutex
	client     StreamClient
	instanceID string
	logger     *slog.Logger
	maxLen     map[string]int64
	wg         sync.WaitGroup
}

// Default stream caps. Health is tightly bounded; result streams keep a
// longer tail for downstream processors that fall behind.
var defaultMaxLen = map[string]int64{
	StreamExecutionResults: 10000,
	StreamCircuitBreaker:   1000,
	StreamHealth:           500,
	StreamSystemCommands:   1000,
	StreamSystemFailover:   100,
}

// NewPublisher wraps a broker client. The client may later be detached for
// shutdown via Detach.
func NewPublisher(client StreamClient, instanceID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:     client,
		instanceID: instanceID,
		logger:     logger.With("component", "events"),
		maxLen:     defaultMaxLen,
	}
}

// Client returns the current broker client, or nil during shutdown. Callers
// holding the returned pointer must tolerate concurrent detachment.
func (p *Publisher) Client() StreamClient {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

// InstanceID returns the id stamped onto every published record.
func (p *Publisher) InstanceID() string {
	return p.instanceID
}

// Detach drops the broker client so that in-flight publishes become no-ops.
// It waits for already-spawned publish goroutines to finish.
func (p *Publisher) Detach() {
	p.mu.Lock()
	p.client = nil
	p.mu.Unlock()
	p.wg.Wait()
}

// begin reserves a publish slot while the client is still attached. The
// wg.Add must happen under the same lock as the client read; otherwise
// Detach's Wait can slip between the two and return while an append is
// still about to run.
func (p *Publisher) begin() StreamClient {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil
	}
	p.wg.Add(1)
	return p.client
}

// Emit appends record to stream asynchronously. The record is serialized to
// JSON under the "data" field with the publishing instance and event type
// alongside. Nil clients and marshal or append failures are soft.
func (p *Publisher) Emit(stream, eventType string, record any) {
	payload, err := json.Marshal(record)
	if err != nil {
		p.logger.Error("event marshal failed", "stream", stream, "type", eventType, "err", err)
		return
	}

	client := p.begin()
	if client == nil {
		return
	}
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		args := &redis.XAddArgs{
			Stream: stream,
			MaxLen: p.maxLen[stream],
			Approx: true,
			Values: map[string]interface{}{
				"type":       eventType,
				"instanceId": p.instanceID,
				"data":       string(payload),
			},
		}
		if err := client.XAdd(ctx, args).Err(); err != nil {
			p.logger.Error("stream append failed", "stream", stream, "type", eventType, "err", err)
		}
	}()
}

// SetServiceHealth updates the external service-health key, best effort.
func (p *Publisher) SetServiceHealth(ctx context.Context, key string, record any, ttl time.Duration) {
	client := p.Client()
	if client == nil {
		return
	}
	payload, err := json.Marshal(record)
	if err != nil {
		p.logger.Error("health marshal failed", "key", key, "err", err)
		return
	}
	if err := client.Set(ctx, key, payload, ttl).Err(); err != nil {
		p.logger.Error("health key update failed", "key", key, "err", err)
	}
}
