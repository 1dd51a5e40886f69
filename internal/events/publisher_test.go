package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingClient struct {
	mu   sync.Mutex
	adds []*redis.XAddArgs
	sets map[string]string
	ttls map[string]time.Duration
}

func newCapturingClient() *capturingClient {
	return &capturingClient{sets: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (c *capturingClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adds = append(c.adds, a)
	return redis.NewStringResult("1-1", nil)
}

func (c *capturingClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[key] = string(value.([]byte))
	c.ttls[key] = expiration
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func TestEmitAppendsCappedJSON(t *testing.T) {
	client := newCapturingClient()
	p := NewPublisher(client, "instance-7", nil)

	p.Emit(StreamExecutionResults, "execution-result", map[string]string{"opportunityId": "opp-1"})
	p.Detach() // waits for the async append

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.adds, 1)
	args := client.adds[0]
	assert.Equal(t, StreamExecutionResults, args.Stream)
	assert.EqualValues(t, 10000, args.MaxLen)
	assert.True(t, args.Approx)
	assert.Equal(t, "execution-result", args.Values.(map[string]interface{})["type"])
	assert.Equal(t, "instance-7", args.Values.(map[string]interface{})["instanceId"])

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(args.Values.(map[string]interface{})["data"].(string)), &decoded))
	assert.Equal(t, "opp-1", decoded["opportunityId"])
}

func TestEmitAfterDetachIsDropped(t *testing.T) {
	client := newCapturingClient()
	p := NewPublisher(client, "instance-7", nil)
	p.Detach()

	p.Emit(StreamHealth, "health", map[string]int{"n": 1})
	p.Detach()

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Empty(t, client.adds)
}

func TestEmitUnmarshalableRecordIsSoft(t *testing.T) {
	client := newCapturingClient()
	p := NewPublisher(client, "instance-7", nil)

	p.Emit(StreamHealth, "health", make(chan int)) // not serializable
	p.Detach()

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Empty(t, client.adds)
}

func TestDetachWaitsForRacingEmits(t *testing.T) {
	client := newCapturingClient()
	p := NewPublisher(client, "instance-7", nil)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Emit(StreamHealth, "health", map[string]int{"n": 1})
		}()
	}
	p.Detach()

	client.mu.Lock()
	settled := len(client.adds)
	client.mu.Unlock()

	// Every Emit racing the detach either appended before Detach returned
	// or was dropped; nothing may land afterwards.
	wg.Wait()
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Len(t, client.adds, settled)
}

func TestSetServiceHealthWritesKeyWithTTL(t *testing.T) {
	client := newCapturingClient()
	p := NewPublisher(client, "instance-7", nil)

	p.SetServiceHealth(context.Background(), "service-health:execution-engine",
		map[string]string{"status": "running"}, 90*time.Second)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.JSONEq(t, `{"status":"running"}`, client.sets["service-health:execution-engine"])
	assert.Equal(t, 90*time.Second, client.ttls["service-health:execution-engine"])
}
