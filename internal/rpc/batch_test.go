package rpc

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// countingCallClient records how CallContract invocations cluster in time.
type countingCallClient struct {
	fakeEthClient
	mu    sync.Mutex
	times []time.Time
}

func (c *countingCallClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	c.mu.Lock()
	c.times = append(c.times, time.Now())
	c.mu.Unlock()
	return []byte{0x2a}, nil
}

func TestBatchFlushesWhenFull(t *testing.T) {
	client := &countingCallClient{}
	bp := NewBatchProvider(model.ChainEthereum, client, BatchConfig{
		Enabled:      true,
		MaxBatchSize: 3,
		BatchTimeout: time.Hour, // only the size trigger can fire
		MaxQueueSize: 10,
	}, nil)
	defer bp.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := bp.Call(context.Background(), ethereum.CallMsg{}, nil)
			assert.NoError(t, err)
			assert.Equal(t, []byte{0x2a}, data)
		}()
	}
	wg.Wait()

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Len(t, client.times, 3)
}

func TestBatchFlushesOnTimeout(t *testing.T) {
	client := &countingCallClient{}
	bp := NewBatchProvider(model.ChainEthereum, client, BatchConfig{
		Enabled:      true,
		MaxBatchSize: 100,
		BatchTimeout: 10 * time.Millisecond,
		MaxQueueSize: 10,
	}, nil)
	defer bp.Shutdown()

	start := time.Now()
	data, err := bp.Call(context.Background(), ethereum.CallMsg{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2a}, data)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestBatchQueueFull(t *testing.T) {
	client := &fakeEthClient{}
	// Saturate a 1-deep queue with a worker that never flushes: batch size
	// and timeout are both unreachable within the test.
	bp := NewBatchProvider(model.ChainEthereum, client, BatchConfig{
		Enabled:      true,
		MaxBatchSize: 100,
		BatchTimeout: time.Hour,
		MaxQueueSize: 1,
	}, nil)
	defer bp.Shutdown()

	// First call parks in the pending batch, second sits in the queue,
	// third finds the queue full.
	go bp.Call(context.Background(), ethereum.CallMsg{}, nil) //nolint:errcheck
	require.Eventually(t, func() bool {
		return len(bp.calls) == 0
	}, time.Second, time.Millisecond)

	go bp.Call(context.Background(), ethereum.CallMsg{}, nil) //nolint:errcheck
	require.Eventually(t, func() bool {
		return len(bp.calls) == 1
	}, time.Second, time.Millisecond)

	_, err := bp.Call(context.Background(), ethereum.CallMsg{}, nil)
	assert.ErrorIs(t, err, ErrBatchQueueFull)
}

func TestBatchShutdownFlushesPendingAndIsIdempotent(t *testing.T) {
	client := &countingCallClient{}
	bp := NewBatchProvider(model.ChainEthereum, client, BatchConfig{
		Enabled:      true,
		MaxBatchSize: 100,
		BatchTimeout: time.Hour,
		MaxQueueSize: 10,
	}, nil)

	results := make(chan error, 1)
	go func() {
		_, err := bp.Call(context.Background(), ethereum.CallMsg{}, nil)
		results <- err
	}()
	// Wait for the call to reach the worker's pending batch.
	require.Eventually(t, func() bool {
		return len(bp.calls) == 0
	}, time.Second, time.Millisecond)

	require.NoError(t, bp.Shutdown())
	assert.NoError(t, <-results, "pending call is flushed, not dropped")
	require.NoError(t, bp.Shutdown())

	_, err := bp.Call(context.Background(), ethereum.CallMsg{}, nil)
	assert.ErrorIs(t, err, ErrBatchShutdown)
}
