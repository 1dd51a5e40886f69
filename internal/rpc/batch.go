package rpc

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// BatchConfig tunes the per-chain call batcher.
type BatchConfig struct {
	Enabled      bool
	MaxBatchSize int
	BatchTimeout time.Duration
	MaxQueueSize int
}

// DefaultBatchConfig mirrors production settings.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Enabled:      false,
		MaxBatchSize: 10,
		BatchTimeout: 50 * time.Millisecond,
		MaxQueueSize: 200,
	}
}

var (
	// ErrBatchQueueFull is returned when the pending-call queue is at
	// MaxQueueSize; callers fall back to a direct call.
	ErrBatchQueueFull = errors.New("batch queue full")
	// ErrBatchShutdown is returned for calls still queued at shutdown.
	ErrBatchShutdown = errors.New("batch provider shut down")
)

type callResult struct {
	data []byte
	err  error
}

type batchCall struct {
	ctx    context.Context
	msg    ethereum.CallMsg
	block  *big.Int
	result chan callResult
}

// BatchProvider coalesces eth_call traffic for one chain: pending calls are
// flushed together once MaxBatchSize accumulate or BatchTimeout passes since
// the first pending call.
type BatchProvider struct {
	chain  model.Chain
	client EthClient
	cfg    BatchConfig
	logger *slog.Logger

	calls chan *batchCall
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewBatchProvider starts the flush worker.
func NewBatchProvider(chain model.Chain, client EthClient, cfg BatchConfig, logger *slog.Logger) *BatchProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultBatchConfig().MaxBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchConfig().BatchTimeout
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultBatchConfig().MaxQueueSize
	}
	bp := &BatchProvider{
		chain:  chain,
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "batch", "chain", chain),
		calls:  make(chan *batchCall, cfg.MaxQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go bp.run()
	return bp
}

// Call queues an eth_call and waits for its batched result.
func (bp *BatchProvider) Call(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	select {
	case <-bp.stop:
		return nil, ErrBatchShutdown
	default:
	}
	call := &batchCall{ctx: ctx, msg: msg, block: block, result: make(chan callResult, 1)}
	select {
	case bp.calls <- call:
	default:
		return nil, ErrBatchQueueFull
	}
	select {
	case res := <-call.result:
		return res.data, res.err
	case <-bp.done:
		// The worker drains the queue on shutdown; pick up the verdict.
		select {
		case res := <-call.result:
			return res.data, res.err
		default:
			return nil, ErrBatchShutdown
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (bp *BatchProvider) run() {
	defer close(bp.done)

	var (
		pending []*batchCall
		timer   *time.Timer
		timeout <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timeout = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		bp.execute(pending)
		pending = nil
	}

	for {
		select {
		case call := <-bp.calls:
			pending = append(pending, call)
			if len(pending) == 1 {
				timer = time.NewTimer(bp.cfg.BatchTimeout)
				timeout = timer.C
			}
			if len(pending) >= bp.cfg.MaxBatchSize {
				flush()
			}
		case <-timeout:
			timer, timeout = nil, nil
			flush()
		case <-bp.stop:
			flush()
			// Fail whatever arrived after the stop signal.
			for {
				select {
				case call := <-bp.calls:
					call.result <- callResult{err: ErrBatchShutdown}
				default:
					return
				}
			}
		}
	}
}

func (bp *BatchProvider) execute(batch []*batchCall) {
	var wg sync.WaitGroup
	for _, call := range batch {
		wg.Add(1)
		go func(c *batchCall) {
			defer wg.Done()
			data, err := bp.client.CallContract(c.ctx, c.msg, c.block)
			c.result <- callResult{data: data, err: err}
		}(call)
	}
	wg.Wait()
}

// Shutdown stops the worker and fails any queued calls. Idempotent.
func (bp *BatchProvider) Shutdown() error {
	bp.once.Do(func() { close(bp.stop) })
	<-bp.done
	return nil
}
