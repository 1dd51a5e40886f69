// Package engine is the execution coordinator: it consumes opportunities
// from the upstream stream, queues them under backpressure, and drives each
// one through the gate pipeline (validation, circuit breaker, risk, quote,
// simulation, dispatch), recording a terminal result for every attempt.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/sonicx222/arbitrage-new-sub003/internal/breaker"
	"github.com/sonicx222/arbitrage-new-sub003/internal/config"
	"github.com/sonicx222/arbitrage-new-sub003/internal/events"
	"github.com/sonicx222/arbitrage-new-sub003/internal/flashloan"
	"github.com/sonicx222/arbitrage-new-sub003/internal/health"
	"github.com/sonicx222/arbitrage-new-sub003/internal/metrics"
	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
	"github.com/sonicx222/arbitrage-new-sub003/internal/queue"
	"github.com/sonicx222/arbitrage-new-sub003/internal/quotes"
	"github.com/sonicx222/arbitrage-new-sub003/internal/rpc"
	"github.com/sonicx222/arbitrage-new-sub003/internal/simulation"
	"github.com/sonicx222/arbitrage-new-sub003/internal/stats"
)

// gasSpikeRatioDefault skips execution when the current gas price exceeds
// this multiple of the chain's rolling baseline.
const gasSpikeRatioDefault = 3

// ProviderSource is the slice of the RPC provider service the pipeline
// needs. *rpc.ProviderService satisfies it.
type ProviderSource interface {
	GetProvider(chain model.Chain) rpc.EthClient
	GetWallet(chain model.Chain) *rpc.Wallet
	NonceFor(ctx context.Context, chain model.Chain, account common.Address) (uint64, error)
}

// LockManager is the per-opportunity execution lock surface.
type LockManager interface {
	Acquire(ctx context.Context, opportunityID string) (acquired, recovered bool, err error)
	Release(ctx context.Context, opportunityID string) error
}

// Simulator is the revert-prediction surface; nil means not configured.
type Simulator interface {
	Simulate(ctx context.Context, req *simulation.Request) (*simulation.Result, error)
}

// ProfitEstimator is the quote surface. *quotes.Manager satisfies it.
type ProfitEstimator interface {
	CalculateExpectedProfitWithBatching(ctx context.Context, opp *model.Opportunity, chain model.Chain) (*quotes.ProfitEstimate, error)
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Queue     *queue.Service
	Breakers  *breaker.Manager
	Registry  *flashloan.Registry
	Providers ProviderSource
	Locks     LockManager
	Quoter    ProfitEstimator
	Simulator Simulator
	Stats     *stats.ExecutionStats
	Publisher *events.Publisher
	Baselines *health.BaselineStore
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Engine owns the worker pool and the consumer loops.
type Engine struct {
	cfg  *config.Config
	deps Deps
	risk *riskGate

	logger       *slog.Logger
	shuttingDown atomic.Bool
	active       atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]string // opportunity id -> stream message id

	cancel context.CancelFunc
	wg     sync.WaitGroup

	consumer *consumer
}

// New wires an engine. Start launches its loops.
func New(cfg *config.Config, deps Deps, client ConsumerClient) (*Engine, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	risk, err := newRiskGate(cfg.Risk)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		risk:    risk,
		logger:  deps.Logger.With("component", "engine"),
		pending: make(map[string]string),
	}
	if client != nil {
		e.consumer = newConsumer(client, cfg.Consumer, e, deps.Logger)
	}
	return e, nil
}

// Start launches the worker pool and the stream consumers.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if e.consumer != nil {
		if err := e.consumer.ensureGroup(runCtx); err != nil {
			cancel()
			return fmt.Errorf("create consumer group: %w", err)
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.consumer.run(runCtx)
		}()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.consumer.runCommands(runCtx)
		}()
	}

	for i := 0; i < e.cfg.Workers(); i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.workerLoop(runCtx)
		}()
	}
	e.logger.Info("engine started", "workers", e.cfg.Workers())
	return nil
}

// Stop initiates shutdown: no new enqueues, consumers cancelled, in-flight
// workers drained, a failover announcement published.
func (e *Engine) Stop() {
	if !e.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	e.deps.Queue.Pause()
	if e.deps.Publisher != nil {
		e.deps.Publisher.Emit(events.StreamSystemFailover, "shutdown", map[string]any{
			"instanceId": e.deps.Publisher.InstanceID(),
			"timestamp":  time.Now().UnixMilli(),
		})
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// Clear discards queued work. Idempotent, safe after a failed Start.
func (e *Engine) Clear() {
	e.deps.Queue.Clear()
	e.pendingMu.Lock()
	e.pending = make(map[string]string)
	e.pendingMu.Unlock()
}

// ActiveExecutions reports workers currently inside the pipeline.
func (e *Engine) ActiveExecutions() int { return int(e.active.Load()) }

// PendingOpportunities reports stream messages consumed but not yet
// acknowledged.
func (e *Engine) PendingOpportunities() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}

// Ingest admits one opportunity from the stream. The message id is
// remembered so the consumer can acknowledge on the terminal decision.
// Returns false when the queue refuses it.
func (e *Engine) Ingest(opp *model.Opportunity, messageID string) bool {
	e.deps.Stats.OpportunitiesReceived.Add(1)
	if m := e.deps.Metrics; m != nil {
		m.OpportunitiesReceived.WithLabelValues(string(opp.SourceChain), string(opp.Kind)).Inc()
	}
	if e.shuttingDown.Load() {
		return false
	}
	if !e.deps.Queue.Enqueue(opp) {
		e.deps.Stats.QueueRejects.Add(1)
		if m := e.deps.Metrics; m != nil {
			m.QueueRejects.Inc()
			m.OpportunitiesRejected.WithLabelValues(string(opp.SourceChain), "queue").Inc()
		}
		return false
	}
	if m := e.deps.Metrics; m != nil {
		m.QueueDepth.Set(float64(e.deps.Queue.Size()))
	}
	if messageID != "" {
		e.pendingMu.Lock()
		e.pending[opp.ID] = messageID
		e.pendingMu.Unlock()
	}
	return true
}

func (e *Engine) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		opp := e.deps.Queue.Dequeue()
		if opp == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		e.execute(ctx, opp)
	}
}

// execute runs one opportunity through the pipeline and records the
// terminal result. It never lets an error escape.
func (e *Engine) execute(ctx context.Context, opp *model.Opportunity) {
	e.active.Add(1)
	defer e.active.Add(-1)

	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout())
	defer cancel()

	start := time.Now()
	result := e.process(attemptCtx, opp)
	result.OpportunityID = opp.ID
	result.Chain = opp.SourceChain
	result.DurationMs = time.Since(start).Milliseconds()
	result.Timestamp = time.Now().UnixMilli()

	e.finish(opp, result)
}

func (e *Engine) finish(opp *model.Opportunity, result *model.ExecutionResult) {
	e.logger.Info("execution finished",
		"opportunityId", opp.ID, "chain", result.Chain,
		"status", result.Status, "reason", result.Reason, "tx", result.TxHash)

	if m := e.deps.Metrics; m != nil {
		m.ExecutionsTotal.WithLabelValues(string(result.Chain), string(result.Status)).Inc()
		m.ExecutionDuration.WithLabelValues(string(result.Chain)).Observe(float64(result.DurationMs) / 1000)
		m.QueueDepth.Set(float64(e.deps.Queue.Size()))
	}
	if e.deps.Publisher != nil {
		e.deps.Publisher.Emit(events.StreamExecutionResults, "execution-result", result)
	}
	e.pendingMu.Lock()
	messageID, ok := e.pending[opp.ID]
	delete(e.pending, opp.ID)
	e.pendingMu.Unlock()
	if ok && e.consumer != nil {
		e.consumer.ack(messageID)
	}
}

func (e *Engine) process(ctx context.Context, opp *model.Opportunity) *model.ExecutionResult {
	st := e.deps.Stats
	st.ExecutionAttempts.Add(1)
	chain := opp.SourceChain

	provider := e.deps.Registry.Provider(chain)
	if provider == nil {
		e.reject(chain, "validation")
		return skipped("no flash-loan provider for chain", "")
	}

	req := buildLoanRequest(opp)
	if err := provider.Validate(req); err != nil {
		st.ValidationErrors.Add(1)
		e.reject(chain, "validation")
		if m := e.deps.Metrics; m != nil {
			code := flashloan.ErrorCode(err)
			if code == "" {
				code = "UNKNOWN"
			}
			m.ValidationErrors.WithLabelValues(string(chain), code).Inc()
		}
		return skipped(err.Error(), string(provider.Protocol()))
	}

	if !e.deps.Breakers.CanExecute(chain) {
		e.reject(chain, "circuit")
		return skipped("circuit breaker open", string(provider.Protocol()))
	}
	// Attempts that end on a later gate never reach RecordSuccess or
	// RecordFailure; the half-open probe slot must come back regardless.
	defer e.deps.Breakers.ReleaseProbe(chain)

	if reason := e.risk.check(opp); reason != "" {
		st.RiskRejections.Add(1)
		e.reject(chain, "risk")
		return skipped(reason, string(provider.Protocol()))
	}

	estimate, err := e.deps.Quoter.CalculateExpectedProfitWithBatching(ctx, opp, chain)
	if err != nil {
		e.reject(chain, "quote")
		return skipped(fmt.Sprintf("quote failed: %v", err), string(provider.Protocol()))
	}
	if estimate.FlashLoanFee != nil && estimate.ExpectedProfit.Cmp(estimate.FlashLoanFee) <= 0 {
		st.SimulationProfitRejections.Add(1)
		e.reject(chain, "unprofitable")
		return skipped("expected profit does not cover flash-loan fee", string(provider.Protocol()))
	}

	acquired, recovered, err := e.deps.Locks.Acquire(ctx, opp.ID)
	if err != nil {
		return skipped(fmt.Sprintf("lock error: %v", err), string(provider.Protocol()))
	}
	if !acquired {
		st.LockConflicts.Add(1)
		if m := e.deps.Metrics; m != nil {
			m.LockConflicts.Inc()
			m.OpportunitiesRejected.WithLabelValues(string(chain), "duplicate").Inc()
		}
		return skipped("duplicate execution suppressed", string(provider.Protocol()))
	}
	if recovered {
		st.LockConflicts.Add(1)
		st.StaleLockRecoveries.Add(1)
		if m := e.deps.Metrics; m != nil {
			m.LockConflicts.Inc()
			m.StaleLockRecoveries.Inc()
		}
	}
	defer func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer releaseCancel()
		if err := e.deps.Locks.Release(releaseCtx, opp.ID); err != nil {
			e.logger.Warn("lock release failed", "opportunityId", opp.ID, "error", err)
		}
	}()

	return e.dispatch(ctx, provider, req, opp)
}

// dispatch owns everything past the lock: simulation, gas checks, signing,
// send. Failures here count against the chain's circuit breaker.
func (e *Engine) dispatch(ctx context.Context, provider flashloan.Provider, req *flashloan.Request, opp *model.Opportunity) *model.ExecutionResult {
	st := e.deps.Stats
	chain := opp.SourceChain
	protocol := string(provider.Protocol())

	wallet := e.deps.Providers.GetWallet(chain)
	if wallet == nil {
		return skipped("no wallet for chain", protocol)
	}
	client := e.deps.Providers.GetProvider(chain)
	if client == nil {
		return skipped("rpc provider disconnected", protocol)
	}

	txReq, err := provider.BuildTransaction(req, wallet.Address())
	if err != nil {
		e.reject(chain, "validation")
		return skipped(fmt.Sprintf("build transaction: %v", err), protocol)
	}

	if verdict := e.simulate(ctx, chain, wallet.Address(), txReq); verdict != "" {
		st.PredictedReverts.Add(1)
		if m := e.deps.Metrics; m != nil {
			m.PredictedReverts.Inc()
		}
		e.deps.Breakers.RecordFailure(chain)
		st.FailedExecutions.Add(1)
		return failed("predicted revert: "+verdict, protocol)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return e.dispatchFailure(ctx, chain, protocol, fmt.Errorf("gas price: %w", err))
	}
	if e.deps.Baselines != nil {
		if spiking := e.gasSpiking(chain, gasPrice); spiking {
			return skipped("gas price spike above baseline", protocol)
		}
		e.deps.Baselines.Record(chain, gasPrice)
		if m := e.deps.Metrics; m != nil {
			if baseline := e.deps.Baselines.Baseline(chain); baseline != nil {
				wei, _ := new(big.Float).SetInt(baseline).Float64()
				m.GasPriceBaseline.WithLabelValues(string(chain)).Set(wei)
			}
		}
	}

	gasLimit, err := provider.EstimateGas(ctx, req, client)
	if err != nil {
		// Only the unsupported provider errors here; it cannot execute.
		return skipped(fmt.Sprintf("gas estimate: %v", err), protocol)
	}

	nonce, err := e.deps.Providers.NonceFor(ctx, chain, wallet.Address())
	if err != nil {
		return e.dispatchFailure(ctx, chain, protocol, fmt.Errorf("nonce: %w", err))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &txReq.To,
		Value:    new(big.Int),
		Data:     txReq.Data,
	})
	signed, err := wallet.SignTx(tx)
	if err != nil {
		return e.dispatchFailure(ctx, chain, protocol, fmt.Errorf("sign: %w", err))
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return e.dispatchFailure(ctx, chain, protocol, fmt.Errorf("send: %w", err))
	}

	st.SuccessfulExecutions.Add(1)
	e.deps.Breakers.RecordSuccess(chain)
	return &model.ExecutionResult{
		Status:   model.StatusSuccess,
		Protocol: protocol,
		TxHash:   signed.Hash().Hex(),
		GasUsed:  gasLimit,
	}
}

// simulate returns a non-empty revert reason when the prediction service
// says the transaction would revert. Simulation errors fail open.
func (e *Engine) simulate(ctx context.Context, chain model.Chain, from common.Address, txReq *flashloan.TxRequest) string {
	st := e.deps.Stats
	if e.deps.Simulator == nil {
		st.SimulationsSkipped.Add(1)
		e.countSimulation(chain, "skipped")
		return ""
	}
	st.SimulationsPerformed.Add(1)
	result, err := e.deps.Simulator.Simulate(ctx, &simulation.Request{
		Chain: chain,
		From:  from.Hex(),
		To:    txReq.To.Hex(),
		Data:  "0x" + common.Bytes2Hex(txReq.Data),
	})
	if err != nil {
		st.SimulationErrors.Add(1)
		e.countSimulation(chain, "error")
		e.logger.Warn("simulation failed, proceeding without prediction", "chain", chain, "error", err)
		return ""
	}
	if result.WillRevert {
		e.countSimulation(chain, "revert")
		if result.RevertReason != "" {
			return result.RevertReason
		}
		return "unknown"
	}
	e.countSimulation(chain, "ok")
	return ""
}

// reject counts a pre-dispatch rejection in the atomic stats and the
// Prometheus mirror.
func (e *Engine) reject(chain model.Chain, reason string) {
	e.deps.Stats.OpportunitiesRejected.Add(1)
	if m := e.deps.Metrics; m != nil {
		m.OpportunitiesRejected.WithLabelValues(string(chain), reason).Inc()
	}
}

func (e *Engine) countSimulation(chain model.Chain, outcome string) {
	if m := e.deps.Metrics; m != nil {
		m.SimulationsTotal.WithLabelValues(string(chain), outcome).Inc()
	}
}

func (e *Engine) gasSpiking(chain model.Chain, current *big.Int) bool {
	baseline := e.deps.Baselines.Baseline(chain)
	if baseline == nil || baseline.Sign() == 0 {
		return false
	}
	ratio := e.cfg.Execution.GasSpikeRatio
	if ratio <= 0 {
		ratio = gasSpikeRatioDefault
	}
	limit := new(big.Int).Mul(baseline, big.NewInt(int64(ratio)))
	return current.Cmp(limit) > 0
}

// dispatchFailure classifies an error past the lock as a timeout or a
// plain failure and charges the chain's breaker either way.
func (e *Engine) dispatchFailure(ctx context.Context, chain model.Chain, protocol string, err error) *model.ExecutionResult {
	st := e.deps.Stats
	e.deps.Breakers.RecordFailure(chain)
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		st.ExecutionTimeouts.Add(1)
		return &model.ExecutionResult{Status: model.StatusTimeout, Protocol: protocol, Reason: err.Error()}
	}
	st.FailedExecutions.Add(1)
	return failed(err.Error(), protocol)
}

// buildLoanRequest maps an opportunity onto a flash-loan request. The
// 2-hop cross-dex form synthesizes its path from the buy/sell routers.
func buildLoanRequest(opp *model.Opportunity) *flashloan.Request {
	path := opp.Path
	if len(path) == 0 && opp.BuyRouter != "" && opp.SellRouter != "" {
		path = []model.SwapStep{
			{Router: opp.BuyRouter, TokenIn: opp.TokenIn, TokenOut: opp.TokenOut},
			{Router: opp.SellRouter, TokenIn: opp.TokenOut, TokenOut: opp.TokenIn},
		}
	}
	return &flashloan.Request{
		Asset:     opp.TokenIn,
		Amount:    opp.AmountIn.Big(),
		Chain:     opp.SourceChain,
		SwapPath:  path,
		MinProfit: opp.ExpectedProfit.Big(),
	}
}

func skipped(reason, protocol string) *model.ExecutionResult {
	return &model.ExecutionResult{Status: model.StatusSkipped, Reason: reason, Protocol: protocol}
}

func failed(reason, protocol string) *model.ExecutionResult {
	return &model.ExecutionResult{Status: model.StatusFailed, Reason: reason, Protocol: protocol}
}
