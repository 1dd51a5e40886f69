// Package rpc owns the per-chain JSON-RPC clients and signing wallets,
// watches endpoint health, and replaces clients that stop answering.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/sonicx222/arbitrage-new-sub003/internal/metrics"
	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
	"github.com/sonicx222/arbitrage-new-sub003/internal/stats"
)

const (
	healthCheckInterval = 30 * time.Second
	healthCheckTimeout  = 10 * time.Second
	// reconnectAfterFailures is the consecutive-failure count that triggers
	// a client rebuild.
	reconnectAfterFailures = 3
)

// EthClient is the slice of the go-ethereum client API the engine uses.
// *ethclient.Client satisfies it.
type EthClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Dialer builds a client for an endpoint URL. Injectable for tests; the
// default dials over ethclient.
type Dialer func(ctx context.Context, url string) (EthClient, error)

func defaultDialer(ctx context.Context, url string) (EthClient, error) {
	return ethclient.DialContext(ctx, url)
}

// Endpoint configures one chain's RPC access.
type Endpoint struct {
	URL        string `yaml:"url"`
	ChainID    int64  `yaml:"chain_id"`
	PrivateKey string `yaml:"private_key"`
}

// HealthStatus is the per-chain health record. GetHealthMap hands out
// copies, never the live entry.
type HealthStatus struct {
	Healthy             bool
	ConsecutiveFailures int
	LastCheck           time.Time
}

// NonceManager coordinates account nonces across concurrent senders.
type NonceManager interface {
	NextNonce(ctx context.Context, chain model.Chain, account common.Address) (uint64, error)
}

// ProviderService holds one client and one wallet per configured chain and
// runs the 30 s health loop over them.
type ProviderService struct {
	dialer  Dialer
	stats   *stats.ExecutionStats
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu               sync.RWMutex
	endpoints        map[model.Chain]Endpoint
	providers        map[model.Chain]EthClient
	wallets          map[model.Chain]*Wallet
	health           map[model.Chain]*HealthStatus
	healthyCount     int
	batchProviders   map[model.Chain]*BatchProvider
	batchCfg         BatchConfig
	nonces           NonceManager
	onReconnect      func(model.Chain)
	isCheckingHealth bool

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// NewProviderService dials every configured endpoint and derives its wallet.
// A chain whose endpoint cannot be dialed is kept with an unhealthy entry;
// the health loop will keep retrying it.
func NewProviderService(ctx context.Context, endpoints map[model.Chain]Endpoint, batchCfg BatchConfig, st *stats.ExecutionStats, dialer Dialer, logger *slog.Logger) (*ProviderService, error) {
	if dialer == nil {
		dialer = defaultDialer
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &ProviderService{
		dialer:         dialer,
		stats:          st,
		logger:         logger.With("component", "rpc"),
		endpoints:      endpoints,
		providers:      make(map[model.Chain]EthClient),
		wallets:        make(map[model.Chain]*Wallet),
		health:         make(map[model.Chain]*HealthStatus),
		batchProviders: make(map[model.Chain]*BatchProvider),
		batchCfg:       batchCfg,
	}

	for chain, ep := range endpoints {
		wallet, err := NewWallet(ep.PrivateKey, ep.ChainID)
		if err != nil {
			return nil, fmt.Errorf("wallet for %s: %w", chain, err)
		}
		s.wallets[chain] = wallet

		client, err := dialer(ctx, ep.URL)
		if err != nil {
			s.logger.Error("initial dial failed, deferring to health loop",
				"chain", chain, "error", err)
			s.health[chain] = &HealthStatus{Healthy: false}
			continue
		}
		s.providers[chain] = client
		s.health[chain] = &HealthStatus{Healthy: true, LastCheck: time.Now()}
		s.healthyCount++

		if batchCfg.Enabled {
			s.batchProviders[chain] = NewBatchProvider(chain, client, batchCfg, s.logger)
		}
	}
	return s, nil
}

// GetProvider returns the current client for a chain, or nil when the chain
// is not configured or currently disconnected.
func (s *ProviderService) GetProvider(chain model.Chain) EthClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.providers[chain]
}

// GetWallet returns the signing wallet for a chain.
func (s *ProviderService) GetWallet(chain model.Chain) *Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wallets[chain]
}

// GetHealthMap returns a copy of the per-chain health records.
func (s *ProviderService) GetHealthMap() map[model.Chain]HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Chain]HealthStatus, len(s.health))
	for chain, h := range s.health {
		out[chain] = *h
	}
	return out
}

// GetHealthyCount returns the cached number of healthy chains. O(1); the
// counter is maintained solely by updateProviderHealth.
func (s *ProviderService) GetHealthyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthyCount
}

// OnProviderReconnect registers a callback fired after a client has been
// rebuilt. Called from the health loop goroutine.
func (s *ProviderService) OnProviderReconnect(cb func(model.Chain)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnect = cb
}

// SetMetrics installs the Prometheus mirror for per-chain health gauges.
// Install during wiring, before StartHealthChecks.
func (s *ProviderService) SetMetrics(pm *metrics.Metrics) {
	s.metrics = pm
}

// SetNonceManager installs the nonce coordinator used by transaction senders.
func (s *ProviderService) SetNonceManager(nm NonceManager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces = nm
}

// NonceFor asks the installed nonce manager, falling back to the chain's
// pending nonce when none is installed.
func (s *ProviderService) NonceFor(ctx context.Context, chain model.Chain, account common.Address) (uint64, error) {
	s.mu.RLock()
	nm := s.nonces
	client := s.providers[chain]
	s.mu.RUnlock()

	if nm != nil {
		return nm.NextNonce(ctx, chain, account)
	}
	if client == nil {
		return 0, fmt.Errorf("no provider for chain %s", chain)
	}
	return client.PendingNonceAt(ctx, account)
}

// GetBatchProvider returns the chain's batch provider, nil when batching is
// disabled or the chain is unknown.
func (s *ProviderService) GetBatchProvider(chain model.Chain) *BatchProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batchProviders[chain]
}

// IsBatchingEnabled reports whether batch providers were configured.
func (s *ProviderService) IsBatchingEnabled() bool {
	return s.batchCfg.Enabled
}

// StartHealthChecks launches the periodic health loop. Idempotent.
func (s *ProviderService) StartHealthChecks(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopCancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})

	go func() {
		defer close(s.loopDone)
		ticker := time.NewTicker(healthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.CheckAllProviders(loopCtx)
			}
		}
	}()
}

// StopHealthChecks cancels the loop and waits for it to exit.
func (s *ProviderService) StopHealthChecks() {
	s.mu.Lock()
	cancel := s.loopCancel
	done := s.loopDone
	s.loopCancel = nil
	s.loopDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// CheckAllProviders runs one health cycle across every chain. Overlapping
// cycles are skipped: if a previous cycle is still running the call returns
// immediately.
func (s *ProviderService) CheckAllProviders(ctx context.Context) {
	s.mu.Lock()
	if s.isCheckingHealth {
		s.mu.Unlock()
		s.logger.Debug("health cycle still running, skipping tick")
		return
	}
	s.isCheckingHealth = true
	chains := make([]model.Chain, 0, len(s.endpoints))
	for chain := range s.endpoints {
		chains = append(chains, chain)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isCheckingHealth = false
		s.mu.Unlock()
	}()

	for _, chain := range chains {
		s.checkProvider(ctx, chain)
	}
}

func (s *ProviderService) checkProvider(ctx context.Context, chain model.Chain) {
	s.mu.RLock()
	client := s.providers[chain]
	s.mu.RUnlock()

	healthy := false
	if client != nil {
		callCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		_, err := client.BlockNumber(callCtx)
		cancel()
		healthy = err == nil
		if err != nil {
			s.logger.Warn("health check failed", "chain", chain, "error", err)
		}
	}

	failures := s.updateProviderHealth(chain, healthy)
	if !healthy {
		if s.stats != nil {
			s.stats.ProviderHealthCheckFailures.Add(1)
		}
		if s.metrics != nil {
			s.metrics.ProviderCheckFailures.WithLabelValues(string(chain)).Inc()
		}
		if failures >= reconnectAfterFailures {
			s.attemptProviderReconnection(ctx, chain)
		}
	}
}

// updateProviderHealth is the single mutator of the health map and the
// cached healthy count. Returns the consecutive-failure count after the
// update.
func (s *ProviderService) updateProviderHealth(chain model.Chain, healthy bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.health[chain]
	if !ok {
		h = &HealthStatus{}
		s.health[chain] = h
	}
	wasHealthy := h.Healthy
	h.LastCheck = time.Now()
	if healthy {
		h.Healthy = true
		h.ConsecutiveFailures = 0
		if !wasHealthy {
			s.healthyCount++
		}
		s.mirrorHealth(chain, true)
		return 0
	}
	h.Healthy = false
	h.ConsecutiveFailures++
	if wasHealthy {
		s.healthyCount--
	}
	s.mirrorHealth(chain, false)
	return h.ConsecutiveFailures
}

func (s *ProviderService) mirrorHealth(chain model.Chain, healthy bool) {
	if s.metrics == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	s.metrics.ProviderHealthy.WithLabelValues(string(chain)).Set(v)
}

func (s *ProviderService) attemptProviderReconnection(ctx context.Context, chain model.Chain) {
	s.mu.RLock()
	ep := s.endpoints[chain]
	s.mu.RUnlock()

	client, err := s.dialer(ctx, ep.URL)
	if err != nil {
		s.logger.Error("reconnection attempt failed", "chain", chain, "error", err)
		return
	}

	s.mu.Lock()
	s.providers[chain] = client
	if old := s.batchProviders[chain]; old != nil {
		if err := old.Shutdown(); err != nil {
			s.logger.Warn("batch provider shutdown during reconnect", "chain", chain, "error", err)
		}
		s.batchProviders[chain] = NewBatchProvider(chain, client, s.batchCfg, s.logger)
	}
	cb := s.onReconnect
	s.mu.Unlock()

	// The health map has exactly one mutator; the fresh client counts as a
	// healthy observation until the next check says otherwise.
	s.updateProviderHealth(chain, true)

	if s.stats != nil {
		s.stats.ProviderReconnections.Add(1)
	}
	if s.metrics != nil {
		s.metrics.ProviderReconnections.WithLabelValues(string(chain)).Inc()
	}
	s.logger.Info("provider reconnected", "chain", chain)
	if cb != nil {
		cb(chain)
	}
}

// Clear stops the health loop and shuts batch providers down. Shutdown
// errors are logged, never propagated. Idempotent.
func (s *ProviderService) Clear() {
	s.StopHealthChecks()

	s.mu.Lock()
	batch := s.batchProviders
	s.batchProviders = make(map[model.Chain]*BatchProvider)
	s.mu.Unlock()

	for chain, bp := range batch {
		if err := bp.Shutdown(); err != nil {
			s.logger.Warn("batch provider shutdown failed", "chain", chain, "error", err)
		}
	}
}
