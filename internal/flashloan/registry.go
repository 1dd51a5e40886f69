package flashloan

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// ProviderConfig is one row of the flash-loan provider table, keyed by
// chain in the service configuration.
type ProviderConfig struct {
	Protocol string `yaml:"protocol"`
	// Contract is the wrapper contract for wrapper protocols, or unused
	// for direct protocols.
	Contract string `yaml:"contract"`
	// Pool is the flash pool/vault for direct protocols (DssFlash, Morpho
	// Blue) and optional elsewhere.
	Pool string `yaml:"pool"`
	// Receiver is the EIP-3156 callback contract (dai_flash_mint).
	Receiver string `yaml:"receiver"`
	// Factory and FeeTier configure PancakeSwap V3 pool discovery.
	Factory string `yaml:"factory"`
	FeeTier int64  `yaml:"fee_tier"`
	// FeeBps overrides fee math for unknown protocols so profitability
	// estimation still works.
	FeeBps          int64    `yaml:"fee_bps"`
	ApprovedRouters []string `yaml:"approved_routers"`
}

// Registry lazily constructs and caches at most one provider per chain.
// It is the only legitimate provider constructor.
type Registry struct {
	table  map[model.Chain]ProviderConfig
	caller func(model.Chain) ContractCaller
	clock  func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	cache map[model.Chain]Provider
}

// NewRegistry builds the registry from the configured provider table.
// caller supplies a read-only RPC client per chain for protocols needing
// runtime pool discovery; it may be nil.
func NewRegistry(table map[model.Chain]ProviderConfig, caller func(model.Chain) ContractCaller,
	clock func() time.Time, logger *slog.Logger) *Registry {

	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if caller == nil {
		caller = func(model.Chain) ContractCaller { return nil }
	}
	return &Registry{
		table:  table,
		caller: caller,
		clock:  clock,
		logger: logger.With("component", "flashloan-registry"),
		cache:  make(map[model.Chain]Provider),
	}
}

// Provider returns the cached provider for chain, constructing it on first
// use. It returns nil when the chain has no table entry or a known
// protocol is configured without an executable contract address.
func (r *Registry) Provider(chain model.Chain) Provider {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.cache[chain]; ok {
		return p
	}
	cfg, ok := r.table[chain]
	if !ok {
		return nil
	}
	p := r.construct(chain, cfg)
	if p != nil {
		r.cache[chain] = p
	}
	return p
}

func (r *Registry) construct(chain model.Chain, cfg ProviderConfig) Provider {
	switch Protocol(cfg.Protocol) {
	case ProtocolAaveV3:
		if !r.executable(chain, cfg.Protocol, cfg.Contract) {
			return nil
		}
		return newAaveV3Provider(chain, cfg.Contract, cfg.ApprovedRouters, r.clock, r.logger)
	case ProtocolBalancerV2:
		if !r.executable(chain, cfg.Protocol, cfg.Contract) {
			return nil
		}
		return newBalancerV2Provider(chain, cfg.Contract, cfg.ApprovedRouters, r.clock, r.logger)
	case ProtocolSyncSwap:
		if !r.executable(chain, cfg.Protocol, cfg.Contract) {
			return nil
		}
		return newSyncSwapProvider(chain, cfg.Contract, cfg.ApprovedRouters, r.clock, r.logger)
	case ProtocolPancakeSwapV3:
		if !r.executable(chain, cfg.Protocol, cfg.Contract) {
			return nil
		}
		return newPancakeProvider(chain, cfg.Contract, cfg.Factory, cfg.FeeTier,
			cfg.ApprovedRouters, r.caller(chain), r.clock, r.logger)
	case ProtocolDaiFlashMint:
		// The receiver ends up inside onFlashLoan calldata; a zero or
		// missing one would burn the mint fee on a guaranteed revert.
		if !r.executable(chain, cfg.Protocol, cfg.Pool) || !r.executable(chain, cfg.Protocol, cfg.Receiver) {
			return nil
		}
		return newDaiFlashMintProvider(chain, cfg.Pool, cfg.Receiver, cfg.ApprovedRouters, r.clock, r.logger)
	case ProtocolMorpho:
		if !r.executable(chain, cfg.Protocol, cfg.Pool) {
			return nil
		}
		return newMorphoProvider(chain, cfg.Pool, cfg.ApprovedRouters, r.clock, r.logger)
	default:
		r.logger.Warn("unknown flash loan protocol, execution disabled",
			"chain", chain, "protocol", cfg.Protocol)
		return newUnsupportedProvider(chain, cfg.Protocol, cfg.FeeBps, r.clock, r.logger)
	}
}

// executable verifies the on-chain address a known protocol needs. An
// explicitly all-zeros address is logged at error (deliberate misconfig);
// a missing one at warn (incomplete rollout).
func (r *Registry) executable(chain model.Chain, protocol, addr string) bool {
	if addr == "" {
		r.logger.Warn("flash loan contract address missing", "chain", chain, "protocol", protocol)
		return false
	}
	if isZeroHexAddress(addr) {
		r.logger.Error("flash loan contract address is zero", "chain", chain, "protocol", protocol, "address", addr)
		return false
	}
	return true
}

// SupportStatus reports the protocol-level status for a chain without
// constructing anything heavyweight.
func (r *Registry) SupportStatus(chain model.Chain) SupportStatus {
	p := r.Provider(chain)
	if p == nil {
		return StatusNotImplemented
	}
	return p.Capabilities().Status
}

// FullySupportedChains lists chains whose provider reports full support,
// sorted for stable output.
func (r *Registry) FullySupportedChains() []model.Chain {
	var out []model.Chain
	for chain := range r.table {
		if r.SupportStatus(chain) == StatusFullySupported {
			out = append(out, chain)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SupportSummary maps every configured chain to its protocol and status.
// Read-only, not on the hot path.
func (r *Registry) SupportSummary() map[model.Chain]map[string]string {
	out := make(map[model.Chain]map[string]string, len(r.table))
	for chain, cfg := range r.table {
		out[chain] = map[string]string{
			"protocol": cfg.Protocol,
			"status":   string(r.SupportStatus(chain)),
		}
	}
	return out
}
