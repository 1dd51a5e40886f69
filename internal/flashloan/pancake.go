package flashloan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// preferredFeeTiers is the factory lookup order, in hundredths of a bip.
// 0.25% pools carry the deepest liquidity on PancakeSwap, so they go first.
var preferredFeeTiers = []int64{2500, 500, 10000, 100}

// poolCacheTTL bounds how long a discovered pool address is trusted.
const poolCacheTTL = 5 * time.Minute

// poolDiscoveryTimeout bounds the factory RPC round-trips inside a build.
const poolDiscoveryTimeout = 5 * time.Second

type cachedPool struct {
	addr    common.Address
	feeTier int64
	at      time.Time
}

// pancakeProvider executes through the wrapper contract but needs runtime
// pool selection: the V3 pool for (asset, counter-token) is discovered via
// factory.getPool across the preferred fee tiers and cached for five
// minutes. Unlike the other wrapper protocols, an empty approved-router
// list here is a misconfiguration and fails closed.
type pancakeProvider struct {
	baseProvider
	factory common.Address
	feeTier int64 // configured tier used for fee math
	caller  ContractCaller

	cacheMu   sync.Mutex
	poolCache map[string]cachedPool
}

func newPancakeProvider(chain model.Chain, contract, factory string, feeTier int64,
	approvedRouters []string, caller ContractCaller, clock func() time.Time, logger *slog.Logger) *pancakeProvider {

	base := newBaseProvider(ProtocolPancakeSwapV3, chain, feeTier/100, contract, pancakeChains,
		approvedRouters, fallbackGasPancake, clock, logger)
	base.failClosedOnEmptyRouter = true
	return &pancakeProvider{
		baseProvider: base,
		factory:      common.HexToAddress(factory),
		feeTier:      feeTier,
		caller:       caller,
		poolCache:    make(map[string]cachedPool),
	}
}

func (p *pancakeProvider) Capabilities() Capabilities {
	return Capabilities{
		SupportsMultiHop:   true,
		SupportsMultiAsset: false,
		Status:             StatusFullySupported,
	}
}

func (p *pancakeProvider) Validate(req *Request) error {
	return p.validateShared(req)
}

// resolvePool returns the flash pool for the request: the explicit
// PoolAddress when supplied, otherwise a cached or freshly discovered
// factory pool for (tokenIn, tokenOut) of the first hop.
func (p *pancakeProvider) resolvePool(req *Request) (common.Address, error) {
	if req.PoolAddress != "" {
		if !common.IsHexAddress(req.PoolAddress) {
			return common.Address{}, validationErrorf(CodeMissingPool, "pool address %q malformed", req.PoolAddress)
		}
		return common.HexToAddress(req.PoolAddress), nil
	}
	if len(req.SwapPath) == 0 {
		return common.Address{}, validationErrorf(CodeMissingPool, "no swap path to derive pool tokens from")
	}

	tokenA := common.HexToAddress(req.SwapPath[0].TokenIn)
	tokenB := common.HexToAddress(req.SwapPath[0].TokenOut)
	key := poolCacheKey(tokenA, tokenB)

	now := p.clock()
	p.cacheMu.Lock()
	if entry, ok := p.poolCache[key]; ok && now.Sub(entry.at) < poolCacheTTL {
		p.cacheMu.Unlock()
		return entry.addr, nil
	}
	p.cacheMu.Unlock()

	if p.caller == nil {
		return common.Address{}, validationErrorf(CodeMissingPool, "no RPC caller configured for pool discovery")
	}

	ctx, cancel := context.WithTimeout(context.Background(), poolDiscoveryTimeout)
	defer cancel()

	for _, tier := range preferredFeeTiers {
		pool, err := p.lookupPool(ctx, tokenA, tokenB, tier)
		if err != nil {
			p.logger.Debug("factory getPool failed", "tier", tier, "err", err)
			continue
		}
		if pool == zeroAddress {
			continue
		}
		p.cacheMu.Lock()
		p.poolCache[key] = cachedPool{addr: pool, feeTier: tier, at: now}
		p.cacheMu.Unlock()
		return pool, nil
	}
	return common.Address{}, validationErrorf(CodeMissingPool, "no pool found for %s/%s", tokenA.Hex(), tokenB.Hex())
}

func (p *pancakeProvider) lookupPool(ctx context.Context, tokenA, tokenB common.Address, tier int64) (common.Address, error) {
	data, err := packGetPool(tokenA, tokenB, tier)
	if err != nil {
		return common.Address{}, err
	}
	out, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &p.factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, err
	}
	return unpackGetPool(out)
}

func (p *pancakeProvider) BuildCalldata(req *Request) ([]byte, error) {
	pool, err := p.resolvePool(req)
	if err != nil {
		return nil, err
	}
	return packPancakeExecuteArbitrage(pool, req, p.deadline())
}

func (p *pancakeProvider) BuildTransaction(req *Request, from common.Address) (*TxRequest, error) {
	data, err := p.BuildCalldata(req)
	if err != nil {
		return nil, err
	}
	return &TxRequest{To: p.contract, From: from, Data: data}, nil
}

func (p *pancakeProvider) EstimateGas(ctx context.Context, req *Request, rpc GasEstimator) (uint64, error) {
	tx, err := p.BuildTransaction(req, common.HexToAddress(req.Initiator))
	if err != nil {
		return p.fallbackGas, nil
	}
	return p.estimateGasOrFallback(ctx, tx, rpc), nil
}

func poolCacheKey(a, b common.Address) string {
	return fmt.Sprintf("%s/%s", a.Hex(), b.Hex())
}
