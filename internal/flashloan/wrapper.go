package flashloan

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// Fallback gas constants, used whenever live estimation fails. Derived from
// observed mainnet usage of each wrapper path plus headroom.
const (
	fallbackGasAave     = 1_300_000
	fallbackGasBalancer = 1_100_000
	fallbackGasSyncSwap = 1_200_000
	fallbackGasPancake  = 1_400_000
	fallbackGasDai      = 900_000
	fallbackGasMorpho   = 850_000
)

// Protocol fee schedule in basis points.
const (
	feeBpsAave     = 9
	feeBpsBalancer = 0
	feeBpsSyncSwap = 30
	feeBpsDai      = 1
	feeBpsMorpho   = 0
)

var (
	aaveChains     = []model.Chain{model.ChainEthereum, model.ChainArbitrum, model.ChainOptimism, model.ChainPolygon, model.ChainBase}
	balancerChains = []model.Chain{model.ChainEthereum, model.ChainArbitrum, model.ChainOptimism, model.ChainPolygon, model.ChainBase}
	syncSwapChains = []model.Chain{model.ChainZkSync}
	pancakeChains  = []model.Chain{model.ChainBSC, model.ChainEthereum, model.ChainBase}
	daiChains      = []model.Chain{model.ChainEthereum}
	morphoChains   = []model.Chain{model.ChainEthereum, model.ChainBase}
)

// wrapperProvider serves the protocols whose execution goes through our own
// wrapper contract: aave_v3, balancer_v2 and syncswap. They share the
// executeArbitrage(asset, amount, swapPath[], minProfit, deadline) ABI.
type wrapperProvider struct {
	baseProvider
	caps Capabilities
}

func newWrapperProvider(protocol Protocol, chain model.Chain, feeBps int64, contract string,
	allowChains []model.Chain, approvedRouters []string, fallbackGas uint64,
	caps Capabilities, clock func() time.Time, logger *slog.Logger) *wrapperProvider {

	return &wrapperProvider{
		baseProvider: newBaseProvider(protocol, chain, feeBps, contract, allowChains,
			approvedRouters, fallbackGas, clock, logger),
		caps: caps,
	}
}

func newAaveV3Provider(chain model.Chain, contract string, approvedRouters []string,
	clock func() time.Time, logger *slog.Logger) *wrapperProvider {
	return newWrapperProvider(ProtocolAaveV3, chain, feeBpsAave, contract, aaveChains,
		approvedRouters, fallbackGasAave,
		Capabilities{SupportsMultiHop: true, SupportsMultiAsset: true, Status: StatusFullySupported},
		clock, logger)
}

func newBalancerV2Provider(chain model.Chain, contract string, approvedRouters []string,
	clock func() time.Time, logger *slog.Logger) *wrapperProvider {
	return newWrapperProvider(ProtocolBalancerV2, chain, feeBpsBalancer, contract, balancerChains,
		approvedRouters, fallbackGasBalancer,
		Capabilities{SupportsMultiHop: true, SupportsMultiAsset: true, Status: StatusFullySupported},
		clock, logger)
}

func newSyncSwapProvider(chain model.Chain, contract string, approvedRouters []string,
	clock func() time.Time, logger *slog.Logger) *wrapperProvider {
	return newWrapperProvider(ProtocolSyncSwap, chain, feeBpsSyncSwap, contract, syncSwapChains,
		approvedRouters, fallbackGasSyncSwap,
		Capabilities{SupportsMultiHop: true, SupportsMultiAsset: false, Status: StatusFullySupported},
		clock, logger)
}

func (p *wrapperProvider) Capabilities() Capabilities { return p.caps }

func (p *wrapperProvider) Validate(req *Request) error {
	return p.validateShared(req)
}

func (p *wrapperProvider) BuildCalldata(req *Request) ([]byte, error) {
	return packExecuteArbitrage(req, p.deadline())
}

func (p *wrapperProvider) BuildTransaction(req *Request, from common.Address) (*TxRequest, error) {
	data, err := p.BuildCalldata(req)
	if err != nil {
		return nil, err
	}
	return &TxRequest{To: p.contract, From: from, Data: data}, nil
}

func (p *wrapperProvider) EstimateGas(ctx context.Context, req *Request, rpc GasEstimator) (uint64, error) {
	tx, err := p.BuildTransaction(req, common.HexToAddress(req.Initiator))
	if err != nil {
		return p.fallbackGas, nil
	}
	return p.estimateGasOrFallback(ctx, tx, rpc), nil
}

// daiMaxFlashMint is the DssFlash debt ceiling: 500M DAI.
var daiMaxFlashMint = new(big.Int).Mul(big.NewInt(500_000_000), big.NewInt(1e18))
