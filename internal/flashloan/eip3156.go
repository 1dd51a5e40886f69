package flashloan

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// DAIMainnetAddress is the canonical DAI token on Ethereum mainnet.
const DAIMainnetAddress = "0x6B175474E89094C44Da98b954EedeAC495271d0F"

// daiFlashMintProvider targets MakerDAO's DssFlash directly: the
// transaction goes to the flash pool, not a wrapper. Calldata is EIP-3156
// flashLoan(receiver, token, amount, data) with the arbitrage path encoded
// into data for the receiver callback.
type daiFlashMintProvider struct {
	baseProvider
	receiver common.Address // our flash-loan receiver contract
}

func newDaiFlashMintProvider(chain model.Chain, pool, receiver string, approvedRouters []string,
	clock func() time.Time, logger *slog.Logger) *daiFlashMintProvider {
	return &daiFlashMintProvider{
		baseProvider: newBaseProvider(ProtocolDaiFlashMint, chain, feeBpsDai, pool, daiChains,
			approvedRouters, fallbackGasDai, clock, logger),
		receiver: common.HexToAddress(receiver),
	}
}

func (p *daiFlashMintProvider) Capabilities() Capabilities {
	return Capabilities{
		SupportsMultiHop:   true,
		SupportsMultiAsset: false,
		MaxLoanAmount:      daiMaxFlashMint,
		SupportedTokens:    []string{DAIMainnetAddress},
		Status:             StatusFullySupported,
	}
}

// Validate prepends the flash-mint constraints: the asset must be DAI and
// the chain must be Ethereum. Then the shared pipeline runs.
func (p *daiFlashMintProvider) Validate(req *Request) error {
	if !model.AddressesEqual(req.Asset, DAIMainnetAddress) {
		return validationErrorf(CodeAssetNotDai, "flash mint only lends DAI, got %s", req.Asset)
	}
	if req.Chain != model.ChainEthereum {
		return validationErrorf(CodeChainNotSupported, "dai_flash_mint is ethereum-only, got %s", req.Chain)
	}
	return p.validateShared(req)
}

func (p *daiFlashMintProvider) BuildCalldata(req *Request) ([]byte, error) {
	inner, err := packInnerData(req, p.deadline())
	if err != nil {
		return nil, err
	}
	return packDssFlashLoan(p.receiver, req, inner)
}

func (p *daiFlashMintProvider) BuildTransaction(req *Request, from common.Address) (*TxRequest, error) {
	data, err := p.BuildCalldata(req)
	if err != nil {
		return nil, err
	}
	// Direct protocol: the transaction targets the DssFlash pool.
	return &TxRequest{To: p.contract, From: from, Data: data}, nil
}

func (p *daiFlashMintProvider) EstimateGas(ctx context.Context, req *Request, rpc GasEstimator) (uint64, error) {
	tx, err := p.BuildTransaction(req, common.HexToAddress(req.Initiator))
	if err != nil {
		return p.fallbackGas, nil
	}
	return p.estimateGasOrFallback(ctx, tx, rpc), nil
}

// morphoProvider targets Morpho Blue directly with its zero-fee
// flashLoan(token, assets, data), sharing the EIP-3156 inner encoding.
type morphoProvider struct {
	baseProvider
}

func newMorphoProvider(chain model.Chain, pool string, approvedRouters []string,
	clock func() time.Time, logger *slog.Logger) *morphoProvider {
	return &morphoProvider{
		baseProvider: newBaseProvider(ProtocolMorpho, chain, feeBpsMorpho, pool, morphoChains,
			approvedRouters, fallbackGasMorpho, clock, logger),
	}
}

func (p *morphoProvider) Capabilities() Capabilities {
	return Capabilities{
		SupportsMultiHop:   true,
		SupportsMultiAsset: true,
		Status:             StatusFullySupported,
	}
}

// Validate prepends the Morpho chain constraint, then runs the shared
// pipeline.
func (p *morphoProvider) Validate(req *Request) error {
	if req.Chain != model.ChainEthereum && req.Chain != model.ChainBase {
		return validationErrorf(CodeChainNotSupported, "morpho supports ethereum and base, got %s", req.Chain)
	}
	return p.validateShared(req)
}

func (p *morphoProvider) BuildCalldata(req *Request) ([]byte, error) {
	inner, err := packInnerData(req, p.deadline())
	if err != nil {
		return nil, err
	}
	return packMorphoFlashLoan(req, inner)
}

func (p *morphoProvider) BuildTransaction(req *Request, from common.Address) (*TxRequest, error) {
	data, err := p.BuildCalldata(req)
	if err != nil {
		return nil, err
	}
	return &TxRequest{To: p.contract, From: from, Data: data}, nil
}

func (p *morphoProvider) EstimateGas(ctx context.Context, req *Request, rpc GasEstimator) (uint64, error) {
	tx, err := p.BuildTransaction(req, common.HexToAddress(req.Initiator))
	if err != nil {
		return p.fallbackGas, nil
	}
	return p.estimateGasOrFallback(ctx, tx, rpc), nil
}
