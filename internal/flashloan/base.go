package flashloan

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// bpsDenominator is the basis-point divisor: 1 bps = 1/10_000.
var bpsDenominator = big.NewInt(10_000)

// baseProvider carries the state shared by every concrete provider.
type baseProvider struct {
	protocol    Protocol
	chain       model.Chain
	feeBps      int64
	contract    common.Address // wrapper contract, or pool/vault for direct protocols
	allowChains []model.Chain

	// Router allow-list. routersOrig keeps the configured casing for
	// read-back; routerSet holds the lowercased lookup set. An empty set
	// means "open" unless failClosedOnEmptyRouters is set.
	routersOrig             []string
	routerSet               map[string]struct{}
	failClosedOnEmptyRouter bool

	fallbackGas uint64
	clock       func() time.Time
	logger      *slog.Logger
}

func newBaseProvider(protocol Protocol, chain model.Chain, feeBps int64, contract string,
	allowChains []model.Chain, approvedRouters []string, fallbackGas uint64,
	clock func() time.Time, logger *slog.Logger) baseProvider {

	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]struct{}, len(approvedRouters))
	for _, r := range approvedRouters {
		set[strings.ToLower(r)] = struct{}{}
	}
	return baseProvider{
		protocol:    protocol,
		chain:       chain,
		feeBps:      feeBps,
		contract:    common.HexToAddress(contract),
		allowChains: allowChains,
		routersOrig: append([]string(nil), approvedRouters...),
		routerSet:   set,
		fallbackGas: fallbackGas,
		clock:       clock,
		logger:      logger.With("component", "flashloan", "protocol", string(protocol), "chain", string(chain)),
	}
}

func (b *baseProvider) Protocol() Protocol { return b.protocol }

func (b *baseProvider) Chain() model.Chain { return b.chain }

func (b *baseProvider) ApprovedRouters() []string {
	return append([]string(nil), b.routersOrig...)
}

// IsAvailable requires a nonzero configured contract and a chain inside the
// protocol's allow-list.
func (b *baseProvider) IsAvailable() bool {
	if b.contract == zeroAddress {
		return false
	}
	for _, c := range b.allowChains {
		if c == b.chain {
			return true
		}
	}
	return false
}

// CalculateFee computes amount*feeBps/10_000 with truncation toward zero.
func (b *baseProvider) CalculateFee(amount *big.Int) FeeInfo {
	fee := new(big.Int)
	if amount != nil {
		fee.Mul(amount, big.NewInt(b.feeBps))
		fee.Quo(fee, bpsDenominator)
	}
	return FeeInfo{FeeBps: b.feeBps, FeeAmount: fee, Protocol: b.protocol}
}

// deadline returns the unix-seconds deadline embedded into calldata.
func (b *baseProvider) deadline() *big.Int {
	return big.NewInt(b.clock().Add(deadlineWindow).Unix())
}

// validateShared runs the common pipeline. First failure wins; checks run
// in a fixed order so that multi-defect requests report deterministically.
func (b *baseProvider) validateShared(req *Request) error {
	if req.Chain != b.chain {
		return validationErrorf(CodeChainMismatch, "request chain %s, provider chain %s", req.Chain, b.chain)
	}
	if !common.IsHexAddress(req.Asset) {
		return validationErrorf(CodeInvalidAsset, "asset %q is not a valid address", req.Asset)
	}
	if req.Amount == nil || req.Amount.Sign() == 0 {
		return validationErrorf(CodeZeroAmount, "loan amount must be positive")
	}
	if len(req.SwapPath) == 0 {
		return validationErrorf(CodeEmptyPath, "swap path has no steps")
	}
	for i, step := range req.SwapPath {
		if !common.IsHexAddress(step.Router) {
			return validationErrorf(CodeInvalidRouter, "step %d router %q is not a valid address", i, step.Router)
		}
	}
	if len(b.routerSet) == 0 {
		if b.failClosedOnEmptyRouter {
			return validationErrorf(CodeConfig, "approved router list is empty for %s", b.protocol)
		}
		// Empty set is treated as open: any well-formed router passes.
	} else {
		for i, step := range req.SwapPath {
			if _, ok := b.routerSet[strings.ToLower(step.Router)]; !ok {
				return validationErrorf(CodeUnapprovedRouter, "step %d router %s is not approved", i, step.Router)
			}
		}
	}
	first, last := req.SwapPath[0], req.SwapPath[len(req.SwapPath)-1]
	if !model.AddressesEqual(first.TokenIn, last.TokenOut) {
		return validationErrorf(CodeInvalidCycle, "path does not cycle: starts %s, ends %s", first.TokenIn, last.TokenOut)
	}
	if !model.AddressesEqual(req.Asset, first.TokenIn) {
		return validationErrorf(CodeAssetMismatch, "asset %s does not match first step input %s", req.Asset, first.TokenIn)
	}
	return nil
}

// estimateGasOrFallback runs live estimation against the wallet address and
// falls back to the protocol constant on any error.
func (b *baseProvider) estimateGasOrFallback(ctx context.Context, tx *TxRequest, rpc GasEstimator) uint64 {
	if rpc == nil {
		return b.fallbackGas
	}
	gas, err := rpc.EstimateGas(ctx, ethereum.CallMsg{
		From: tx.From,
		To:   &tx.To,
		Data: tx.Data,
	})
	if err != nil {
		b.logger.Debug("gas estimation failed, using fallback", "fallback", b.fallbackGas, "err", err)
		return b.fallbackGas
	}
	return gas
}
