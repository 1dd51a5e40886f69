// Package flashloan abstracts heterogeneous flash-loan protocols behind one
// provider interface: pool-based (aave_v3), vault-based (balancer_v2,
// syncswap, pancakeswap_v3) and EIP-3156 flash-mint (dai_flash_mint,
// morpho). Providers validate requests, compute fees, and build the
// ABI-encoded calldata dispatched by the execution coordinator.
package flashloan

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// Protocol names a flash-loan protocol.
type Protocol string

const (
	ProtocolAaveV3        Protocol = "aave_v3"
	ProtocolBalancerV2    Protocol = "balancer_v2"
	ProtocolSyncSwap      Protocol = "syncswap"
	ProtocolPancakeSwapV3 Protocol = "pancakeswap_v3"
	ProtocolDaiFlashMint  Protocol = "dai_flash_mint"
	ProtocolMorpho        Protocol = "morpho"
	ProtocolUnsupported   Protocol = "unsupported"
)

// SupportStatus classifies how complete a protocol integration is.
type SupportStatus string

const (
	StatusFullySupported SupportStatus = "fully_supported"
	StatusPartialSupport SupportStatus = "partial_support"
	StatusNotImplemented SupportStatus = "not_implemented"
)

// Request is a flash-loan request derived from an opportunity. It is
// validated before any on-chain interaction.
type Request struct {
	Asset       string
	Amount      *big.Int
	Chain       model.Chain
	SwapPath    []model.SwapStep
	MinProfit   *big.Int
	Initiator   string
	PoolAddress string // only for protocols requiring runtime pool selection
}

// FeeInfo is the protocol fee for a given loan amount.
// FeeBps of zero is legal (zero-fee providers).
type FeeInfo struct {
	FeeBps    int64    `json:"feeBps"`
	FeeAmount *big.Int `json:"feeAmount"`
	Protocol  Protocol `json:"protocol"`
}

// Capabilities describes what a provider supports on its chain.
type Capabilities struct {
	SupportsMultiHop   bool          `json:"supportsMultiHop"`
	SupportsMultiAsset bool          `json:"supportsMultiAsset"`
	MaxLoanAmount      *big.Int      `json:"maxLoanAmount"`
	SupportedTokens    []string      `json:"supportedTokens"`
	Status             SupportStatus `json:"status"`
}

// TxRequest is the transaction skeleton handed to the wallet for signing.
// To is either the wrapper contract or the pool/vault, per protocol.
type TxRequest struct {
	To   common.Address
	From common.Address
	Data []byte
}

// GasEstimator is the RPC slice needed for live gas estimation.
// *ethclient.Client satisfies it.
type GasEstimator interface {
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
}

// ContractCaller is the RPC slice needed for read-only contract calls
// (PancakeSwap pool discovery). *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Provider is the protocol-agnostic flash-loan interface. The registry is
// the only legitimate constructor; one provider exists per chain.
type Provider interface {
	// Protocol identifies the underlying protocol.
	Protocol() Protocol
	// Chain is the chain this provider was constructed for.
	Chain() model.Chain
	// IsAvailable reports whether the configured contract address is
	// nonzero and the chain is in the protocol's allow-list.
	IsAvailable() bool
	// Capabilities describes the protocol's support envelope.
	Capabilities() Capabilities
	// CalculateFee computes amount*feeBps/10_000, truncating toward zero.
	CalculateFee(amount *big.Int) FeeInfo
	// Validate runs the full request validation pipeline; the returned
	// error carries a tagged code (CHAIN_MISMATCH, ZERO_AMOUNT, ...).
	Validate(req *Request) error
	// BuildCalldata returns the ABI-encoded payload. Deterministic for
	// identical inputs up to the embedded deadline.
	BuildCalldata(req *Request) ([]byte, error)
	// BuildTransaction wraps the calldata into a transaction skeleton.
	BuildTransaction(req *Request, from common.Address) (*TxRequest, error)
	// EstimateGas attempts live RPC estimation and falls back to a
	// protocol-specific constant on any RPC error; it never panics. Only
	// the unsupported provider returns a non-nil error.
	EstimateGas(ctx context.Context, req *Request, rpc GasEstimator) (uint64, error)
	// ApprovedRouters returns the configured router list in original case.
	ApprovedRouters() []string
}

// deadlineWindow is embedded into every calldata build: now + 300 s.
const deadlineWindow = 300 * time.Second

// zeroAddress matches an unset or all-zeros contract configuration.
var zeroAddress = common.Address{}

func isZeroHexAddress(s string) bool {
	return !common.IsHexAddress(s) || common.HexToAddress(s) == zeroAddress
}
