package flashloan

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// Wrapper contract ABI shared by aave_v3, balancer_v2 and syncswap.
const wrapperABIJSON = `[{"type":"function","name":"executeArbitrage","stateMutability":"nonpayable","inputs":[
	{"name":"asset","type":"address"},
	{"name":"amount","type":"uint256"},
	{"name":"swapPath","type":"tuple[]","components":[
		{"name":"router","type":"address"},
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"minOut","type":"uint256"}]},
	{"name":"minProfit","type":"uint256"},
	{"name":"deadline","type":"uint256"}],"outputs":[]}]`

// PancakeSwap wrapper takes the discovered pool as the leading argument.
const pancakeWrapperABIJSON = `[{"type":"function","name":"executeArbitrage","stateMutability":"nonpayable","inputs":[
	{"name":"pool","type":"address"},
	{"name":"asset","type":"address"},
	{"name":"amount","type":"uint256"},
	{"name":"swapPath","type":"tuple[]","components":[
		{"name":"router","type":"address"},
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"minOut","type":"uint256"}]},
	{"name":"minProfit","type":"uint256"},
	{"name":"deadline","type":"uint256"}],"outputs":[]}]`

// EIP-3156 flashLoan on MakerDAO's DssFlash.
const dssFlashABIJSON = `[{"type":"function","name":"flashLoan","stateMutability":"nonpayable","inputs":[
	{"name":"receiver","type":"address"},
	{"name":"token","type":"address"},
	{"name":"amount","type":"uint256"},
	{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]}]`

// Morpho Blue flashLoan.
const morphoABIJSON = `[{"type":"function","name":"flashLoan","stateMutability":"nonpayable","inputs":[
	{"name":"token","type":"address"},
	{"name":"assets","type":"uint256"},
	{"name":"data","type":"bytes"}],"outputs":[]}]`

// PancakeSwap V3 factory pool lookup.
const pancakeFactoryABIJSON = `[{"type":"function","name":"getPool","stateMutability":"view","inputs":[
	{"name":"tokenA","type":"address"},
	{"name":"tokenB","type":"address"},
	{"name":"fee","type":"uint24"}],"outputs":[{"name":"pool","type":"address"}]}]`

var (
	wrapperABI        = mustParseABI(wrapperABIJSON)
	pancakeWrapperABI = mustParseABI(pancakeWrapperABIJSON)
	dssFlashABI       = mustParseABI(dssFlashABIJSON)
	morphoABI         = mustParseABI(morphoABIJSON)
	pancakeFactoryABI = mustParseABI(pancakeFactoryABIJSON)

	// Inner encoding for EIP-3156-style providers:
	// (tuple(address,address,address,uint256)[], uint256, uint256).
	innerArgs = buildInnerArgs()
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("flashloan: bad ABI definition: %v", err))
	}
	return parsed
}

func buildInnerArgs() abi.Arguments {
	pathType, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "router", Type: "address"},
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "minOut", Type: "uint256"},
	})
	if err != nil {
		panic(fmt.Sprintf("flashloan: bad tuple type: %v", err))
	}
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(fmt.Sprintf("flashloan: bad uint256 type: %v", err))
	}
	return abi.Arguments{
		{Name: "swapPath", Type: pathType},
		{Name: "minProfit", Type: uint256Type},
		{Name: "deadline", Type: uint256Type},
	}
}

// abiSwapStep mirrors the tuple(address,address,address,uint256) layout.
type abiSwapStep struct {
	Router   common.Address
	TokenIn  common.Address
	TokenOut common.Address
	MinOut   *big.Int
}

func toABISwapPath(path []model.SwapStep) []abiSwapStep {
	out := make([]abiSwapStep, len(path))
	for i, s := range path {
		minOut := new(big.Int)
		if s.MinOut != nil {
			minOut.Set(&s.MinOut.Int)
		}
		out[i] = abiSwapStep{
			Router:   common.HexToAddress(s.Router),
			TokenIn:  common.HexToAddress(s.TokenIn),
			TokenOut: common.HexToAddress(s.TokenOut),
			MinOut:   minOut,
		}
	}
	return out
}

// packExecuteArbitrage encodes the shared wrapper call.
func packExecuteArbitrage(req *Request, deadline *big.Int) ([]byte, error) {
	return wrapperABI.Pack("executeArbitrage",
		common.HexToAddress(req.Asset),
		req.Amount,
		toABISwapPath(req.SwapPath),
		orZero(req.MinProfit),
		deadline,
	)
}

// packPancakeExecuteArbitrage encodes the pool-leading wrapper call.
func packPancakeExecuteArbitrage(pool common.Address, req *Request, deadline *big.Int) ([]byte, error) {
	return pancakeWrapperABI.Pack("executeArbitrage",
		pool,
		common.HexToAddress(req.Asset),
		req.Amount,
		toABISwapPath(req.SwapPath),
		orZero(req.MinProfit),
		deadline,
	)
}

// packInnerData encodes the EIP-3156 callback payload.
func packInnerData(req *Request, deadline *big.Int) ([]byte, error) {
	return innerArgs.Pack(toABISwapPath(req.SwapPath), orZero(req.MinProfit), deadline)
}

// packDssFlashLoan encodes flashLoan(receiver, token, amount, data).
func packDssFlashLoan(receiver common.Address, req *Request, data []byte) ([]byte, error) {
	return dssFlashABI.Pack("flashLoan", receiver, common.HexToAddress(req.Asset), req.Amount, data)
}

// packMorphoFlashLoan encodes flashLoan(token, assets, data).
func packMorphoFlashLoan(req *Request, data []byte) ([]byte, error) {
	return morphoABI.Pack("flashLoan", common.HexToAddress(req.Asset), req.Amount, data)
}

// packGetPool encodes the factory lookup for one fee tier.
func packGetPool(tokenA, tokenB common.Address, feeTier int64) ([]byte, error) {
	return pancakeFactoryABI.Pack("getPool", tokenA, tokenB, big.NewInt(feeTier))
}

// unpackGetPool decodes the factory lookup result.
func unpackGetPool(output []byte) (common.Address, error) {
	values, err := pancakeFactoryABI.Unpack("getPool", output)
	if err != nil {
		return common.Address{}, err
	}
	pool, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected getPool return %T", values[0])
	}
	return pool, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
