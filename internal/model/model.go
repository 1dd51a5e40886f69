// Package model holds the wire-level domain types shared by the execution
// core: opportunities as consumed from the upstream stream, swap paths, and
// terminal execution results. Field names are preserved for wire
// compatibility with the upstream detector.
package model

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Chain identifies a blockchain by its canonical short name
// (e.g. "ethereum", "arbitrum", "bsc", "zksync", "base").
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainArbitrum Chain = "arbitrum"
	ChainOptimism Chain = "optimism"
	ChainPolygon  Chain = "polygon"
	ChainBSC      Chain = "bsc"
	ChainBase     Chain = "base"
	ChainZkSync   Chain = "zksync"
)

// OpportunityKind classifies how an opportunity was constructed upstream.
type OpportunityKind string

const (
	KindCrossDex   OpportunityKind = "cross-dex"
	KindTriangular OpportunityKind = "triangular"
	KindNHop       OpportunityKind = "n-hop"
	KindFlashLoan  OpportunityKind = "flash-loan"
)

// BigInt wraps big.Int so that wei amounts round-trip through JSON as
// decimal strings (the upstream detector emits them as strings to avoid
// float truncation).
type BigInt struct {
	big.Int
}

// NewBigInt copies v into a BigInt. A nil v yields zero.
func NewBigInt(v *big.Int) *BigInt {
	b := new(BigInt)
	if v != nil {
		b.Set(v)
	}
	return b
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		b.SetInt64(0)
		return nil
	}
	if _, ok := b.SetString(s, 10); !ok {
		return fmt.Errorf("invalid integer amount %q", s)
	}
	return nil
}

func (b *BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// Big returns the wrapped value as a plain *big.Int. A nil receiver yields
// zero, so callers can pass optional amounts through without guards.
func (b *BigInt) Big() *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return &b.Int
}

// SwapStep is one hop of an arbitrage path.
type SwapStep struct {
	Router   string  `json:"router"`
	TokenIn  string  `json:"tokenIn"`
	TokenOut string  `json:"tokenOut"`
	MinOut   *BigInt `json:"minOut"`
}

// Opportunity is a validated arbitrage candidate consumed from the upstream
// stream. Its ID is the single identity key used for lock suppression; two
// opportunities with the same ID must not both execute.
type Opportunity struct {
	ID                string          `json:"id"`
	Kind              OpportunityKind `json:"type"`
	SourceChain       Chain           `json:"sourceChain"`
	TargetChain       Chain           `json:"targetChain,omitempty"`
	TokenIn           string          `json:"tokenIn"`
	TokenOut          string          `json:"tokenOut"`
	AmountIn          *BigInt         `json:"amountIn"`
	ExpectedProfitPct decimal.Decimal `json:"expectedProfitPct"`
	ExpectedProfit    *BigInt         `json:"expectedProfit"`
	ExpectedProfitUSD decimal.Decimal `json:"expectedProfitUsd"`
	Confidence        float64         `json:"confidence"`
	GasEstimate       *BigInt         `json:"gasEstimate"`
	Timestamp         int64           `json:"timestamp"` // unix millis at discovery
	Path              []SwapStep      `json:"path"`

	// BuyRouter/SellRouter are set for the 2-hop cross-dex form only.
	BuyRouter  string `json:"buyRouter,omitempty"`
	SellRouter string `json:"sellRouter,omitempty"`
}

// Age returns how long ago the opportunity was discovered.
func (o *Opportunity) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(o.Timestamp))
}

// ResultStatus is the terminal classification of one execution attempt.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusSkipped ResultStatus = "skipped"
	StatusFailed  ResultStatus = "failed"
	StatusTimeout ResultStatus = "timeout"
)

// ExecutionResult is the record emitted to the execution-results stream for
// every terminal decision. Workers never propagate errors upward; every
// failure mode collapses into one of these.
type ExecutionResult struct {
	OpportunityID  string          `json:"opportunityId"`
	Chain          Chain           `json:"chain"`
	Protocol       string          `json:"protocol,omitempty"`
	Status         ResultStatus    `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	TxHash         string          `json:"txHash,omitempty"`
	GasUsed        uint64          `json:"gasUsed,omitempty"`
	RealizedProfit *BigInt         `json:"realizedProfit,omitempty"`
	ProfitUSD      decimal.Decimal `json:"profitUsd,omitempty"`
	DurationMs     int64           `json:"durationMs"`
	Timestamp      int64           `json:"timestamp"`
}

// AddressesEqual compares two hex addresses case-insensitively.
func AddressesEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}
