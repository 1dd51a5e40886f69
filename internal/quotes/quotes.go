// Package quotes estimates the expected profit of an opportunity before
// execution. When the batched quoter is enabled a whole swap path is
// simulated in one call; any failure falls back to the sequential on-chain
// calculator.
package quotes

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// QuoteRequest is one hop of a batched path simulation. AmountIn is set on
// the first hop only; later hops feed from the previous hop's output
// on-chain.
type QuoteRequest struct {
	Router   string
	TokenIn  string
	TokenOut string
	AmountIn *big.Int
}

// PathResult is the batched quoter's answer for a full path.
type PathResult struct {
	AllSuccess     bool
	ExpectedProfit *big.Int
}

// BatchQuoter simulates a whole arbitrage path in one shot.
type BatchQuoter interface {
	SimulateArbitragePath(ctx context.Context, requests []QuoteRequest, inputAmount *big.Int, blockNumber uint64) (*PathResult, error)
}

// ProfitEstimate is what the execution pipeline consumes.
type ProfitEstimate struct {
	ExpectedProfit *big.Int
	FlashLoanFee   *big.Int
}

// SequentialFunc is the hop-by-hop fallback calculator.
type SequentialFunc func(ctx context.Context, opp *model.Opportunity, chain model.Chain) (*ProfitEstimate, error)

// FeeFunc computes the flash-loan fee for borrowing amount on chain.
type FeeFunc func(chain model.Chain, amount *big.Int) *big.Int

// BlockNumberFunc supplies the block to pin a batched simulation to.
type BlockNumberFunc func(ctx context.Context, chain model.Chain) (uint64, error)

// RouterLookupFunc resolves the router address for a path step; it returns
// an error for steps whose router cannot be determined.
type RouterLookupFunc func(step model.SwapStep) (string, error)

// Manager routes profit estimation through the batched quoter when the
// feature flag allows and a quoter exists for the chain.
type Manager struct {
	flagEnabled  func() bool
	quoters      map[model.Chain]BatchQuoter
	sequential   SequentialFunc
	fee          FeeFunc
	blockNumber  BlockNumberFunc
	lookupRouter RouterLookupFunc
	logger       *slog.Logger
}

// NewManager wires a quote manager. flagEnabled reads the useBatchedQuoter
// feature flag; sequential and fee must be non-nil. lookupRouter may be nil,
// in which case each step's own router field is used.
func NewManager(flagEnabled func() bool, quoters map[model.Chain]BatchQuoter, sequential SequentialFunc, fee FeeFunc, blockNumber BlockNumberFunc, lookupRouter RouterLookupFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if lookupRouter == nil {
		lookupRouter = func(step model.SwapStep) (string, error) {
			if step.Router == "" {
				return "", fmt.Errorf("step %s->%s has no router", step.TokenIn, step.TokenOut)
			}
			return step.Router, nil
		}
	}
	return &Manager{
		flagEnabled:  flagEnabled,
		quoters:      quoters,
		sequential:   sequential,
		fee:          fee,
		blockNumber:  blockNumber,
		lookupRouter: lookupRouter,
		logger:       logger.With("component", "quotes"),
	}
}

// CalculateExpectedProfitWithBatching returns the expected profit and
// flash-loan fee for an opportunity. Batching is used when the feature flag
// is on and a quoter exists for the chain; every batched failure mode
// delegates to the sequential calculator.
func (m *Manager) CalculateExpectedProfitWithBatching(ctx context.Context, opp *model.Opportunity, chain model.Chain) (*ProfitEstimate, error) {
	quoter := m.quoters[chain]
	if !m.flagEnabled() || quoter == nil {
		return m.sequential(ctx, opp, chain)
	}

	estimate, err := m.calculateBatched(ctx, quoter, opp, chain)
	if err != nil {
		m.logger.Warn("BatchQuoter error, using fallback", "opportunityId", opp.ID, "error", err)
		return m.sequential(ctx, opp, chain)
	}
	if estimate == nil {
		m.logger.Warn("Batched simulation failed, using fallback", "opportunityId", opp.ID)
		return m.sequential(ctx, opp, chain)
	}
	return estimate, nil
}

// calculateBatched returns (nil, nil) when the quoter answered but reported
// allSuccess=false.
func (m *Manager) calculateBatched(ctx context.Context, quoter BatchQuoter, opp *model.Opportunity, chain model.Chain) (*ProfitEstimate, error) {
	requests, err := m.buildQuoteRequests(opp)
	if err != nil {
		return nil, err
	}

	var blockNumber uint64
	if m.blockNumber != nil {
		blockNumber, err = m.blockNumber(ctx, chain)
		if err != nil {
			return nil, fmt.Errorf("block number: %w", err)
		}
	}

	amount := opp.AmountIn.Big()
	result, err := quoter.SimulateArbitragePath(ctx, requests, amount, blockNumber)
	if err != nil {
		return nil, err
	}
	if !result.AllSuccess {
		return nil, nil
	}
	return &ProfitEstimate{
		ExpectedProfit: result.ExpectedProfit,
		FlashLoanFee:   m.fee(chain, amount),
	}, nil
}

func (m *Manager) buildQuoteRequests(opp *model.Opportunity) ([]QuoteRequest, error) {
	amount := opp.AmountIn.Big()

	if len(opp.Path) > 0 {
		requests := make([]QuoteRequest, 0, len(opp.Path))
		for i, step := range opp.Path {
			router, err := m.lookupRouter(step)
			if err != nil {
				return nil, fmt.Errorf("hop %d: %w", i, err)
			}
			req := QuoteRequest{
				Router:   router,
				TokenIn:  step.TokenIn,
				TokenOut: step.TokenOut,
				AmountIn: big.NewInt(0),
			}
			if i == 0 {
				req.AmountIn = amount
			}
			requests = append(requests, req)
		}
		return requests, nil
	}

	if opp.BuyRouter == "" || opp.SellRouter == "" {
		return nil, fmt.Errorf("opportunity %s has neither a path nor buy/sell routers", opp.ID)
	}
	return []QuoteRequest{
		{Router: opp.BuyRouter, TokenIn: opp.TokenIn, TokenOut: opp.TokenOut, AmountIn: amount},
		{Router: opp.SellRouter, TokenIn: opp.TokenOut, TokenOut: opp.TokenIn, AmountIn: big.NewInt(0)},
	}, nil
}
