package quotes

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

const (
	tokenA  = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	tokenB  = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	tokenC  = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	routerX = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
	routerY = "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F"
)

type fakeQuoter struct {
	requests [][]QuoteRequest
	result   *PathResult
	err      error
}

func (f *fakeQuoter) SimulateArbitragePath(_ context.Context, requests []QuoteRequest, _ *big.Int, _ uint64) (*PathResult, error) {
	f.requests = append(f.requests, requests)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func twoHopOpportunity() *model.Opportunity {
	return &model.Opportunity{
		ID:          "opp-1",
		Kind:        model.KindCrossDex,
		SourceChain: model.ChainEthereum,
		TokenIn:     tokenA,
		TokenOut:    tokenB,
		AmountIn:    model.NewBigInt(big.NewInt(1_000_000)),
		BuyRouter:   routerX,
		SellRouter:  routerY,
	}
}

func nHopOpportunity() *model.Opportunity {
	return &model.Opportunity{
		ID:          "opp-2",
		Kind:        model.KindTriangular,
		SourceChain: model.ChainEthereum,
		TokenIn:     tokenA,
		TokenOut:    tokenA,
		AmountIn:    model.NewBigInt(big.NewInt(500)),
		Path: []model.SwapStep{
			{Router: routerX, TokenIn: tokenA, TokenOut: tokenB},
			{Router: routerY, TokenIn: tokenB, TokenOut: tokenC},
			{Router: routerX, TokenIn: tokenC, TokenOut: tokenA},
		},
	}
}

type managerFixture struct {
	manager         *Manager
	quoter          *fakeQuoter
	sequentialCalls int
}

func newFixture(t *testing.T, enabled bool, quoter *fakeQuoter) *managerFixture {
	t.Helper()
	fx := &managerFixture{quoter: quoter}

	quoters := map[model.Chain]BatchQuoter{}
	if quoter != nil {
		quoters[model.ChainEthereum] = quoter
	}
	sequential := func(context.Context, *model.Opportunity, model.Chain) (*ProfitEstimate, error) {
		fx.sequentialCalls++
		return &ProfitEstimate{ExpectedProfit: big.NewInt(111), FlashLoanFee: big.NewInt(1)}, nil
	}
	fee := func(_ model.Chain, amount *big.Int) *big.Int {
		return new(big.Int).Div(amount, big.NewInt(10_000)) // 1 bps
	}
	blockNumber := func(context.Context, model.Chain) (uint64, error) { return 19_000_000, nil }

	fx.manager = NewManager(func() bool { return enabled }, quoters, sequential, fee, blockNumber, nil, nil)
	return fx
}

func TestBatchedPathUsedWhenFlagOn(t *testing.T) {
	quoter := &fakeQuoter{result: &PathResult{AllSuccess: true, ExpectedProfit: big.NewInt(999)}}
	fx := newFixture(t, true, quoter)

	est, err := fx.manager.CalculateExpectedProfitWithBatching(context.Background(), twoHopOpportunity(), model.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, int64(999), est.ExpectedProfit.Int64())
	assert.Equal(t, int64(100), est.FlashLoanFee.Int64()) // 1 bps of 1_000_000
	assert.Zero(t, fx.sequentialCalls)
}

func TestTwoHopRequestShape(t *testing.T) {
	quoter := &fakeQuoter{result: &PathResult{AllSuccess: true, ExpectedProfit: big.NewInt(1)}}
	fx := newFixture(t, true, quoter)

	_, err := fx.manager.CalculateExpectedProfitWithBatching(context.Background(), twoHopOpportunity(), model.ChainEthereum)
	require.NoError(t, err)

	require.Len(t, quoter.requests, 1)
	reqs := quoter.requests[0]
	require.Len(t, reqs, 2)
	assert.Equal(t, QuoteRequest{Router: routerX, TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(1_000_000)}, reqs[0])
	// The sell leg reverses the pair and carries no input amount.
	assert.Equal(t, routerY, reqs[1].Router)
	assert.Equal(t, tokenB, reqs[1].TokenIn)
	assert.Equal(t, tokenA, reqs[1].TokenOut)
	assert.Equal(t, int64(0), reqs[1].AmountIn.Int64())
}

func TestNHopRequestShape(t *testing.T) {
	quoter := &fakeQuoter{result: &PathResult{AllSuccess: true, ExpectedProfit: big.NewInt(1)}}
	fx := newFixture(t, true, quoter)

	_, err := fx.manager.CalculateExpectedProfitWithBatching(context.Background(), nHopOpportunity(), model.ChainEthereum)
	require.NoError(t, err)

	reqs := quoter.requests[0]
	require.Len(t, reqs, 3)
	assert.Equal(t, int64(500), reqs[0].AmountIn.Int64())
	assert.Equal(t, int64(0), reqs[1].AmountIn.Int64())
	assert.Equal(t, int64(0), reqs[2].AmountIn.Int64())
	assert.Equal(t, tokenC, reqs[2].TokenIn)
}

func TestFallbackWhenFlagOff(t *testing.T) {
	quoter := &fakeQuoter{result: &PathResult{AllSuccess: true, ExpectedProfit: big.NewInt(999)}}
	fx := newFixture(t, false, quoter)

	est, err := fx.manager.CalculateExpectedProfitWithBatching(context.Background(), twoHopOpportunity(), model.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, int64(111), est.ExpectedProfit.Int64())
	assert.Equal(t, 1, fx.sequentialCalls)
	assert.Empty(t, quoter.requests)
}

func TestFallbackWhenNoQuoterForChain(t *testing.T) {
	fx := newFixture(t, true, nil)

	est, err := fx.manager.CalculateExpectedProfitWithBatching(context.Background(), twoHopOpportunity(), model.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, int64(111), est.ExpectedProfit.Int64())
	assert.Equal(t, 1, fx.sequentialCalls)
}

func TestFallbackOnQuoterError(t *testing.T) {
	quoter := &fakeQuoter{err: errors.New("quoter exploded")}
	fx := newFixture(t, true, quoter)

	est, err := fx.manager.CalculateExpectedProfitWithBatching(context.Background(), twoHopOpportunity(), model.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, int64(111), est.ExpectedProfit.Int64())
	assert.Equal(t, 1, fx.sequentialCalls)
}

func TestFallbackWhenNotAllHopsSucceed(t *testing.T) {
	quoter := &fakeQuoter{result: &PathResult{AllSuccess: false}}
	fx := newFixture(t, true, quoter)

	est, err := fx.manager.CalculateExpectedProfitWithBatching(context.Background(), twoHopOpportunity(), model.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, int64(111), est.ExpectedProfit.Int64())
	assert.Equal(t, 1, fx.sequentialCalls)
}

func TestFallbackOnMissingRouter(t *testing.T) {
	quoter := &fakeQuoter{result: &PathResult{AllSuccess: true, ExpectedProfit: big.NewInt(999)}}
	fx := newFixture(t, true, quoter)

	opp := nHopOpportunity()
	opp.Path[1].Router = ""
	est, err := fx.manager.CalculateExpectedProfitWithBatching(context.Background(), opp, model.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, int64(111), est.ExpectedProfit.Int64())
	assert.Equal(t, 1, fx.sequentialCalls)
	assert.Empty(t, quoter.requests, "quoter is never reached when request building fails")
}
