package engine

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopspring/decimal"

	"github.com/sonicx222/arbitrage-new-sub003/internal/config"
	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

func TestRiskGateLimits(t *testing.T) {
	gate, err := newRiskGate(config.RiskConfig{
		MaxPositionWei:      map[model.Chain]string{model.ChainEthereum: "1000000"},
		MinConfidence:       0.5,
		MinNetProfitUSD:     "25",
		MaxOpportunityAgeMs: 30_000,
	})
	require.NoError(t, err)
	base := time.UnixMilli(1_700_000_000_000)
	gate.now = func() time.Time { return base }

	fresh := func() *model.Opportunity {
		opp := opportunity()
		opp.Timestamp = base.UnixMilli()
		opp.Confidence = 0.9
		opp.ExpectedProfitUSD = decimal.NewFromInt(100)
		return opp
	}

	assert.Empty(t, gate.check(fresh()))

	old := fresh()
	old.Timestamp = base.Add(-31 * time.Second).UnixMilli()
	assert.Equal(t, "opportunity too old", gate.check(old))

	shaky := fresh()
	shaky.Confidence = 0.4
	assert.Contains(t, gate.check(shaky), "confidence")

	oversized := fresh()
	oversized.AmountIn = model.NewBigInt(big.NewInt(2_000_000))
	assert.Contains(t, gate.check(oversized), "exceeds chain limit")

	// Limits are per chain; other chains are unbounded.
	elsewhere := fresh()
	elsewhere.SourceChain = model.ChainArbitrum
	elsewhere.AmountIn = model.NewBigInt(big.NewInt(2_000_000))
	assert.Empty(t, gate.check(elsewhere))

	thin := fresh()
	thin.ExpectedProfitUSD = decimal.NewFromInt(10)
	assert.Contains(t, gate.check(thin), "below floor")
}

func TestRiskGateRejectsBadConfig(t *testing.T) {
	_, err := newRiskGate(config.RiskConfig{
		MaxPositionWei: map[model.Chain]string{model.ChainEthereum: "lots"},
	})
	assert.Error(t, err)

	_, err = newRiskGate(config.RiskConfig{MinNetProfitUSD: "about five"})
	assert.Error(t, err)
}

func TestRiskGateZeroConfigPassesEverything(t *testing.T) {
	gate, err := newRiskGate(config.RiskConfig{})
	require.NoError(t, err)

	opp := opportunity()
	opp.Confidence = 0
	opp.Timestamp = 1 // ancient
	assert.Empty(t, gate.check(opp))
}
