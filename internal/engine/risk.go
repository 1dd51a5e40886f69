package engine

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sonicx222/arbitrage-new-sub003/internal/config"
	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// riskGate screens opportunities against position, confidence, staleness
// and profit floors before any capital is committed. A rejection is local:
// it never touches the chain's circuit breaker.
type riskGate struct {
	maxPosition   map[model.Chain]*big.Int
	minConfidence float64
	minNetProfit  decimal.Decimal
	maxAge        time.Duration
	now           func() time.Time
}

func newRiskGate(cfg config.RiskConfig) (*riskGate, error) {
	g := &riskGate{
		maxPosition:   make(map[model.Chain]*big.Int),
		minConfidence: cfg.MinConfidence,
		maxAge:        time.Duration(cfg.MaxOpportunityAgeMs) * time.Millisecond,
		now:           time.Now,
	}
	for chain, raw := range cfg.MaxPositionWei {
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("risk.max_position_wei.%s: invalid amount %q", chain, raw)
		}
		g.maxPosition[chain] = v
	}
	if cfg.MinNetProfitUSD != "" {
		v, err := decimal.NewFromString(cfg.MinNetProfitUSD)
		if err != nil {
			return nil, fmt.Errorf("risk.min_net_profit_usd: %w", err)
		}
		g.minNetProfit = v
	}
	return g, nil
}

// check returns a non-empty rejection reason, or "" when the opportunity
// passes every limit.
func (g *riskGate) check(opp *model.Opportunity) string {
	if g.maxAge > 0 && opp.Age(g.now()) > g.maxAge {
		return "opportunity too old"
	}
	if g.minConfidence > 0 && opp.Confidence < g.minConfidence {
		return fmt.Sprintf("confidence %.2f below floor %.2f", opp.Confidence, g.minConfidence)
	}
	if limit := g.maxPosition[opp.SourceChain]; limit != nil && opp.AmountIn.Big().Cmp(limit) > 0 {
		return fmt.Sprintf("position %s exceeds chain limit %s", opp.AmountIn.String(), limit.String())
	}
	if !g.minNetProfit.IsZero() && opp.ExpectedProfitUSD.LessThan(g.minNetProfit) {
		return fmt.Sprintf("expected profit %s USD below floor %s", opp.ExpectedProfitUSD, g.minNetProfit)
	}
	return ""
}
