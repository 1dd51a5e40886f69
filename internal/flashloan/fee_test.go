package flashloan

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "bad big int literal %q", s)
	return v
}

func TestProtocolFees(t *testing.T) {
	oneEth := bigFromString(t, "1000000000000000000")

	aave := newAaveV3Provider(model.ChainEthereum, "0x00000000000000000000000000000000000000A1", nil, nil, nil)
	fee := aave.CalculateFee(oneEth)
	assert.Equal(t, int64(9), fee.FeeBps)
	assert.Equal(t, "900000000000000", fee.FeeAmount.String())
	assert.Equal(t, ProtocolAaveV3, fee.Protocol)

	balancer := newBalancerV2Provider(model.ChainEthereum, "0x00000000000000000000000000000000000000A2", nil, nil, nil)
	fee = balancer.CalculateFee(oneEth)
	assert.Equal(t, int64(0), fee.FeeBps)
	assert.Equal(t, "0", fee.FeeAmount.String())

	// 10_000 DAI at 1 bps is exactly 1 DAI.
	tenThousandDai := bigFromString(t, "10000000000000000000000")
	dai := newDaiFlashMintProvider(model.ChainEthereum,
		"0x00000000000000000000000000000000000000D1",
		"0x00000000000000000000000000000000000000D2", nil, nil, nil)
	fee = dai.CalculateFee(tenThousandDai)
	assert.Equal(t, int64(1), fee.FeeBps)
	assert.Equal(t, "1000000000000000000", fee.FeeAmount.String())

	syncswap := newSyncSwapProvider(model.ChainZkSync, "0x00000000000000000000000000000000000000A3", nil, nil, nil)
	assert.Equal(t, int64(30), syncswap.CalculateFee(oneEth).FeeBps)

	morpho := newMorphoProvider(model.ChainEthereum, "0x00000000000000000000000000000000000000B1", nil, nil, nil)
	assert.Equal(t, "0", morpho.CalculateFee(oneEth).FeeAmount.String())
}

func TestPancakeFeeTierConversion(t *testing.T) {
	cases := []struct {
		tier int64
		bps  int64
	}{
		{100, 1},
		{500, 5},
		{2500, 25},
		{10000, 100},
	}
	for _, tc := range cases {
		p := newPancakeProvider(model.ChainBSC, "0x00000000000000000000000000000000000000C1",
			"0x00000000000000000000000000000000000000F1", tc.tier,
			[]string{"0x00000000000000000000000000000000000000E1"}, nil, nil, nil)
		assert.Equal(t, tc.bps, p.CalculateFee(big.NewInt(10_000)).FeeBps, "tier %d", tc.tier)
	}
}

// Property: for any amount >= 0 and feeBps in [0, 10000], the fee never
// exceeds the amount, with equality only at 10_000 bps.
func TestFeeNeverExceedsAmount(t *testing.T) {
	amounts := []string{"0", "1", "9999", "1000000000000000000", "123456789123456789123456789"}
	for _, raw := range amounts {
		amount := bigFromString(t, raw)
		for _, bps := range []int64{0, 1, 9, 30, 100, 5000, 9999, 10000} {
			base := baseProvider{feeBps: bps, protocol: ProtocolAaveV3}
			fee := base.CalculateFee(amount)
			cmp := fee.FeeAmount.Cmp(amount)
			assert.LessOrEqual(t, cmp, 0, "amount=%s bps=%d", raw, bps)
			if cmp == 0 && amount.Sign() > 0 {
				assert.Equal(t, int64(10000), bps)
			}
		}
	}
}

func TestCalculateFeeNilAmount(t *testing.T) {
	aave := newAaveV3Provider(model.ChainEthereum, "0x00000000000000000000000000000000000000A1", nil, nil, nil)
	fee := aave.CalculateFee(nil)
	assert.Equal(t, "0", fee.FeeAmount.String())
}
