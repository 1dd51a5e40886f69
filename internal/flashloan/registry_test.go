package flashloan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

func testTable() map[model.Chain]ProviderConfig {
	return map[model.Chain]ProviderConfig{
		model.ChainEthereum: {
			Protocol: "aave_v3",
			Contract: wrapperAddr,
		},
		model.ChainZkSync: {
			Protocol: "syncswap",
			Contract: "0x3333333333333333333333333333333333333333",
		},
		model.ChainBSC: {
			Protocol:        "pancakeswap_v3",
			Contract:        "0x4444444444444444444444444444444444444444",
			Factory:         "0x5555555555555555555555555555555555555555",
			FeeTier:         2500,
			ApprovedRouters: []string{routerUni},
		},
		model.ChainArbitrum: {
			Protocol: "balancer_v2",
			Contract: "0x0000000000000000000000000000000000000000", // explicit zero: misconfig
		},
		model.ChainPolygon: {
			Protocol: "aave_v3", // address missing entirely
		},
		model.ChainBase: {
			Protocol: "dodo_v2", // unknown protocol
			FeeBps:   6,
		},
	}
}

func TestRegistryConstructsAndCaches(t *testing.T) {
	r := NewRegistry(testTable(), nil, nil, nil)

	p := r.Provider(model.ChainEthereum)
	require.NotNil(t, p)
	assert.Equal(t, ProtocolAaveV3, p.Protocol())
	assert.Same(t, p, r.Provider(model.ChainEthereum), "second lookup must hit the cache")

	sync := r.Provider(model.ChainZkSync)
	require.NotNil(t, sync)
	assert.Equal(t, ProtocolSyncSwap, sync.Protocol())

	pancake := r.Provider(model.ChainBSC)
	require.NotNil(t, pancake)
	assert.Equal(t, ProtocolPancakeSwapV3, pancake.Protocol())
}

func TestRegistryRejectsUnexecutableConfigs(t *testing.T) {
	r := NewRegistry(testTable(), nil, nil, nil)

	assert.Nil(t, r.Provider(model.ChainArbitrum), "all-zeros wrapper address")
	assert.Nil(t, r.Provider(model.ChainPolygon), "missing wrapper address")
	assert.Nil(t, r.Provider(model.ChainOptimism), "chain not in table")
}

func TestRegistryRequiresDaiFlashMintReceiver(t *testing.T) {
	daiCfg := func(receiver string) map[model.Chain]ProviderConfig {
		return map[model.Chain]ProviderConfig{
			model.ChainEthereum: {
				Protocol: "dai_flash_mint",
				Pool:     "0x6666666666666666666666666666666666666666",
				Receiver: receiver,
			},
		}
	}

	r := NewRegistry(daiCfg(""), nil, nil, nil)
	assert.Nil(t, r.Provider(model.ChainEthereum), "missing receiver")

	r = NewRegistry(daiCfg("0x0000000000000000000000000000000000000000"), nil, nil, nil)
	assert.Nil(t, r.Provider(model.ChainEthereum), "zero receiver would be encoded into calldata")

	r = NewRegistry(daiCfg("0x7777777777777777777777777777777777777777"), nil, nil, nil)
	p := r.Provider(model.ChainEthereum)
	require.NotNil(t, p)
	assert.Equal(t, ProtocolDaiFlashMint, p.Protocol())
}

func TestRegistryUnknownProtocolFallsBackToUnsupported(t *testing.T) {
	r := NewRegistry(testTable(), nil, nil, nil)

	p := r.Provider(model.ChainBase)
	require.NotNil(t, p)
	assert.Equal(t, ProtocolUnsupported, p.Protocol())
	assert.Equal(t, StatusNotImplemented, p.Capabilities().Status)

	// Configured fee bps flows into fee math.
	assert.Equal(t, int64(6), p.CalculateFee(nil).FeeBps)
}

func TestRegistrySupportReporting(t *testing.T) {
	r := NewRegistry(testTable(), nil, nil, nil)

	assert.Equal(t, StatusFullySupported, r.SupportStatus(model.ChainEthereum))
	assert.Equal(t, StatusNotImplemented, r.SupportStatus(model.ChainBase))
	assert.Equal(t, StatusNotImplemented, r.SupportStatus(model.ChainPolygon))

	chains := r.FullySupportedChains()
	assert.Equal(t, []model.Chain{model.ChainBSC, model.ChainEthereum, model.ChainZkSync}, chains)

	summary := r.SupportSummary()
	assert.Equal(t, "aave_v3", summary[model.ChainEthereum]["protocol"])
	assert.Equal(t, string(StatusFullySupported), summary[model.ChainEthereum]["status"])
	assert.Equal(t, string(StatusNotImplemented), summary[model.ChainBase]["status"])
}
