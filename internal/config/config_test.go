package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

const sampleYAML = `
instance:
  name: engine-1
  env: test
redis:
  addr: localhost:6379
chains:
  ethereum:
    url: https://eth.example
    chain_id: 1
    private_key: ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80
  bsc:
    url: https://bsc.example
    chain_id: 56
flash_loan_providers:
  ethereum:
    protocol: aave_v3
    contract: "0x1111111111111111111111111111111111111111"
    approved_routers:
      - "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
  bsc:
    protocol: pancakeswap_v3
    contract: "0x2222222222222222222222222222222222222222"
    factory: "0x3333333333333333333333333333333333333333"
    fee_tier: 2500
queue:
  max_size: 10
  high_water_mark: 8
  low_water_mark: 3
circuit_breaker:
  enabled: true
  failure_threshold: 3
  cooldown_period_ms: 300000
lock_conflict_tracker:
  conflict_threshold: 3
  window_ms: 60000
  min_age_ms: 30000
  max_entries: 1000
health:
  interval_ms: 30000
  stale_pending_cleanup_interval_ms: 0
consumer:
  stream: opportunities
  group: execution-engine
execution:
  workers: 2
  timeout_ms: 45000
features:
  use_batched_quoter: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadParsesAndConverts(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "engine-1", cfg.Instance.Name)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, int64(1), cfg.Chains[model.ChainEthereum].ChainID)
	assert.Equal(t, "aave_v3", cfg.FlashLoans[model.ChainEthereum].Protocol)
	assert.Equal(t, int64(2500), cfg.FlashLoans[model.ChainBSC].FeeTier)

	q := cfg.QueueConfig()
	assert.Equal(t, 10, q.MaxSize)
	assert.Equal(t, 8, q.HighWaterMark)

	b := cfg.BreakerConfig()
	assert.True(t, b.Enabled)
	assert.Equal(t, 3, b.FailureThreshold)
	assert.Equal(t, 5*time.Minute, b.CooldownPeriod)

	tr := cfg.TrackerConfig()
	assert.Equal(t, time.Minute, tr.Window)
	assert.Equal(t, 30*time.Second, tr.MinAge)

	assert.Equal(t, 45*time.Second, cfg.ExecutionTimeout())
	assert.Equal(t, 90*time.Second, cfg.LockTTL(), "defaults to twice the execution timeout")
	assert.Equal(t, 2, cfg.Workers())
	assert.True(t, cfg.Features.UseBatchedQuoter)
	assert.Zero(t, cfg.HealthConfig().StalePendingCleanupInterval)
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsIncompleteConfigs(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no redis", "chains:\n  ethereum:\n    url: https://x\n    chain_id: 1\nconsumer:\n  stream: s\n  group: g\n"},
		{"no chains", "redis:\n  addr: localhost:6379\nconsumer:\n  stream: s\n  group: g\n"},
		{"chain without url", "redis:\n  addr: localhost:6379\nchains:\n  ethereum:\n    chain_id: 1\nconsumer:\n  stream: s\n  group: g\n"},
		{"no consumer group", "redis:\n  addr: localhost:6379\nchains:\n  ethereum:\n    url: https://x\n    chain_id: 1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}

	t.Run("bad queue marks", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, sampleYAML))
		require.NoError(t, err)
		cfg.Queue.LowWaterMark = 9 // above the high mark
		assert.Error(t, cfg.QueueConfig().Validate())
	})
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("WALLET_PRIVATE_KEY", "deadbeef")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	// Only chains without an explicit key inherit the env key.
	assert.Equal(t, "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
		cfg.Chains[model.ChainEthereum].PrivateKey)
	assert.Equal(t, "deadbeef", cfg.Chains[model.ChainBSC].PrivateKey)
}
