// Package config loads and validates the engine's YAML configuration.
// Durations are expressed in milliseconds in the file; accessor methods
// convert them into the typed configs the individual packages take.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sonicx222/arbitrage-new-sub003/internal/breaker"
	"github.com/sonicx222/arbitrage-new-sub003/internal/flashloan"
	"github.com/sonicx222/arbitrage-new-sub003/internal/health"
	"github.com/sonicx222/arbitrage-new-sub003/internal/locks"
	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
	"github.com/sonicx222/arbitrage-new-sub003/internal/queue"
	"github.com/sonicx222/arbitrage-new-sub003/internal/rpc"
	"github.com/sonicx222/arbitrage-new-sub003/internal/simulation"
)

type Config struct {
	Instance   InstanceConfig                           `yaml:"instance"`
	Redis      RedisConfig                              `yaml:"redis"`
	Chains     map[model.Chain]rpc.Endpoint             `yaml:"chains"`
	FlashLoans map[model.Chain]flashloan.ProviderConfig `yaml:"flash_loan_providers"`
	Queue      queue.Config                             `yaml:"queue"`
	Breaker    BreakerConfig                            `yaml:"circuit_breaker"`
	Tracker    TrackerConfig                            `yaml:"lock_conflict_tracker"`
	Locks      LocksConfig                              `yaml:"locks"`
	Health     HealthConfig                             `yaml:"health"`
	BatchRPC   BatchRPCConfig                           `yaml:"batch_rpc"`
	Simulation SimulationConfig                         `yaml:"simulation"`
	Consumer   ConsumerConfig                           `yaml:"consumer"`
	Execution  ExecutionConfig                          `yaml:"execution"`
	Risk       RiskConfig                               `yaml:"risk"`
	Features   FeatureFlags                             `yaml:"features"`
	Metrics    MetricsConfig                            `yaml:"metrics"`
}

type InstanceConfig struct {
	Name string `yaml:"name"`
	Env  string `yaml:"env"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type BreakerConfig struct {
	Enabled             bool  `yaml:"enabled"`
	FailureThreshold    int   `yaml:"failure_threshold"`
	CooldownPeriodMs    int64 `yaml:"cooldown_period_ms"`
	HalfOpenMaxAttempts int   `yaml:"half_open_max_attempts"`
}

type TrackerConfig struct {
	ConflictThreshold int   `yaml:"conflict_threshold"`
	WindowMs          int64 `yaml:"window_ms"`
	MinAgeMs          int64 `yaml:"min_age_ms"`
	MaxEntries        int   `yaml:"max_entries"`
}

type LocksConfig struct {
	TTLMs int64 `yaml:"ttl_ms"`
}

type HealthConfig struct {
	IntervalMs                    int64  `yaml:"interval_ms"`
	StalePendingCleanupIntervalMs int64  `yaml:"stale_pending_cleanup_interval_ms"`
	ServiceName                   string `yaml:"service_name"`
	HealthKey                     string `yaml:"health_key"`
	HealthKeyTTLMs                int64  `yaml:"health_key_ttl_ms"`
}

type BatchRPCConfig struct {
	Enabled        bool  `yaml:"enabled"`
	MaxBatchSize   int   `yaml:"max_batch_size"`
	BatchTimeoutMs int64 `yaml:"batch_timeout_ms"`
	MaxQueueSize   int   `yaml:"max_queue_size"`
}

type SimulationConfig struct {
	Endpoints        []string `yaml:"endpoints"`
	RequestTimeoutMs int64    `yaml:"request_timeout_ms"`
}

type ConsumerConfig struct {
	Stream    string `yaml:"stream"`
	Group     string `yaml:"group"`
	BlockMs   int64  `yaml:"block_ms"`
	BatchSize int64  `yaml:"batch_size"`
}

type ExecutionConfig struct {
	Workers       int   `yaml:"workers"`
	TimeoutMs     int64 `yaml:"timeout_ms"`
	GasSpikeRatio int   `yaml:"gas_spike_ratio"`
}

type RiskConfig struct {
	MaxPositionWei      map[model.Chain]string `yaml:"max_position_wei"`
	MinConfidence       float64                `yaml:"min_confidence"`
	MinNetProfitUSD     string                 `yaml:"min_net_profit_usd"`
	MaxOpportunityAgeMs int64                  `yaml:"max_opportunity_age_ms"`
}

type FeatureFlags struct {
	UseBatchedQuoter bool `yaml:"use_batched_quoter"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads and validates the config file. A missing file is fatal for
// the caller: the engine refuses to start without configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays secrets that must not live in the file. Non-empty
// environment values win.
func (c *Config) applyEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("WALLET_PRIVATE_KEY"); v != "" {
		for chain, ep := range c.Chains {
			if ep.PrivateKey == "" {
				ep.PrivateKey = v
				c.Chains[chain] = ep
			}
		}
	}
}

func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	for chain, ep := range c.Chains {
		if ep.URL == "" {
			return fmt.Errorf("chains.%s.url is required", chain)
		}
		if ep.ChainID == 0 {
			return fmt.Errorf("chains.%s.chain_id is required", chain)
		}
	}
	if err := c.QueueConfig().Validate(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if c.Consumer.Stream == "" || c.Consumer.Group == "" {
		return fmt.Errorf("consumer.stream and consumer.group are required")
	}
	return nil
}

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

// QueueConfig returns the queue bounds, defaulted when absent.
func (c *Config) QueueConfig() queue.Config {
	q := c.Queue
	if q.MaxSize == 0 {
		q = queue.Config{MaxSize: 100, HighWaterMark: 80, LowWaterMark: 30}
	}
	return q
}

func (c *Config) BreakerConfig() breaker.Config {
	out := breaker.DefaultConfig()
	out.Enabled = c.Breaker.Enabled
	if c.Breaker.FailureThreshold > 0 {
		out.FailureThreshold = c.Breaker.FailureThreshold
	}
	if c.Breaker.CooldownPeriodMs > 0 {
		out.CooldownPeriod = ms(c.Breaker.CooldownPeriodMs)
	}
	if c.Breaker.HalfOpenMaxAttempts > 0 {
		out.HalfOpenMaxAttempts = c.Breaker.HalfOpenMaxAttempts
	}
	return out
}

func (c *Config) TrackerConfig() locks.TrackerConfig {
	out := locks.DefaultTrackerConfig()
	if c.Tracker.ConflictThreshold > 0 {
		out.ConflictThreshold = c.Tracker.ConflictThreshold
	}
	if c.Tracker.WindowMs > 0 {
		out.Window = ms(c.Tracker.WindowMs)
	}
	if c.Tracker.MinAgeMs > 0 {
		out.MinAge = ms(c.Tracker.MinAgeMs)
	}
	if c.Tracker.MaxEntries > 0 {
		out.MaxEntries = c.Tracker.MaxEntries
	}
	return out
}

// LockTTL is the execution-lock expiry; defaults to twice the execution
// timeout so a crashed holder's lock outlives any live attempt.
func (c *Config) LockTTL() time.Duration {
	if c.Locks.TTLMs > 0 {
		return ms(c.Locks.TTLMs)
	}
	return 2 * c.ExecutionTimeout()
}

func (c *Config) HealthConfig() health.Config {
	out := health.DefaultConfig()
	if c.Health.IntervalMs > 0 {
		out.Interval = ms(c.Health.IntervalMs)
	}
	out.StalePendingCleanupInterval = ms(c.Health.StalePendingCleanupIntervalMs)
	if c.Health.ServiceName != "" {
		out.ServiceName = c.Health.ServiceName
	}
	if c.Health.HealthKey != "" {
		out.HealthKey = c.Health.HealthKey
	}
	if c.Health.HealthKeyTTLMs > 0 {
		out.HealthKeyTTL = ms(c.Health.HealthKeyTTLMs)
	}
	return out
}

func (c *Config) BatchRPCConfig() rpc.BatchConfig {
	out := rpc.DefaultBatchConfig()
	out.Enabled = c.BatchRPC.Enabled
	if c.BatchRPC.MaxBatchSize > 0 {
		out.MaxBatchSize = c.BatchRPC.MaxBatchSize
	}
	if c.BatchRPC.BatchTimeoutMs > 0 {
		out.BatchTimeout = ms(c.BatchRPC.BatchTimeoutMs)
	}
	if c.BatchRPC.MaxQueueSize > 0 {
		out.MaxQueueSize = c.BatchRPC.MaxQueueSize
	}
	return out
}

func (c *Config) SimulationConfig() simulation.Config {
	return simulation.Config{
		Endpoints:      c.Simulation.Endpoints,
		RequestTimeout: ms(c.Simulation.RequestTimeoutMs),
	}
}

// ExecutionTimeout is the per-attempt deadline guard.
func (c *Config) ExecutionTimeout() time.Duration {
	if c.Execution.TimeoutMs > 0 {
		return ms(c.Execution.TimeoutMs)
	}
	return 60 * time.Second
}

// Workers is the execution pool size.
func (c *Config) Workers() int {
	if c.Execution.Workers > 0 {
		return c.Execution.Workers
	}
	return 4
}
