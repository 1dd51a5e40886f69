// Package health runs the engine's periodic self-observation loop: each
// tick it assembles a health record, publishes it, and trims the bounded
// caches (gas baselines, lock-conflict entries). A tick must never fail as
// a whole; every step is recovered individually.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sonicx222/arbitrage-new-sub003/internal/events"
	"github.com/sonicx222/arbitrage-new-sub003/internal/locks"
	"github.com/sonicx222/arbitrage-new-sub003/internal/simulation"
	"github.com/sonicx222/arbitrage-new-sub003/internal/stats"
)

// Simulation status values derived each tick.
const (
	SimulationNotConfigured = "not_configured"
	SimulationHealthy       = "healthy"
	SimulationDegraded      = "degraded"
)

// Config tunes the monitor's timers.
type Config struct {
	Interval time.Duration
	// StalePendingCleanupInterval drives the separate stale-pending reclaim
	// timer; 0 disables it.
	StalePendingCleanupInterval time.Duration
	ServiceName                 string
	HealthKey                   string
	HealthKeyTTL                time.Duration
}

// DefaultConfig matches production intervals.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		ServiceName:  "execution-engine",
		HealthKey:    "service-health:execution-engine",
		HealthKeyTTL: 90 * time.Second,
	}
}

// Record is the health document published each tick.
type Record struct {
	Service              string         `json:"service"`
	Name                 string         `json:"name"`
	Status               string         `json:"status"`
	QueueSize            int            `json:"queueSize"`
	QueuePaused          bool           `json:"queuePaused"`
	ActiveExecutions     int            `json:"activeExecutions"`
	PendingOpportunities int            `json:"pendingOpportunities"`
	Stats                stats.Snapshot `json:"stats"`
	SimulationStatus     string         `json:"simulationStatus"`
	Timestamp            int64          `json:"timestamp"`
}

// SimulationHealth exposes the simulation client's per-endpoint snapshot.
// A nil value means simulation is not configured.
type SimulationHealth interface {
	HealthSnapshot() []simulation.ProviderHealth
}

// Sources bundles the live state the monitor reads each tick. Function
// fields keep the monitor decoupled from the coordinator's internals; any
// nil field is simply skipped.
type Sources struct {
	InstanceName         string
	QueueSize            func() int
	QueuePaused          func() bool
	ActiveExecutions     func() int
	PendingOpportunities func() int
	Stats                *stats.ExecutionStats
	Simulation           SimulationHealth
	Tracker              *locks.ConflictTracker
	Baselines            *BaselineStore
	// StaleCleaner reclaims consumer messages pending longer than the
	// configured interval. Driven by the second timer.
	StaleCleaner func(ctx context.Context)
}

// Monitor owns the tick timers.
type Monitor struct {
	cfg       Config
	sources   Sources
	publisher *events.Publisher
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor wires a monitor; Start launches its timers.
func NewMonitor(cfg Config, sources Sources, publisher *events.Publisher, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultConfig().ServiceName
	}
	if cfg.HealthKey == "" {
		cfg.HealthKey = DefaultConfig().HealthKey
	}
	if cfg.HealthKeyTTL <= 0 {
		cfg.HealthKeyTTL = DefaultConfig().HealthKeyTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:       cfg,
		sources:   sources,
		publisher: publisher,
		logger:    logger.With("component", "health"),
	}
}

// Start launches the tick loop and, when configured, the stale-pending
// cleanup loop. Idempotent.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		var staleC <-chan time.Time
		if m.cfg.StalePendingCleanupInterval > 0 && m.sources.StaleCleaner != nil {
			staleTicker := time.NewTicker(m.cfg.StalePendingCleanupInterval)
			defer staleTicker.Stop()
			staleC = staleTicker.C
		}

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.Tick(loopCtx)
			case <-staleC:
				m.runStep("stalePendingCleanup", func() {
					m.sources.StaleCleaner(loopCtx)
				})
			}
		}
	}()
}

// Stop cancels the timers and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Tick runs one health cycle. Each step is recovered on its own so one
// failing step cannot starve the others.
func (m *Monitor) Tick(ctx context.Context) {
	start := time.Now()
	var record Record

	m.runStep("assembleRecord", func() {
		record = m.assembleRecord()
	})
	m.runStep("publishHealth", func() {
		if m.publisher != nil {
			m.publisher.Emit(events.StreamHealth, "health", record)
		}
	})
	m.runStep("updateHealthKey", func() {
		if m.publisher != nil {
			m.publisher.SetServiceHealth(ctx, m.cfg.HealthKey, record, m.cfg.HealthKeyTTL)
		}
	})
	m.runStep("trimGasBaselines", func() {
		if m.sources.Baselines != nil {
			m.sources.Baselines.Trim()
		}
	})
	m.runStep("trackerCleanup", func() {
		if m.sources.Tracker != nil {
			m.sources.Tracker.Cleanup()
		}
	})
	m.runStep("perfLog", func() {
		m.logger.Debug("health check complete",
			"durationMs", time.Since(start).Milliseconds(),
			"queueSize", record.QueueSize,
			"queuePaused", record.QueuePaused,
			"simulationStatus", record.SimulationStatus)
	})
}

func (m *Monitor) assembleRecord() Record {
	record := Record{
		Service:          m.cfg.ServiceName,
		Name:             m.sources.InstanceName,
		Status:           "running",
		SimulationStatus: m.simulationStatus(),
		Timestamp:        time.Now().UnixMilli(),
	}
	if m.sources.QueueSize != nil {
		record.QueueSize = m.sources.QueueSize()
	}
	if m.sources.QueuePaused != nil {
		record.QueuePaused = m.sources.QueuePaused()
		if record.QueuePaused {
			record.Status = "paused"
		}
	}
	if m.sources.ActiveExecutions != nil {
		record.ActiveExecutions = m.sources.ActiveExecutions()
	}
	if m.sources.PendingOpportunities != nil {
		record.PendingOpportunities = m.sources.PendingOpportunities()
	}
	if m.sources.Stats != nil {
		record.Stats = m.sources.Stats.Snapshot()
	}
	return record
}

func (m *Monitor) simulationStatus() string {
	if m.sources.Simulation == nil {
		return SimulationNotConfigured
	}
	snapshot := m.sources.Simulation.HealthSnapshot()
	if len(snapshot) == 0 {
		return SimulationNotConfigured
	}
	for _, provider := range snapshot {
		if provider.Healthy {
			return SimulationHealthy
		}
	}
	return SimulationDegraded
}

func (m *Monitor) runStep(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health step failed", "step", name, "panic", r)
		}
	}()
	fn()
}
